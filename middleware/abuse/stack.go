package abuse

import (
	"log"
	"net/http"
	"time"

	"sentinela-gateway/middleware/abuse/application"
	"sentinela-gateway/middleware/abuse/domain"
	"sentinela-gateway/middleware/abuse/infra"
	"sentinela-gateway/middleware/abuse/policy"
)

// Stack materializa a tabela de política em stores e limiters prontos,
// construída explicitamente com ciclo de vida definido (nada de estado
// global de processo): uma por servidor, várias por suíte de teste.
type Stack struct {
	Table policy.Table
	Clock domain.Clock

	Patterns   *infra.PatternStore
	Hits       *infra.HitWindowStore
	Violations *infra.ViolationStore

	windows     map[policy.Class]*infra.FixedWindowStore
	limiters    map[policy.Class]*application.WindowLimiter
	progWindows *infra.FixedWindowStore
	progressive *application.ProgressiveLimiter
	failures    *application.FailureTracker

	Stats  domain.StatsStore
	Logger *log.Logger
}

type StackOption func(*Stack)

func WithStackClock(c domain.Clock) StackOption {
	return func(s *Stack) { s.Clock = c }
}

func WithStackStats(st domain.StatsStore) StackOption {
	return func(s *Stack) { s.Stats = st }
}

func WithStackLogger(l *log.Logger) StackOption {
	return func(s *Stack) { s.Logger = l }
}

// NewStack monta os stores compartilhados e um limiter por classe da
// tabela. A resolução classe->limiter acontece aqui, uma vez.
func NewStack(t policy.Table, opts ...StackOption) *Stack {
	s := &Stack{
		Table:    t,
		Clock:    infra.SystemClock{},
		windows:  make(map[policy.Class]*infra.FixedWindowStore),
		limiters: make(map[policy.Class]*application.WindowLimiter),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Patterns = infra.NewPatternStore(
		infra.WithRetention(t.Retention.D()),
		infra.WithSweepEvery(t.SweepEvery.D()),
		infra.WithPatternClock(s.Clock),
		infra.WithPatternLogger(s.Logger),
	)
	s.Hits = infra.NewHitWindowStore(t.Tripwire.Window.D())
	s.Violations = infra.NewViolationStore(t.Progressive.ViolationWindow.D())

	for class, w := range t.Classes {
		ws := infra.NewFixedWindowStore(w.Window.D())
		s.windows[class] = ws
		code, message, failuresOnly := classContract(class)
		s.limiters[class] = &application.WindowLimiter{
			Windows:           ws,
			Clock:             s.Clock,
			Limit:             w.Limit,
			Code:              code,
			Message:           message,
			CountFailuresOnly: failuresOnly,
		}
	}

	s.progWindows = infra.NewFixedWindowStore(t.Progressive.Window.D())
	s.progressive = &application.ProgressiveLimiter{
		Windows:      s.progWindows,
		Violations:   s.Violations,
		Clock:        s.Clock,
		Base:         t.Progressive.Base,
		Reduced:      t.Progressive.Reduced,
		Floor:        t.Progressive.Floor,
		ReducedAfter: t.Progressive.ReducedAfter,
		FloorAfter:   t.Progressive.FloorAfter,
	}

	s.failures = &application.FailureTracker{
		Patterns:      s.Patterns,
		Hits:          s.Hits,
		Clock:         s.Clock,
		HintThreshold: t.HintThreshold,
		TripLimit:     t.Tripwire.Limit,
		TripWindow:    t.Tripwire.Window.D(),
		TripBlock:     t.Tripwire.Block.D(),
	}

	return s
}

// classContract fixa código/mensagem/cobrança de cada classe.
func classContract(class policy.Class) (code, message string, failuresOnly bool) {
	switch class {
	case policy.ClassAuth:
		return domain.CodeAuthRateLimit,
			"muitas tentativas de autenticação; aguarde antes de tentar de novo", true
	case policy.ClassSession:
		return domain.CodeMeEndpointLimit,
			"muitas checagens de sessão na janela", false
	case policy.ClassStrict:
		return domain.CodeStrictRateLimit,
			"limite de operações sensíveis excedido", false
	default:
		return domain.CodeGeneralRateLimit,
			"limite de requisições excedido", false
	}
}

// Limiter devolve o limiter de janela fixa da classe.
func (s *Stack) Limiter(class policy.Class) *application.WindowLimiter {
	return s.limiters[class]
}

// Progressive devolve o limiter de teto dinâmico compartilhado.
func (s *Stack) Progressive() *application.ProgressiveLimiter { return s.progressive }

// Failures devolve o rastreador de falhas compartilhado.
func (s *Stack) Failures() *application.FailureTracker { return s.failures }

// Middleware monta o gatekeeper da classe. Classes sensíveis (auth,
// session, strict) carregam rastreio de falha e limiter progressivo; o
// classificador de cadência fica restrito à checagem de sessão (tráfego
// tagarela legítimo, ex: listagens, não deve gerar falso-positivo) e às
// operações estritas.
func (s *Stack) Middleware(class policy.Class, key KeyFunc) func(next http.Handler) http.Handler {
	opts := Options{
		KeyFn:  key,
		Clock:  s.Clock,
		Stats:  s.Stats,
		Logger: s.Logger,
	}

	if lim := s.limiters[class]; lim != nil {
		opts.Limiters = append(opts.Limiters, lim)
		if lim.CountFailuresOnly {
			opts.FailureCharged = append(opts.FailureCharged, lim)
		}
	}

	switch class {
	case policy.ClassSession:
		opts.Limiters = append(opts.Limiters, s.progressive)
		opts.Failures = s.failures
		opts.Violations = s.Violations
		opts.Tripwire = true
		opts.Classifier = &application.Classifier{
			Patterns: s.Patterns,
			Clock:    s.Clock,
			Config: application.ClassifierConfig{
				Burst:           s.Table.LoopDetector.Burst.D(),
				CoolDown:        s.Table.LoopDetector.CoolDown.D(),
				EscalationLimit: s.Table.LoopDetector.EscalationLimit,
				BlockDuration:   s.Table.LoopDetector.BlockDuration.D(),
			},
		}
	case policy.ClassAuth:
		opts.Limiters = append(opts.Limiters, s.progressive)
		opts.Failures = s.failures
		opts.Violations = s.Violations
	case policy.ClassStrict:
		opts.Failures = s.failures
		opts.Violations = s.Violations
		opts.Classifier = &application.Classifier{
			Patterns: s.Patterns,
			Clock:    s.Clock,
			Config: application.ClassifierConfig{
				Burst:           s.Table.Detector.Burst.D(),
				CoolDown:        s.Table.Detector.CoolDown.D(),
				EscalationLimit: s.Table.Detector.EscalationLimit,
				BlockDuration:   s.Table.Detector.BlockDuration.D(),
			},
		}
	}

	return Middleware(opts)
}

// StartJanitors dispara as varreduras periódicas de todos os stores
// por chave: patterns, janelas fixas de cada classe, janela progressiva,
// trip-wire e violações. Pare cancelando o contexto.
//
// Sem isso, todo cliente visto uma única vez deixaria entradas órfãs
// nos mapas (a expiração preguiçosa só roda para chaves relidas) e a
// memória cresceria sem teto num gateway chaveado por IP.
func (s *Stack) StartJanitors(ctx infra.DoneContext) {
	s.Patterns.StartJanitor(ctx)

	if s.Table.SweepEvery.D() <= 0 {
		return
	}
	t := time.NewTicker(s.Table.SweepEvery.D())
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.sweepCycle()
			}
		}
	}()
}

// Sweep varre os stores auxiliares uma vez, removendo janelas vencidas e
// chaves ociosas. Devolve quantas entradas foram descartadas.
func (s *Stack) Sweep(now time.Time) int {
	removed := 0
	for _, ws := range s.windows {
		removed += ws.Sweep(now)
	}
	removed += s.progWindows.Sweep(now)
	removed += s.Hits.Sweep(now)
	removed += s.Violations.Sweep(now)
	return removed
}

func (s *Stack) sweepCycle() {
	defer func() {
		if rec := recover(); rec != nil && s.Logger != nil {
			s.Logger.Printf("abuse: sweep dos stores falhou: %v", rec)
		}
	}()
	s.Sweep(s.Clock.Now())
}
