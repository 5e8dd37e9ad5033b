package application

import (
	"time"

	"sentinela-gateway/middleware/abuse/domain"
)

// WindowLimiter é um limiter convencional de janela fixa, amarrado a uma
// classe de endpoint (auth, sessão, API geral, operações sensíveis).
//
// Com CountFailuresOnly, Check apenas espia o contador e o orçamento só é
// consumido depois, via ConsumeFailure: logins legítimos repetidos após
// um typo não pagam o mesmo preço que falhas repetidas.
type WindowLimiter struct {
	Windows domain.WindowStore
	Clock   domain.Clock

	Limit   int
	Code    string
	Message string

	CountFailuresOnly bool
}

// Check decide a admissão da chave na janela corrente.
func (l *WindowLimiter) Check(key domain.Key) domain.Decision {
	if l == nil || l.Windows == nil || l.Limit <= 0 {
		return domain.Allow()
	}
	now := l.Clock.Now()

	var count int
	var resetAt time.Time
	if l.CountFailuresOnly {
		count, resetAt = l.Windows.Peek(key, now)
		if count < l.Limit {
			return domain.Allow()
		}
	} else {
		count, resetAt = l.Windows.Incr(key, now)
		if count <= l.Limit {
			return domain.Allow()
		}
	}
	return domain.Decision{
		Allowed:    false,
		Verdict:    domain.VerdictBlock,
		Code:       l.Code,
		Message:    l.Message,
		RetryAfter: resetAt.Sub(now),
	}
}

// ConsumeFailure consome uma unidade do orçamento; chamado pelo gatekeeper
// após o handler quando a resposta falhou (status >= 400) e o limiter é
// CountFailuresOnly.
func (l *WindowLimiter) ConsumeFailure(key domain.Key) {
	if l == nil || l.Windows == nil || !l.CountFailuresOnly {
		return
	}
	l.Windows.Incr(key, l.Clock.Now())
}

// ProgressiveLimiter é uma janela fixa cujo teto encolhe conforme o
// histórico de violações do cliente: teto normal por padrão, reduzido e
// depois mínimo conforme violações se acumulam, restaurado quando a
// janela de violações expira.
type ProgressiveLimiter struct {
	Windows    domain.WindowStore
	Violations domain.ViolationStore
	Clock      domain.Clock

	Base    int // teto sem histórico (ex: 30)
	Reduced int // com poucas violações (ex: 10)
	Floor   int // reincidente (ex: 5)

	// ReducedAfter/FloorAfter: violações acumuladas que ativam cada teto.
	ReducedAfter int
	FloorAfter   int
}

// Ceiling devolve o teto vigente para a chave.
func (l *ProgressiveLimiter) Ceiling(key domain.Key) int {
	v := 0
	if l.Violations != nil {
		v = l.Violations.Count(key, l.Clock.Now())
	}
	switch {
	case l.FloorAfter > 0 && v >= l.FloorAfter:
		return l.Floor
	case l.ReducedAfter > 0 && v >= l.ReducedAfter:
		return l.Reduced
	default:
		return l.Base
	}
}

// Check decide a admissão com o teto dinâmico. Quem registra a violação
// é o gatekeeper, para qualquer camada que rejeite; aqui só se consome
// o histórico.
func (l *ProgressiveLimiter) Check(key domain.Key) domain.Decision {
	if l == nil || l.Windows == nil {
		return domain.Allow()
	}
	now := l.Clock.Now()
	count, resetAt := l.Windows.Incr(key, now)
	if count <= l.Ceiling(key) {
		return domain.Allow()
	}
	return domain.Decision{
		Allowed:    false,
		Verdict:    domain.VerdictBlock,
		Code:       domain.CodeProgressiveLimit,
		Message:    "limite progressivo atingido para este cliente",
		RetryAfter: resetAt.Sub(now),
		Hint:       "stop-auto-retry",
	}
}

// BackstopLimiter adapta um LimiterStore (token bucket por chave) ao
// contrato de admissão. É o tier mais barato e grosseiro, na frente de
// todo o tráfego do gateway.
type BackstopLimiter struct {
	Store      domain.LimiterStore
	RetryAfter time.Duration
}

func (b *BackstopLimiter) Check(key domain.Key) domain.Decision {
	if b == nil || b.Store == nil {
		return domain.Allow()
	}
	lim := b.Store.Get(key)
	if lim == nil || lim.Allow() {
		return domain.Allow()
	}
	retry := b.RetryAfter
	if retry <= 0 {
		retry = 1 * time.Second
	}
	return domain.Decision{
		Allowed:    false,
		Verdict:    domain.VerdictBlock,
		Code:       domain.CodeGeneralRateLimit,
		Message:    "limite geral de requisições excedido",
		RetryAfter: retry,
	}
}
