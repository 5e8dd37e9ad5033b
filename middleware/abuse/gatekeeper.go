package abuse

import (
	"log"
	"net/http"

	"sentinela-gateway/middleware/abuse/application"
	"sentinela-gateway/middleware/abuse/domain"
	"sentinela-gateway/middleware/abuse/infra"
)

// Options configura uma instância do gatekeeper para uma classe de rota.
// A composição é resolvida uma vez, no registro da rota: nada de decidir
// ceiling por path a cada requisição.
type Options struct {
	// Identidade
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	// SignatureFragment > 0 inclui os N primeiros caracteres do
	// User-Agent na chave (escolha de política, ver WithSignature).
	SignatureFragment int

	// Camadas de admissão, na ordem (mais barata primeiro).
	Limiters []domain.Admission
	// Limiters cujo orçamento só é consumido em falha (ex: login);
	// devem constar também em Limiters para a checagem de admissão.
	FailureCharged []*application.WindowLimiter
	// Classifier é o detector de cadência; nil desliga (rotas benignas
	// mas tagarelas, ex: listagens paginadas, não devem passar por ele).
	Classifier *application.Classifier
	// Failures liga o rastreio de status pós-handler e, com Tripwire,
	// a janela bruta de segunda linha.
	Failures *application.FailureTracker
	Tripwire bool

	// Violations, se presente, acumula toda rejeição e alimenta o teto
	// do limiter progressivo.
	Violations domain.ViolationStore

	Clock  domain.Clock
	Stats  domain.StatsStore
	Logger *log.Logger
}

// Middleware monta o gatekeeper para uma rota protegida.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Clock == nil {
		opts.Clock = infra.SystemClock{}
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.SignatureFragment > 0 {
		opts.KeyFn = WithSignature(opts.KeyFn, opts.SignatureFragment)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := domain.Key(opts.KeyFn(r))

			dec := evaluate(opts, key)

			w.Header().Set(HeaderClassification, string(dec.Verdict))
			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     key,
					Allowed: dec.Allowed,
					Verdict: dec.Verdict,
					Code:    dec.Code,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      opts.Clock.Now(),
				})
			}

			if !dec.Allowed {
				if opts.Violations != nil {
					opts.Violations.Record(key, opts.Clock.Now())
				}
				writeRejection(w, dec)
				return
			}

			ow := &outcomeWriter{
				ResponseWriter: w,
				onStatus: func(status int, h http.Header) {
					recordOutcome(opts, key, status, h)
				},
			}
			next.ServeHTTP(ow, r)
			if !ow.wrote {
				// handler não escreveu nada: trata como 200 implícito
				recordOutcome(opts, key, http.StatusOK, nil)
			}
		})
	}
}

// evaluate compõe as camadas de admissão. Qualquer pânico aqui dentro é
// recuperado e vira passagem (fail-open): o detector não pode ser ele
// mesmo um risco de disponibilidade.
func evaluate(opts Options, key domain.Key) (dec domain.Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			if opts.Logger != nil {
				opts.Logger.Printf("abuse: avaliacao falhou para %q, liberando (fail-open): %v", key, rec)
			}
			dec = domain.Allow()
		}
	}()

	for _, adm := range opts.Limiters {
		if d := adm.Check(key); !d.Allowed {
			return d
		}
	}

	if opts.Tripwire && opts.Failures != nil {
		if d := opts.Failures.Tripwire(key); !d.Allowed {
			return d
		}
	}

	if opts.Classifier != nil {
		// a decisão permitida do classificador carrega o veredito
		// (allow/warn) anunciado no header
		return opts.Classifier.Check(key)
	}
	return domain.Allow()
}

// recordOutcome roda quando o handler resolve o status: atualiza a
// sequência de falhas, anexa a dica de parar re-tentativas e consome o
// orçamento dos limiters cobrados por falha.
func recordOutcome(opts Options, key domain.Key, status int, h http.Header) {
	defer func() {
		if rec := recover(); rec != nil && opts.Logger != nil {
			opts.Logger.Printf("abuse: registro de resultado falhou para %q: %v", key, rec)
		}
	}()

	if opts.Failures != nil {
		if _, hint := opts.Failures.RecordOutcome(key, status); hint && h != nil {
			h.Set(HeaderRetryHint, RetryHintStop)
		}
	}
	if status >= http.StatusBadRequest {
		for _, l := range opts.FailureCharged {
			l.ConsumeFailure(key)
		}
	}
}
