package application

import (
	"time"

	"sentinela-gateway/middleware/abuse/domain"
)

// FailureTracker acompanha, por cliente, a sequência de respostas
// não-2xx e a frequência bruta de chamadas ao caminho protegido.
//
// Duas defesas independentes:
//
//   - RecordOutcome mantém ConsecutiveFailures e devolve se a resposta
//     deve carregar a dica de "pare de re-tentar". Puramente consultivo,
//     nunca bloqueia sozinho.
//   - Tripwire conta timestamps numa janela deslizante; estourando o
//     limite, impõe um bloqueio próprio (mais longo), independente da
//     histerese de rajada/resfriamento.
type FailureTracker struct {
	Patterns domain.PatternStore
	Hits     domain.HitWindow
	Clock    domain.Clock

	// HintThreshold: a partir de quantas falhas consecutivas a resposta
	// ganha a dica de parar re-tentativas automáticas.
	HintThreshold int

	TripLimit  int           // requisições toleradas na janela
	TripWindow time.Duration // tamanho da janela deslizante
	TripBlock  time.Duration // duração do bloqueio imposto pelo trip-wire
}

// NewFailureTracker devolve o tracker com os limiares de referência:
// dica após 3 falhas seguidas; trip-wire em 10 chamadas/60s com bloqueio
// de 5 minutos.
func NewFailureTracker(patterns domain.PatternStore, hits domain.HitWindow, clock domain.Clock) *FailureTracker {
	return &FailureTracker{
		Patterns:      patterns,
		Hits:          hits,
		Clock:         clock,
		HintThreshold: 3,
		TripLimit:     10,
		TripWindow:    60 * time.Second,
		TripBlock:     5 * time.Minute,
	}
}

// RecordOutcome registra o status final da resposta para a chave.
// Devolve o tamanho atual da sequência de falhas e se a dica de parar
// re-tentativas deve ser anexada.
func (t *FailureTracker) RecordOutcome(key domain.Key, status int) (failures int, hint bool) {
	if t == nil || t.Patterns == nil {
		return 0, false
	}
	t.Patterns.With(key, func(p *domain.ClientPattern, _ bool) {
		if status >= 400 {
			p.ConsecutiveFailures++
		} else {
			p.ConsecutiveFailures = 0
		}
		failures = p.ConsecutiveFailures
	})
	return failures, status >= 400 && failures >= t.HintThreshold
}

// Tripwire registra o timestamp da requisição e verifica a janela
// deslizante. Estourando o limite, compromete um bloqueio no pattern
// (com prazo próprio, mais longo) e devolve a rejeição: a mutação e a
// rejeição acontecem juntas.
func (t *FailureTracker) Tripwire(key domain.Key) domain.Decision {
	if t == nil || t.Hits == nil {
		return domain.Allow()
	}
	now := t.Clock.Now()
	t.Hits.Record(key, now)
	if t.Hits.CountRecent(key, now, t.TripWindow) <= t.TripLimit {
		return domain.Allow()
	}

	if t.Patterns != nil {
		t.Patterns.With(key, func(p *domain.ClientPattern, _ bool) {
			p.Blocked = true
			p.BlockUntil = now.Add(t.TripBlock)
			p.LastRequestAt = now
		})
	}
	return domain.Decision{
		Allowed:    false,
		Verdict:    domain.VerdictBlock,
		Code:       domain.CodeAuthLoop,
		Message:    "volume anômalo de checagens de autenticação na janela",
		RetryAfter: t.TripBlock,
		Action:     "wait",
		Hint:       "stop-auto-retry",
	}
}
