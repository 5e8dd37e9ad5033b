package application

import (
	"time"

	"sentinela-gateway/middleware/abuse/domain"
)

// ClassifierConfig são os limiares da máquina de estados de cadência.
//
// Burst e CoolDown formam uma banda de histerese: gap < Burst conta como
// rajada; gap > CoolDown zera os contadores; gaps no meio não mexem em
// nada. A banda evita que um cliente emitindo exatamente no limiar fique
// oscilando entre "rajada" e "normal" a cada requisição.
type ClassifierConfig struct {
	Burst           time.Duration
	CoolDown        time.Duration
	EscalationLimit int
	BlockDuration   time.Duration
}

// GeneralProfile é o perfil aplicado pelo middleware genérico.
func GeneralProfile() ClassifierConfig {
	return ClassifierConfig{
		Burst:           1 * time.Second,
		CoolDown:        5 * time.Second,
		EscalationLimit: 5,
		BlockDuration:   60 * time.Second,
	}
}

// LoopProfile é a variante estrita do detector de loop (endpoint de
// checagem de sessão, chamado passivamente por frontends: um frontend
// travado re-tentando uma checagem falhada dispara rajadas de ~100ms).
func LoopProfile() ClassifierConfig {
	return ClassifierConfig{
		Burst:           500 * time.Millisecond,
		CoolDown:        2 * time.Second,
		EscalationLimit: 5,
		BlockDuration:   30 * time.Second,
	}
}

// Classifier avalia a cadência de um cliente contra o seu ClientPattern.
// Toda a mutação acontece dentro de PatternStore.With, atômica por chave.
type Classifier struct {
	Patterns domain.PatternStore
	Clock    domain.Clock
	Config   ClassifierConfig
}

// Check roda a máquina de estados para uma nova requisição da chave.
func (c Classifier) Check(key domain.Key) domain.Decision {
	if c.Patterns == nil {
		return domain.Allow()
	}
	now := c.Clock.Now()

	var dec domain.Decision
	c.Patterns.With(key, func(p *domain.ClientPattern, fresh bool) {
		dec = Evaluate(p, fresh, now, c.Config)
	})
	return dec
}

// Evaluate é a transição pura da máquina de estados; muta p e devolve a
// decisão. Exportada para os testes de propriedade exercitarem o núcleo
// sem store.
func Evaluate(p *domain.ClientPattern, fresh bool, now time.Time, cfg ClassifierConfig) domain.Decision {
	if p.Blocked {
		if now.Before(p.BlockUntil) {
			// segue bloqueado: rejeita com o tempo restante, sem mexer
			// em nenhum contador.
			return rejectBlocked(domain.CodeClientBlocked,
				"cliente temporariamente bloqueado por excesso de requisições",
				p.BlockUntil.Sub(now))
		}
		// bloqueio expirou: zera tudo e segue avaliando nesta mesma
		// passada; bloqueio nunca sobrevive ao prazo.
		p.Blocked = false
		p.BlockUntil = time.Time{}
		p.ConsecutiveFailures = 0
		p.RequestCount = 0
		p.LastRequestAt = time.Time{}
		fresh = false
	}

	if fresh || p.LastRequestAt.IsZero() {
		// entrada recém criada (ou recém zerada): primeiro request da
		// série, nada a comparar.
		p.RequestCount = 1
		p.LastRequestAt = now
		return domain.Allow()
	}

	gap := now.Sub(p.LastRequestAt)
	switch {
	case gap < cfg.Burst:
		p.RequestCount++
		if p.RequestCount > cfg.EscalationLimit {
			p.Blocked = true
			p.BlockUntil = now.Add(cfg.BlockDuration)
			p.LastRequestAt = now
			return rejectBlocked(domain.CodeRapidRequests,
				"requisições rápidas demais; possível loop de cliente",
				cfg.BlockDuration)
		}
	case gap > cfg.CoolDown:
		// cadência normalizou
		p.RequestCount = 1
		p.ConsecutiveFailures = 0
	default:
		// banda de histerese: contador fica como está
	}

	p.LastRequestAt = now

	dec := domain.Allow()
	if p.RequestCount >= cfg.EscalationLimit {
		// última requisição tolerada da rajada: sinaliza no header
		dec.Verdict = domain.VerdictWarn
	}
	return dec
}

func rejectBlocked(code, message string, retryAfter time.Duration) domain.Decision {
	return domain.Decision{
		Allowed:    false,
		Verdict:    domain.VerdictBlock,
		Code:       code,
		Message:    message,
		RetryAfter: retryAfter,
		Action:     "wait",
		Hint:       "stop-auto-retry",
	}
}
