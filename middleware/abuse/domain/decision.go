package domain

import "time"

// Verdict é a classificação anunciada no header de resposta.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictWarn  Verdict = "warn"
	VerdictBlock Verdict = "block"
)

// Códigos legíveis por máquina retornados no corpo da rejeição (429).
const (
	CodeClientBlocked    = "CLIENT_BLOCKED"
	CodeRapidRequests    = "RAPID_REQUESTS_DETECTED"
	CodeAuthLoop         = "AUTH_LOOP_DETECTED"
	CodeAuthRateLimit    = "AUTH_RATE_LIMIT_EXCEEDED"
	CodeMeEndpointLimit  = "ME_ENDPOINT_RATE_LIMIT"
	CodeGeneralRateLimit = "RATE_LIMIT_EXCEEDED"
	CodeStrictRateLimit  = "STRICT_RATE_LIMIT_EXCEEDED"
	CodeProgressiveLimit = "PROGRESSIVE_RATE_LIMIT"
)

// Decision é o resultado de uma camada de admissão.
//
// Rejeição não é erro: é decisão de política, serializada como 429 com
// corpo estruturado. Action/Hint são orientações opcionais ao cliente
// (ex: "stop-auto-retry").
type Decision struct {
	Allowed    bool
	Verdict    Verdict
	Code       string
	Message    string
	RetryAfter time.Duration
	Action     string
	Hint       string
}

// Allow é a decisão de passagem padrão.
func Allow() Decision {
	return Decision{Allowed: true, Verdict: VerdictAllow}
}

// Admission é qualquer camada capaz de decidir a admissão de uma chave
// agora (janela fixa, progressivo, token bucket...).
type Admission interface {
	Check(key Key) Decision
}
