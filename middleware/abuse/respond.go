package abuse

import (
	"encoding/json"
	"net/http"
	"time"

	"sentinela-gateway/middleware/abuse/domain"
)

// Headers emitidos pelo gatekeeper.
const (
	// HeaderClassification anuncia o veredito em toda rota monitorada:
	// allow, warn ou block.
	HeaderClassification = "X-Abuse-Classification"

	// HeaderRetryHint acompanha respostas de erro quando a sequência de
	// falhas do cliente cruza o limiar, pedindo que o cliente pare de
	// re-tentar automaticamente. Consultivo, nunca bloqueia sozinho.
	HeaderRetryHint = "X-Retry-Hint"

	RetryHintStop = "stop-auto-retry"
)

// rejectionBody é o contrato HTTP da rejeição (429).
type rejectionBody struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter"`
	Action     string `json:"action,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

func writeRejection(w http.ResponseWriter, dec domain.Decision) {
	// arredonda para cima: um bloqueio com 300ms restantes não pode
	// anunciar Retry-After 0 e convidar exatamente o retry imediato que
	// o detector quer conter.
	retry := int((dec.RetryAfter + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", formatInt(retry))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rejectionBody{
		Success:    false,
		Message:    dec.Message,
		Code:       dec.Code,
		RetryAfter: retry,
		Action:     dec.Action,
		Hint:       dec.Hint,
	})
}

// outcomeWriter intercepta o WriteHeader do handler para registrar o
// status final e anexar headers de dica antes do corpo começar: o gancho
// explícito pós-handler, no lugar de sobrescrever método de objeto vivo.
type outcomeWriter struct {
	http.ResponseWriter
	status   int
	wrote    bool
	onStatus func(status int, h http.Header)
}

func (w *outcomeWriter) WriteHeader(status int) {
	if !w.wrote {
		w.wrote = true
		w.status = status
		if w.onStatus != nil {
			w.onStatus(status, w.Header())
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *outcomeWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
