package domain

// Contratos das camadas de limitação que acompanham o classificador.

import "time"

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// Observação: a implementação pode ser token-bucket, leaky-bucket, etc.
// A camada de infra pode usar libs como golang.org/x/time/rate.
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave. Usado pelo tier de backstop
// geral (token bucket), independente das janelas fixas.
type LimiterStore interface {
	Get(Key) Limiter
}

// WindowStore é um contador de janela fixa por chave. Cada instância é
// dona de uma duração de janela; o reset acontece implicitamente quando a
// borda da janela é cruzada.
//
// Incr conta a requisição e devolve o total da janela corrente.
// Peek devolve o total sem consumir (usado quando só falhas consomem
// orçamento, ex: limiter de login).
type WindowStore interface {
	Incr(key Key, now time.Time) (count int, resetAt time.Time)
	Peek(key Key, now time.Time) (count int, resetAt time.Time)
}

// HitWindow guarda timestamps de requisições recentes por chave,
// independente da histerese de rajada/resfriamento. É o trip-wire
// grosseiro de segunda linha.
type HitWindow interface {
	Record(key Key, now time.Time)
	CountRecent(key Key, now time.Time, window time.Duration) int
}

// ViolationStore acumula violações (rejeições) por chave dentro de uma
// janela; alimenta o teto dinâmico do limiter progressivo. Count volta a
// zero sozinho quando a janela de violações expira.
type ViolationStore interface {
	Record(key Key, now time.Time) int
	Count(key Key, now time.Time) int
}
