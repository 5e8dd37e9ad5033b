package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão do gatekeeper.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings
// genéricas. Code/Verdict vêm da Decision que resolveu a requisição.
//
// Observação: cuidado com cardinalidade (salvar Key/Path sem controle
// pode explodir o número de séries em uma base como Redis).
type StatsEvent struct {
	Key     Key
	Allowed bool
	Verdict Verdict
	Code    string

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, memória, etc.
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// SlotPool representa um recurso com capacidade finita (ex: requisições
// concorrentes atravessando o gateway).
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar. Ao
// adquirir, retorna uma função de release que deve ser chamada exatamente
// uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
