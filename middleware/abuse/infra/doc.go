// Package infra contém implementações concretas (infraestrutura) para os
// contratos definidos no pacote domain.
//
// Exemplos:
//   - PatternStore: estado de cadência por cliente com varredura periódica
//   - FixedWindowStore: contadores de janela fixa por chave
//   - BucketStore: token bucket por chave usando golang.org/x/time/rate
//   - MemoryStatsStore / RedisStatsStore: estatísticas de admissão
package infra
