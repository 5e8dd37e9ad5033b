package domain

import "time"

// Key identifica um cliente (ex: IP, IP+fragmento de User-Agent, API key).
type Key string

// ClientPattern é o estado de cadência observado para um cliente.
//
// Invariantes:
//   - BlockUntil só tem significado quando Blocked=true; ao expirar
//     (now >= BlockUntil) a entrada é zerada antes de qualquer nova
//     avaliação; bloqueio nunca "gruda" além do prazo.
//   - RequestCount só cresce quando o gap desde LastRequestAt fica abaixo
//     do limiar de rajada; zera (volta a 1) quando o gap passa do limiar
//     de resfriamento. Gaps entre os dois limiares não mexem no contador
//     (banda de histerese).
//   - ConsecutiveFailures cresce apenas em respostas com status >= 400 e
//     zera em qualquer sucesso ou quando um bloqueio expira.
type ClientPattern struct {
	LastRequestAt       time.Time
	RequestCount        int
	ConsecutiveFailures int
	Blocked             bool
	BlockUntil          time.Time
}

// PatternSnapshot é o agregado exposto pelo endpoint de diagnóstico.
type PatternSnapshot struct {
	Tracked int
	Blocked int
}

// PatternStore guarda um ClientPattern por chave e é o único dono das
// entradas: nenhum outro componente as muta diretamente.
//
// With executa fn com a entrada da chave sob lock individual: a sequência
// get-or-create + mutação é atômica por chave, mesmo com requisições do
// mesmo cliente chegando em paralelo. fresh=true indica que a entrada foi
// criada agora (RequestCount=1, LastRequestAt=now).
type PatternStore interface {
	With(key Key, fn func(p *ClientPattern, fresh bool))
	Get(key Key) (ClientPattern, bool)
	Sweep(now time.Time) int
	Snapshot() PatternSnapshot
}
