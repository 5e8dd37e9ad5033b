package abuse

import (
	"encoding/json"
	"net/http"

	"sentinela-gateway/middleware/abuse/domain"
	"sentinela-gateway/middleware/abuse/infra"
)

// statsPayload é o corpo do endpoint de diagnóstico: visibilidade
// operacional, somente leitura, nenhuma mutação.
type statsPayload struct {
	TrackedClients int              `json:"trackedClients"`
	BlockedClients int              `json:"blockedClients"`
	Allowed        int64            `json:"allowed"`
	Denied         int64            `json:"denied"`
	DeniedByCode   map[string]int64 `json:"deniedByCode,omitempty"`
}

// StatsHandler expõe os agregados do PatternStore e, se fornecido, os
// totais do MemoryStatsStore.
func StatsHandler(patterns domain.PatternStore, mem *infra.MemoryStatsStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		var p statsPayload
		if patterns != nil {
			snap := patterns.Snapshot()
			p.TrackedClients = snap.Tracked
			p.BlockedClients = snap.Blocked
		}
		if mem != nil {
			total := mem.Total()
			p.Allowed = total.Allowed
			p.Denied = total.Denied
			if codes := mem.ByCode(); len(codes) > 0 {
				p.DeniedByCode = codes
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(p)
	})
}
