package abuse

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sentinela-gateway/middleware/abuse/infra"
	"sentinela-gateway/middleware/abuse/policy"
)

func TestStatsHandler_ReportsTrackedAndBlocked(t *testing.T) {
	clock := newFakeClock()
	stats := infra.NewMemoryStatsStore()
	stack := NewStack(policy.Default(), WithStackClock(clock), WithStackStats(stats))
	mw := stack.Middleware(policy.ClassSession, DefaultKeyFunc("", false))(okHandler())

	// um cliente calmo, um cliente em loop até ser bloqueado
	doGet(mw, "10.0.0.1:1")
	for i := 0; i < 6; i++ {
		doGet(mw, "10.0.0.2:1")
		clock.advance(100 * time.Millisecond)
	}

	h := StatsHandler(stack.Patterns, stats)
	r := httptest.NewRequest(http.MethodGet, "http://example/internal/abuse/stats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var p statsPayload
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if p.TrackedClients != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", p.TrackedClients)
	}
	if p.BlockedClients != 1 {
		t.Fatalf("expected 1 blocked client, got %d", p.BlockedClients)
	}
	if p.Denied != 1 {
		t.Fatalf("expected 1 denied, got %d", p.Denied)
	}
	if p.DeniedByCode["RAPID_REQUESTS_DETECTED"] != 1 {
		t.Fatalf("expected RAPID_REQUESTS_DETECTED counted, got %v", p.DeniedByCode)
	}
}

func TestStatsHandler_RejectsNonGET(t *testing.T) {
	h := StatsHandler(nil, nil)
	r := httptest.NewRequest(http.MethodPost, "http://example/internal/abuse/stats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
