package abuse

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinela-gateway/middleware/abuse/application"
	"sentinela-gateway/middleware/abuse/domain"
	"sentinela-gateway/middleware/abuse/infra"
	"sentinela-gateway/middleware/abuse/policy"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"success":true}`)
	})
}

func doGet(h http.Handler, addr string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/api/auth/me", nil)
	r.RemoteAddr = addr
	r.Header.Set("Authorization", "Bearer demo")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeRejection(t *testing.T, w *httptest.ResponseRecorder) rejectionBody {
	t.Helper()
	var body rejectionBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding rejection body: %v", err)
	}
	return body
}

// Cenário de referência: frontend travado chamando a checagem de sessão a
// cada 100ms. As cinco primeiras passam; a sexta é bloqueada por 30s; após
// o prazo, o estado volta limpo.
func TestGatekeeper_SessionLoopScenario(t *testing.T) {
	clock := newFakeClock()
	stats := infra.NewMemoryStatsStore()
	stack := NewStack(policy.Default(), WithStackClock(clock), WithStackStats(stats))

	h := stack.Middleware(policy.ClassSession, DefaultKeyFunc("", false))(okHandler())

	for i := 1; i <= 5; i++ {
		w := doGet(h, "1.2.3.4:5555")
		if w.Code != http.StatusOK {
			t.Fatalf("expected request %d to pass, got %d", i, w.Code)
		}
		want := domain.VerdictAllow
		if i == 5 {
			want = domain.VerdictWarn
		}
		if got := w.Header().Get(HeaderClassification); got != string(want) {
			t.Fatalf("request %d: expected classification %q, got %q", i, want, got)
		}
		p, ok := stack.Patterns.Get("1.2.3.4")
		if !ok || p.RequestCount != i {
			t.Fatalf("request %d: expected RequestCount=%d, got %d", i, i, p.RequestCount)
		}
		clock.advance(100 * time.Millisecond)
	}

	w := doGet(h, "1.2.3.4:5555")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected sixth rapid request rejected, got %d", w.Code)
	}
	if got := w.Header().Get(HeaderClassification); got != string(domain.VerdictBlock) {
		t.Fatalf("expected classification block, got %q", got)
	}
	if got := strings.TrimSpace(w.Header().Get("Retry-After")); got != "30" {
		t.Fatalf("expected Retry-After=30, got %q", got)
	}
	body := decodeRejection(t, w)
	if body.Success {
		t.Fatalf("expected success=false")
	}
	if body.Code != domain.CodeRapidRequests {
		t.Fatalf("expected code %q, got %q", domain.CodeRapidRequests, body.Code)
	}
	if body.RetryAfter != 30 {
		t.Fatalf("expected retryAfter=30, got %d", body.RetryAfter)
	}
	p, _ := stack.Patterns.Get("1.2.3.4")
	if !p.Blocked {
		t.Fatalf("expected pattern blocked after escalation")
	}

	// cliente some por 31s: o bloqueio expira por tempo absoluto
	clock.advance(31 * time.Second)
	w = doGet(h, "1.2.3.4:5555")
	if w.Code != http.StatusOK {
		t.Fatalf("expected request after block expiry allowed, got %d", w.Code)
	}
	p, _ = stack.Patterns.Get("1.2.3.4")
	if p.Blocked || p.RequestCount != 1 {
		t.Fatalf("expected clean state after expiry, got blocked=%v count=%d", p.Blocked, p.RequestCount)
	}

	total := stats.Total()
	if total.Denied != 1 {
		t.Fatalf("expected 1 denied decision recorded, got %d", total.Denied)
	}
}

func TestGatekeeper_BlockedClientGetsDecreasingRetry(t *testing.T) {
	clock := newFakeClock()
	stack := NewStack(policy.Default(), WithStackClock(clock))
	h := stack.Middleware(policy.ClassSession, DefaultKeyFunc("", false))(okHandler())

	// estoura o limite
	for i := 0; i < 6; i++ {
		doGet(h, "9.9.9.9:1")
		clock.advance(100 * time.Millisecond)
	}

	clock.advance(5 * time.Second)
	w1 := doGet(h, "9.9.9.9:1")
	if w1.Code != http.StatusTooManyRequests {
		t.Fatalf("expected still blocked, got %d", w1.Code)
	}
	b1 := decodeRejection(t, w1)
	if b1.Code != domain.CodeClientBlocked {
		t.Fatalf("expected code %q while blocked, got %q", domain.CodeClientBlocked, b1.Code)
	}

	clock.advance(10 * time.Second)
	w2 := doGet(h, "9.9.9.9:1")
	b2 := decodeRejection(t, w2)
	if b2.RetryAfter >= b1.RetryAfter {
		t.Fatalf("expected retryAfter to shrink: %d then %d", b1.RetryAfter, b2.RetryAfter)
	}
}

func TestGatekeeper_TripwireThenClientBlocked(t *testing.T) {
	clock := newFakeClock()
	patterns := infra.NewPatternStore(infra.WithPatternClock(clock))
	tracker := application.NewFailureTracker(patterns, infra.NewHitWindowStore(10*time.Second), clock)
	tracker.TripLimit = 3
	tracker.TripWindow = 10 * time.Second
	tracker.TripBlock = 2 * time.Minute

	h := Middleware(Options{
		KeyFn:    DefaultKeyFunc("", false),
		Clock:    clock,
		Failures: tracker,
		Tripwire: true,
		Classifier: &application.Classifier{
			Patterns: patterns,
			Clock:    clock,
			Config:   application.LoopProfile(),
		},
	})(okHandler())

	// cadência calma (1s > burst), mas volume alto na janela bruta
	for i := 1; i <= 3; i++ {
		if w := doGet(h, "5.5.5.5:1"); w.Code != http.StatusOK {
			t.Fatalf("expected request %d under tripwire limit to pass, got %d", i, w.Code)
		}
		clock.advance(1 * time.Second)
	}

	w := doGet(h, "5.5.5.5:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected tripwire rejection, got %d", w.Code)
	}
	if body := decodeRejection(t, w); body.Code != domain.CodeAuthLoop {
		t.Fatalf("expected code %q, got %q", domain.CodeAuthLoop, body.Code)
	}

	// janela bruta esvazia, mas o bloqueio longo comprometido no pattern
	// continua valendo
	clock.advance(11 * time.Second)
	w = doGet(h, "5.5.5.5:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected committed block still in force, got %d", w.Code)
	}
	if body := decodeRejection(t, w); body.Code != domain.CodeClientBlocked {
		t.Fatalf("expected code %q, got %q", domain.CodeClientBlocked, body.Code)
	}
}

func TestGatekeeper_RetryHintAfterFailureStreak(t *testing.T) {
	clock := newFakeClock()
	patterns := infra.NewPatternStore(infra.WithPatternClock(clock))
	tracker := application.NewFailureTracker(patterns, nil, clock)

	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	h := Middleware(Options{
		KeyFn:    DefaultKeyFunc("", false),
		Clock:    clock,
		Failures: tracker,
	})(failing)

	for i := 1; i <= 2; i++ {
		w := doGet(h, "7.7.7.7:1")
		if got := w.Header().Get(HeaderRetryHint); got != "" {
			t.Fatalf("expected no hint at streak %d, got %q", i, got)
		}
		clock.advance(10 * time.Second)
	}

	w := doGet(h, "7.7.7.7:1")
	if got := w.Header().Get(HeaderRetryHint); got != RetryHintStop {
		t.Fatalf("expected hint %q on third consecutive failure, got %q", RetryHintStop, got)
	}
}

func TestGatekeeper_AuthBudgetOnlyChargedOnFailure(t *testing.T) {
	clock := newFakeClock()
	authLimiter := &application.WindowLimiter{
		Windows:           infra.NewFixedWindowStore(15 * time.Minute),
		Clock:             clock,
		Limit:             2,
		Code:              domain.CodeAuthRateLimit,
		Message:           "muitas tentativas",
		CountFailuresOnly: true,
	}

	var status int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	h := Middleware(Options{
		KeyFn:          DefaultKeyFunc("", false),
		Clock:          clock,
		Limiters:       []domain.Admission{authLimiter},
		FailureCharged: []*application.WindowLimiter{authLimiter},
	})(handler)

	// sucessos repetidos nunca consomem o orçamento
	status = http.StatusOK
	for i := 0; i < 10; i++ {
		if w := doGet(h, "3.3.3.3:1"); w.Code != http.StatusOK {
			t.Fatalf("expected successful login %d allowed, got %d", i, w.Code)
		}
		clock.advance(1 * time.Second)
	}

	// duas falhas gastam o orçamento; a terceira tentativa é barrada
	status = http.StatusUnauthorized
	for i := 0; i < 2; i++ {
		if w := doGet(h, "3.3.3.3:1"); w.Code != http.StatusUnauthorized {
			t.Fatalf("expected failed login %d to reach handler, got %d", i, w.Code)
		}
		clock.advance(1 * time.Second)
	}
	w := doGet(h, "3.3.3.3:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected third attempt rejected, got %d", w.Code)
	}
	if body := decodeRejection(t, w); body.Code != domain.CodeAuthRateLimit {
		t.Fatalf("expected code %q, got %q", domain.CodeAuthRateLimit, body.Code)
	}
}

type panickyAdmission struct{}

func (panickyAdmission) Check(domain.Key) domain.Decision { panic("boom") }

func TestGatekeeper_FailsOpenOnPanic(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{
		KeyFn:    DefaultKeyFunc("", false),
		Limiters: []domain.Admission{panickyAdmission{}},
	})(handler)

	w := doGet(h, "2.2.2.2:1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected fail-open pass-through, got %d", w.Code)
	}
	if calls != 1 {
		t.Fatalf("expected handler invoked once, got %d", calls)
	}
}

func TestGatekeeper_RejectionRecordsViolation(t *testing.T) {
	clock := newFakeClock()
	violations := infra.NewViolationStore(15 * time.Minute)
	lim := &application.WindowLimiter{
		Windows: infra.NewFixedWindowStore(1 * time.Minute),
		Clock:   clock,
		Limit:   1,
		Code:    domain.CodeMeEndpointLimit,
	}
	h := Middleware(Options{
		KeyFn:      DefaultKeyFunc("", false),
		Clock:      clock,
		Limiters:   []domain.Admission{lim},
		Violations: violations,
	})(okHandler())

	doGet(h, "4.4.4.4:1")
	w := doGet(h, "4.4.4.4:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rejection, got %d", w.Code)
	}
	if got := violations.Count("4.4.4.4", clock.Now()); got != 1 {
		t.Fatalf("expected 1 violation recorded, got %d", got)
	}
}

func TestStack_SweepEvictsIdleClientState(t *testing.T) {
	clock := newFakeClock()
	stack := NewStack(policy.Default(), WithStackClock(clock))
	h := stack.Middleware(policy.ClassSession, DefaultKeyFunc("", false))(okHandler())

	// cliente em loop: povoa janela de classe, janela progressiva,
	// trip-wire e (via rejeição) o histórico de violações
	for i := 0; i < 6; i++ {
		doGet(h, "6.6.6.6:1")
		clock.advance(100 * time.Millisecond)
	}

	// todas as janelas vencem (a de violações é a mais longa, 15min);
	// um cliente que sumiu não pode deixar entradas órfãs nos mapas
	clock.advance(16 * time.Minute)
	if removed := stack.Sweep(clock.Now()); removed != 4 {
		t.Fatalf("expected 4 idle entries swept (class window, progressive window, hits, violations), got %d", removed)
	}
	if removed := stack.Sweep(clock.Now()); removed != 0 {
		t.Fatalf("expected second sweep to find nothing, got %d", removed)
	}
}

func TestGatekeeper_NoOpOptionsAllowEverything(t *testing.T) {
	h := Middleware(Options{})(okHandler())
	for i := 0; i < 20; i++ {
		if w := doGet(h, "8.8.8.8:1"); w.Code != http.StatusOK {
			t.Fatalf("expected bare middleware to pass request %d, got %d", i, w.Code)
		}
	}
}
