package application

import (
	"testing"
	"time"

	"sentinela-gateway/middleware/abuse/domain"
)

// janela fixa mínima para os testes de aplicação
type fakeWindows struct {
	window  time.Duration
	count   map[domain.Key]int
	resetAt map[domain.Key]time.Time
}

func newFakeWindows(window time.Duration) *fakeWindows {
	return &fakeWindows{
		window:  window,
		count:   make(map[domain.Key]int),
		resetAt: make(map[domain.Key]time.Time),
	}
}

func (s *fakeWindows) roll(key domain.Key, now time.Time) {
	if at, ok := s.resetAt[key]; !ok || !now.Before(at) {
		s.count[key] = 0
		s.resetAt[key] = now.Add(s.window)
	}
}

func (s *fakeWindows) Incr(key domain.Key, now time.Time) (int, time.Time) {
	s.roll(key, now)
	s.count[key]++
	return s.count[key], s.resetAt[key]
}

func (s *fakeWindows) Peek(key domain.Key, now time.Time) (int, time.Time) {
	s.roll(key, now)
	return s.count[key], s.resetAt[key]
}

type fakeViolations struct {
	count map[domain.Key]int
}

func (s *fakeViolations) Record(key domain.Key, _ time.Time) int {
	s.count[key]++
	return s.count[key]
}

func (s *fakeViolations) Count(key domain.Key, _ time.Time) int { return s.count[key] }

func TestWindowLimiter_RejectsAboveLimitWithRemainingWindow(t *testing.T) {
	clock := newFakeClock()
	lim := &WindowLimiter{
		Windows: newFakeWindows(1 * time.Minute),
		Clock:   clock,
		Limit:   2,
		Code:    domain.CodeMeEndpointLimit,
		Message: "janela cheia",
	}
	key := domain.Key("k")

	for i := 1; i <= 2; i++ {
		if dec := lim.Check(key); !dec.Allowed {
			t.Fatalf("expected request %d allowed", i)
		}
	}

	clock.advance(15 * time.Second)
	dec := lim.Check(key)
	if dec.Allowed {
		t.Fatalf("expected third request rejected")
	}
	if dec.Code != domain.CodeMeEndpointLimit {
		t.Fatalf("expected code %q, got %q", domain.CodeMeEndpointLimit, dec.Code)
	}
	if dec.RetryAfter != 45*time.Second {
		t.Fatalf("expected RetryAfter=45s (resto da janela), got %s", dec.RetryAfter)
	}
}

func TestWindowLimiter_WindowRollAdmitsAgain(t *testing.T) {
	clock := newFakeClock()
	lim := &WindowLimiter{
		Windows: newFakeWindows(1 * time.Minute),
		Clock:   clock,
		Limit:   1,
		Code:    domain.CodeGeneralRateLimit,
	}
	key := domain.Key("k")

	if dec := lim.Check(key); !dec.Allowed {
		t.Fatalf("expected first allowed")
	}
	if dec := lim.Check(key); dec.Allowed {
		t.Fatalf("expected second rejected")
	}

	clock.advance(61 * time.Second)
	if dec := lim.Check(key); !dec.Allowed {
		t.Fatalf("expected allowed after window rolled")
	}
}

func TestWindowLimiter_FailuresOnlyBudget(t *testing.T) {
	clock := newFakeClock()
	lim := &WindowLimiter{
		Windows:           newFakeWindows(15 * time.Minute),
		Clock:             clock,
		Limit:             2,
		Code:              domain.CodeAuthRateLimit,
		CountFailuresOnly: true,
	}
	key := domain.Key("k")

	// checagens repetidas não consomem nada
	for i := 0; i < 10; i++ {
		if dec := lim.Check(key); !dec.Allowed {
			t.Fatalf("expected check %d allowed with empty budget", i)
		}
	}

	// duas falhas esgotam o orçamento
	lim.ConsumeFailure(key)
	lim.ConsumeFailure(key)
	if dec := lim.Check(key); dec.Allowed {
		t.Fatalf("expected rejection once failure budget is spent")
	}
}

func TestProgressiveLimiter_CeilingShrinksWithViolations(t *testing.T) {
	clock := newFakeClock()
	violations := &fakeViolations{count: make(map[domain.Key]int)}
	lim := &ProgressiveLimiter{
		Windows:      newFakeWindows(1 * time.Minute),
		Violations:   violations,
		Clock:        clock,
		Base:         30,
		Reduced:      10,
		Floor:        5,
		ReducedAfter: 1,
		FloorAfter:   3,
	}
	key := domain.Key("k")

	if got := lim.Ceiling(key); got != 30 {
		t.Fatalf("expected base ceiling 30, got %d", got)
	}

	violations.Record(key, clock.Now())
	if got := lim.Ceiling(key); got != 10 {
		t.Fatalf("expected reduced ceiling 10, got %d", got)
	}

	violations.Record(key, clock.Now())
	violations.Record(key, clock.Now())
	if got := lim.Ceiling(key); got != 5 {
		t.Fatalf("expected floor ceiling 5, got %d", got)
	}
}

func TestProgressiveLimiter_RejectsAboveDynamicCeiling(t *testing.T) {
	clock := newFakeClock()
	violations := &fakeViolations{count: map[domain.Key]int{"k": 3}}
	lim := &ProgressiveLimiter{
		Windows:      newFakeWindows(1 * time.Minute),
		Violations:   violations,
		Clock:        clock,
		Base:         30,
		Reduced:      10,
		Floor:        5,
		ReducedAfter: 1,
		FloorAfter:   3,
	}
	key := domain.Key("k")

	for i := 1; i <= 5; i++ {
		if dec := lim.Check(key); !dec.Allowed {
			t.Fatalf("expected request %d under floor allowed", i)
		}
	}
	dec := lim.Check(key)
	if dec.Allowed {
		t.Fatalf("expected rejection above floor ceiling")
	}
	if dec.Code != domain.CodeProgressiveLimit {
		t.Fatalf("expected code %q, got %q", domain.CodeProgressiveLimit, dec.Code)
	}
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow() bool { return f.allow }

type fakeLimiterStore struct{ lim domain.Limiter }

func (s fakeLimiterStore) Get(domain.Key) domain.Limiter { return s.lim }

func TestBackstopLimiter_TranslatesTokenBucket(t *testing.T) {
	b := &BackstopLimiter{Store: fakeLimiterStore{lim: fakeLimiter{allow: true}}}
	if dec := b.Check("k"); !dec.Allowed {
		t.Fatalf("expected allowed when bucket allows")
	}

	b = &BackstopLimiter{Store: fakeLimiterStore{lim: fakeLimiter{allow: false}}, RetryAfter: 2 * time.Second}
	dec := b.Check("k")
	if dec.Allowed {
		t.Fatalf("expected blocked when bucket denies")
	}
	if dec.Code != domain.CodeGeneralRateLimit {
		t.Fatalf("expected code %q, got %q", domain.CodeGeneralRateLimit, dec.Code)
	}
	if dec.RetryAfter != 2*time.Second {
		t.Fatalf("expected RetryAfter=2s, got %s", dec.RetryAfter)
	}
}
