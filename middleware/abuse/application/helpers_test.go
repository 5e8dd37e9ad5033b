package application

import (
	"time"

	"sentinela-gateway/middleware/abuse/domain"
)

// fakePatterns é um PatternStore mínimo para os testes de aplicação,
// sem varredura nem locks (testes são sequenciais).
type fakePatterns struct {
	clock domain.Clock
	m     map[domain.Key]*domain.ClientPattern
}

func newFakePatterns(clock domain.Clock) *fakePatterns {
	return &fakePatterns{clock: clock, m: make(map[domain.Key]*domain.ClientPattern)}
}

func (s *fakePatterns) With(key domain.Key, fn func(p *domain.ClientPattern, fresh bool)) {
	p, ok := s.m[key]
	if !ok {
		p = &domain.ClientPattern{RequestCount: 1, LastRequestAt: s.clock.Now()}
		s.m[key] = p
		fn(p, true)
		return
	}
	fn(p, false)
}

func (s *fakePatterns) Get(key domain.Key) (domain.ClientPattern, bool) {
	p, ok := s.m[key]
	if !ok {
		return domain.ClientPattern{}, false
	}
	return *p, true
}

func (s *fakePatterns) Sweep(time.Time) int { return 0 }

func (s *fakePatterns) Snapshot() domain.PatternSnapshot {
	return domain.PatternSnapshot{Tracked: len(s.m)}
}
