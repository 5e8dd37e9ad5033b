package infra

import (
	"sync"
	"time"

	"sentinela-gateway/middleware/abuse/domain"
)

// FixedWindowStore implementa domain.WindowStore: um contador por chave,
// zerado implicitamente quando a borda da janela é cruzada. Cada limiter
// (classe de endpoint) é dono da sua instância.
type FixedWindowStore struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[domain.Key]*windowEntry
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

func NewFixedWindowStore(window time.Duration) *FixedWindowStore {
	return &FixedWindowStore{
		window:  window,
		entries: make(map[domain.Key]*windowEntry),
	}
}

func (s *FixedWindowStore) Window() time.Duration { return s.window }

// Incr conta uma requisição da chave na janela corrente.
func (s *FixedWindowStore) Incr(key domain.Key, now time.Time) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.roll(key, now)
	ent.count++
	return ent.count, ent.resetAt
}

// Peek devolve o contador corrente sem consumir.
func (s *FixedWindowStore) Peek(key domain.Key, now time.Time) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.roll(key, now)
	return ent.count, ent.resetAt
}

func (s *FixedWindowStore) roll(key domain.Key, now time.Time) *windowEntry {
	ent, ok := s.entries[key]
	if !ok || !now.Before(ent.resetAt) {
		ent = &windowEntry{resetAt: now.Add(s.window)}
		s.entries[key] = ent
	}
	return ent
}

// Sweep descarta janelas já vencidas (entradas que só ocupariam memória).
func (s *FixedWindowStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if !now.Before(ent.resetAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
