package infra

import (
	"sync"
	"time"

	"sentinela-gateway/middleware/abuse/domain"
)

// ViolationStore implementa domain.ViolationStore: violações acumuladas
// por chave dentro de uma janela fixa. Quando a janela expira, o histórico
// zera sozinho e o teto progressivo volta ao normal.
type ViolationStore struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[domain.Key]*violationEntry
}

type violationEntry struct {
	count     int
	expiresAt time.Time
}

func NewViolationStore(window time.Duration) *ViolationStore {
	return &ViolationStore{
		window:  window,
		entries: make(map[domain.Key]*violationEntry),
	}
}

func (s *ViolationStore) Record(key domain.Key, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || !now.Before(ent.expiresAt) {
		ent = &violationEntry{expiresAt: now.Add(s.window)}
		s.entries[key] = ent
	}
	ent.count++
	return ent.count
}

// Sweep remove históricos já vencidos; chaves que nunca mais foram lidas
// não podem depender da limpeza preguiçosa de Count.
func (s *ViolationStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if !now.Before(ent.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func (s *ViolationStore) Count(key domain.Key, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return 0
	}
	if !now.Before(ent.expiresAt) {
		delete(s.entries, key)
		return 0
	}
	return ent.count
}
