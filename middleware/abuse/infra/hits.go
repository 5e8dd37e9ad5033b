package infra

import (
	"sync"
	"time"

	"sentinela-gateway/middleware/abuse/domain"
)

// HitWindowStore implementa domain.HitWindow: sequência ordenada de
// timestamps por chave, podada a cada leitura e descartada quando esvazia.
type HitWindowStore struct {
	mu     sync.Mutex
	window time.Duration
	hits   map[domain.Key][]time.Time
}

func NewHitWindowStore(window time.Duration) *HitWindowStore {
	return &HitWindowStore{
		window: window,
		hits:   make(map[domain.Key][]time.Time),
	}
}

func (s *HitWindowStore) Record(key domain.Key, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[key] = append(s.prune(key, now), now)
}

func (s *HitWindowStore) CountRecent(key domain.Key, now time.Time, window time.Duration) int {
	if window <= 0 {
		window = s.window
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.prune(key, now)
	if len(kept) == 0 {
		delete(s.hits, key)
		return 0
	}
	s.hits[key] = kept

	cutoff := now.Add(-window)
	n := 0
	for _, at := range kept {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}

// Sweep descarta chaves cujo hit mais recente já saiu da janela. Sem
// isso, clientes que apareceram uma vez e sumiram ocupariam o mapa para
// sempre (a poda em Record/CountRecent só roda para chaves relidas).
func (s *HitWindowStore) Sweep(now time.Time) int {
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, all := range s.hits {
		if len(all) == 0 || !all[len(all)-1].After(cutoff) {
			delete(s.hits, k)
			removed++
		}
	}
	return removed
}

// prune descarta timestamps mais velhos que a janela do store; o chamador
// deve estar com o lock.
func (s *HitWindowStore) prune(key domain.Key, now time.Time) []time.Time {
	cutoff := now.Add(-s.window)
	all := s.hits[key]
	// os timestamps chegam em ordem, então basta achar o primeiro vivo
	i := 0
	for i < len(all) && !all[i].After(cutoff) {
		i++
	}
	return all[i:]
}
