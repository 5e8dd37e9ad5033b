package infra

import (
	"log"
	"sync"
	"time"

	"sentinela-gateway/middleware/abuse/domain"
)

// PatternStore guarda o ClientPattern de cada cliente em memória, com
// lock individual por entrada e varredura periódica de entradas ociosas.
//
// O lock do mapa protege apenas inserção/remoção/lookup; a mutação de um
// pattern acontece sob o lock da própria entrada, então a sequência
// get-or-create + mutação é atômica por chave sem serializar clientes
// diferentes entre si.
type PatternStore struct {
	mu      sync.Mutex
	entries map[domain.Key]*patternEntry

	clock      domain.Clock
	retention  time.Duration
	sweepEvery time.Duration
	logger     *log.Logger
}

type patternEntry struct {
	mu sync.Mutex
	p  domain.ClientPattern
}

type PatternStoreOption func(*PatternStore)

// WithRetention define por quanto tempo uma entrada ociosa sobrevive.
func WithRetention(d time.Duration) PatternStoreOption {
	return func(s *PatternStore) { s.retention = d }
}

// WithSweepEvery define o intervalo da varredura periódica.
func WithSweepEvery(d time.Duration) PatternStoreOption {
	return func(s *PatternStore) { s.sweepEvery = d }
}

func WithPatternClock(c domain.Clock) PatternStoreOption {
	return func(s *PatternStore) { s.clock = c }
}

func WithPatternLogger(l *log.Logger) PatternStoreOption {
	return func(s *PatternStore) { s.logger = l }
}

func NewPatternStore(opts ...PatternStoreOption) *PatternStore {
	s := &PatternStore{
		entries:    make(map[domain.Key]*patternEntry),
		clock:      SystemClock{},
		retention:  1 * time.Hour,
		sweepEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate devolve uma cópia do pattern da chave, criando a entrada se
// necessário (RequestCount=1, demais campos zerados, escopada em now).
// Chamadas repetidas sem requisição no meio devolvem o mesmo estado.
func (s *PatternStore) GetOrCreate(key domain.Key) (domain.ClientPattern, bool) {
	ent, fresh := s.entry(key)
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.p, fresh
}

// Get devolve uma cópia do pattern, se existir.
func (s *PatternStore) Get(key domain.Key) (domain.ClientPattern, bool) {
	s.mu.Lock()
	ent, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return domain.ClientPattern{}, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.p, true
}

// With executa fn sob o lock da entrada da chave, criando-a se preciso.
func (s *PatternStore) With(key domain.Key, fn func(p *domain.ClientPattern, fresh bool)) {
	ent, fresh := s.entry(key)
	ent.mu.Lock()
	defer ent.mu.Unlock()
	fn(&ent.p, fresh)
}

func (s *PatternStore) entry(key domain.Key) (*patternEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok := s.entries[key]; ok {
		return ent, false
	}
	ent := &patternEntry{p: domain.ClientPattern{
		LastRequestAt: s.clock.Now(),
		RequestCount:  1,
	}}
	s.entries[key] = ent
	return ent, true
}

// Sweep remove entradas sem atividade além da janela de retenção.
// Devolve quantas foram removidas.
//
// Roda em duas fases para não segurar o lock do mapa durante a inspeção
// das entradas (uma avaliação concorrente nunca espera a varredura
// inteira, só um passo).
func (s *PatternStore) Sweep(now time.Time) int {
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	candidates := make([]domain.Key, 0, len(s.entries))
	for k := range s.entries {
		candidates = append(candidates, k)
	}
	s.mu.Unlock()

	removed := 0
	for _, k := range candidates {
		s.mu.Lock()
		ent, ok := s.entries[k]
		if !ok {
			s.mu.Unlock()
			continue
		}
		// a inspeção e a remoção acontecem sob os dois locks: uma entrada
		// tocada por um With concorrente nunca é removida como ociosa.
		// Entrada com o lock ocupado está em uso agora, logo não é ociosa.
		if !ent.mu.TryLock() {
			s.mu.Unlock()
			continue
		}
		if ent.p.LastRequestAt.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
		ent.mu.Unlock()
		s.mu.Unlock()
	}
	return removed
}

// Snapshot devolve os agregados para o endpoint de diagnóstico.
func (s *PatternStore) Snapshot() domain.PatternSnapshot {
	now := s.clock.Now()

	s.mu.Lock()
	ents := make([]*patternEntry, 0, len(s.entries))
	for _, ent := range s.entries {
		ents = append(ents, ent)
	}
	s.mu.Unlock()

	snap := domain.PatternSnapshot{Tracked: len(ents)}
	for _, ent := range ents {
		ent.mu.Lock()
		if ent.p.Blocked && now.Before(ent.p.BlockUntil) {
			snap.Blocked++
		}
		ent.mu.Unlock()
	}
	return snap
}

// StartJanitor inicia uma goroutine que varre entradas ociosas
// periodicamente. Pare cancelando o contexto. Falhas de um ciclo são
// logadas e nunca derrubam o timer.
func (s *PatternStore) StartJanitor(ctx DoneContext) {
	if s.sweepEvery <= 0 {
		return
	}

	t := time.NewTicker(s.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.sweepCycle()
			}
		}
	}()
}

func (s *PatternStore) sweepCycle() {
	defer func() {
		if rec := recover(); rec != nil && s.logger != nil {
			s.logger.Printf("abuse: sweep panic recuperado: %v", rec)
		}
	}()
	s.Sweep(s.clock.Now())
}

// DoneContext é o mínimo necessário para aceitar context.Context sem
// importar context aqui. (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
