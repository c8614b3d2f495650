package infra

import (
	"context"
	"sync"

	"rental-admin-sync/middleware/coordination/domain"
)

// Counters conta eventos por desfecho.
type Counters map[domain.Outcome]int64

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu          sync.Mutex
	byComponent map[domain.Component]Counters
	byKey       map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byComponent: make(map[domain.Component]Counters),
		byKey:       make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.byComponent[ev.Component]
	if c == nil {
		c = make(Counters)
		s.byComponent[ev.Component] = c
	}
	c[ev.Outcome]++

	if s.trackKeys && ev.Key != "" {
		k := string(ev.Component) + ":" + string(ev.Key)
		kc := s.byKey[k]
		if kc == nil {
			kc = make(Counters)
			s.byKey[k] = kc
		}
		kc[ev.Outcome]++
	}
	return nil
}

// Count devolve quantos eventos (componente, desfecho) foram registrados.
func (s *MemoryStatsStore) Count(component domain.Component, outcome domain.Outcome) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byComponent[component][outcome]
}

func (s *MemoryStatsStore) ByComponent() map[domain.Component]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Component]Counters, len(s.byComponent))
	for k, v := range s.byComponent {
		out[k] = copyCounters(v)
	}
	return out
}

// ByKey é indexado por "componente:chave".
func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = copyCounters(v)
	}
	return out
}

func copyCounters(c Counters) Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
