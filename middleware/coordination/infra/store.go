package infra

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"rental-admin-sync/middleware/coordination/domain"
)

// Store é uma implementação de infra baseada em token-bucket (x/time/rate)
// com um limiter por chave. Chaves ociosas por mais de idleTTL expiram (ttlcache,
// renovando a cada acesso).
type Store struct {
	mu           sync.Mutex
	entries      *ttlcache.Cache[string, *rate.Limiter]
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type StoreOption func(*Store)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

func NewStore(rps float64, burst int, opts ...StoreOption) *Store {
	s := &Store{
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.entries = ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](s.idleTTL),
	)
	return s
}

func (s *Store) RPS() float64                { return float64(s.rps) }
func (s *Store) Burst() int                  { return s.burst }
func (s *Store) CleanupEvery() time.Duration { return s.cleanupEvery }
func (s *Store) Len() int                    { return s.entries.Len() }

// Get implementa domain.LimiterStore.
func (s *Store) Get(key domain.Key) domain.Limiter {
	return s.GetString(string(key))
}

func (s *Store) GetString(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.entries.Get(key); item != nil {
		return item.Value()
	}

	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries.Set(key, lim, ttlcache.DefaultTTL)
	return lim
}

// Cleanup remove imediatamente as chaves expiradas.
func (s *Store) Cleanup() {
	s.entries.DeleteExpired()
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *Store) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
type DoneContext interface {
	Done() <-chan struct{}
}
