package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-admin-sync/middleware/coordination/domain"
)

// tracker registra início/fim dos itens e o pico de concorrência observado.
type tracker struct {
	mu      sync.Mutex
	t0      time.Time
	starts  map[int]time.Duration
	ends    map[int]time.Duration
	order   []int
	running int
	peak    int
}

func newTracker() *tracker {
	return &tracker{t0: time.Now(), starts: map[int]time.Duration{}, ends: map[int]time.Duration{}}
}

func (p *tracker) work(i int, d time.Duration) domain.Work {
	return func(context.Context) (any, error) {
		p.mu.Lock()
		p.starts[i] = time.Since(p.t0)
		p.order = append(p.order, i)
		p.running++
		if p.running > p.peak {
			p.peak = p.running
		}
		p.mu.Unlock()

		time.Sleep(d)

		p.mu.Lock()
		p.running--
		p.ends[i] = time.Since(p.t0)
		p.mu.Unlock()
		return i, nil
	}
}

func waitAll(t *testing.T, futures ...*Future) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, f := range futures {
		select {
		case <-f.Done():
		case <-ctx.Done():
			t.Fatalf("timeout waiting futures")
		}
	}
}

func TestNewGate_Defaults(t *testing.T) {
	t.Parallel()

	snap := NewGate(0, -1).Snapshot()
	assert.Equal(t, DefaultMaxConcurrent, snap.MaxConcurrent)
	assert.Equal(t, DefaultDelayBetween, snap.DelayBetween)
}

func TestGate_SubmitResolvesWithWorkResult(t *testing.T) {
	t.Parallel()

	g := NewGate(2, 0)
	v, err := g.Do(context.Background(), func(context.Context) (any, error) { return "ok", nil })

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestGate_NeverExceedsMaxConcurrent(t *testing.T) {
	t.Parallel()

	const max = 3
	g := NewGate(max, 0)
	p := newTracker()

	var futures []*Future
	for i := 0; i < 20; i++ {
		futures = append(futures, g.Submit(context.Background(), p.work(i, 5*time.Millisecond)))
	}
	waitAll(t, futures...)

	assert.LessOrEqual(t, p.peak, max)
	assert.Len(t, p.order, 20)
}

func TestGate_StartsInSubmissionOrder(t *testing.T) {
	t.Parallel()

	g := NewGate(1, 0)
	p := newTracker()

	var futures []*Future
	for i := 0; i < 10; i++ {
		futures = append(futures, g.Submit(context.Background(), p.work(i, time.Millisecond)))
	}
	waitAll(t, futures...)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, p.order)
}

func TestGate_StartsInSubmissionOrderWithParallelSlots(t *testing.T) {
	t.Parallel()

	const rounds, items = 200, 16
	g := NewGate(8, 0)

	for round := 0; round < rounds; round++ {
		var mu sync.Mutex
		var order []int
		futures := make([]*Future, 0, items)
		for i := 0; i < items; i++ {
			futures = append(futures, g.Submit(context.Background(), func(context.Context) (any, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}))
		}
		waitAll(t, futures...)

		mu.Lock()
		require.Len(t, order, items)
		require.IsNonDecreasing(t, order, "round %d started out of order", round)
		mu.Unlock()
	}
}

func TestGate_FailureDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	g := NewGate(1, 0)
	boom := errors.New("boom")

	f1 := g.Submit(context.Background(), func(context.Context) (any, error) { return nil, boom })
	f2 := g.Submit(context.Background(), func(context.Context) (any, error) { return 2, nil })
	waitAll(t, f1, f2)

	_, _, err1 := f1.Result()
	v2, _, err2 := f2.Result()
	assert.ErrorIs(t, err1, boom)
	require.NoError(t, err2)
	assert.Equal(t, 2, v2)
}

func TestGate_PanicBecomesError(t *testing.T) {
	t.Parallel()

	g := NewGate(1, 0)
	f := g.Submit(context.Background(), func(context.Context) (any, error) { panic("kaboom") })
	next := g.Submit(context.Background(), func(context.Context) (any, error) { return "after", nil })
	waitAll(t, f, next)

	_, done, err := f.Result()
	assert.True(t, done)
	assert.ErrorIs(t, err, domain.ErrWorkPanicked)

	v, _, err := next.Result()
	require.NoError(t, err)
	assert.Equal(t, "after", v)
}

func TestGate_ClearCancelsOnlyQueuedItems(t *testing.T) {
	t.Parallel()

	g := NewGate(1, 0)
	release := make(chan struct{})
	started := make(chan struct{})

	running := g.Submit(context.Background(), func(context.Context) (any, error) {
		close(started)
		<-release
		return "done", nil
	})
	<-started

	var queued []*Future
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		queued = append(queued, g.Submit(context.Background(), func(context.Context) (any, error) {
			ran.Add(1)
			return nil, nil
		}))
	}

	assert.Equal(t, 3, g.Clear())
	for _, f := range queued {
		_, done, err := f.Result()
		assert.True(t, done)
		assert.ErrorIs(t, err, domain.ErrCancelled)
	}

	close(release)
	v, err := running.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	// espera o contador voltar a zero e garante que nenhum cancelado rodou
	require.Eventually(t, func() bool { return g.Snapshot().Running == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
	assert.Equal(t, 0, g.Snapshot().Pending)
}

func TestGate_WaitContextDoesNotDropItem(t *testing.T) {
	t.Parallel()

	g := NewGate(1, 0)
	release := make(chan struct{})
	g.Submit(context.Background(), func(context.Context) (any, error) {
		<-release
		return nil, nil
	})
	f := g.Submit(context.Background(), func(context.Context) (any, error) { return "late", nil })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", v)
}

// maxConcurrent=2, delayBetween=100ms, 5 itens de 50ms.
func TestGate_PacingScenario(t *testing.T) {
	t.Parallel()

	const delay = 100 * time.Millisecond
	g := NewGate(2, delay)
	p := newTracker()

	var futures []*Future
	for i := 1; i <= 5; i++ {
		futures = append(futures, g.Submit(context.Background(), p.work(i, 50*time.Millisecond)))
	}
	waitAll(t, futures...)

	assert.LessOrEqual(t, p.peak, 2)

	// 1 e 2 começam imediatamente
	assert.Less(t, p.starts[1], 30*time.Millisecond)
	assert.Less(t, p.starts[2], 30*time.Millisecond)

	// 3 só começa depois que 1 ou 2 terminou, e depois do espaçamento
	firstEnd := min(p.ends[1], p.ends[2])
	assert.GreaterOrEqual(t, p.starts[3], firstEnd+delay-5*time.Millisecond)
	assert.GreaterOrEqual(t, p.starts[4], firstEnd+delay-5*time.Millisecond)

	// 5 espera um dos itens da segunda leva terminar, mais o espaçamento
	secondEnd := min(p.ends[3], p.ends[4])
	assert.GreaterOrEqual(t, p.starts[5], secondEnd+delay-5*time.Millisecond)
}

func TestGate_StatsRecorded(t *testing.T) {
	t.Parallel()

	stats := NewMemoryStatsStore()
	g := NewGate(1, 0, WithGateStats(stats))

	f1 := g.Submit(context.Background(), func(context.Context) (any, error) { return nil, nil })
	f2 := g.Submit(context.Background(), func(context.Context) (any, error) { return nil, errors.New("x") })
	waitAll(t, f1, f2)

	require.Eventually(t, func() bool {
		return stats.Count(domain.ComponentGate, domain.OutcomeFailed) == 1 &&
			stats.Count(domain.ComponentGate, domain.OutcomeSucceeded) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, int64(2), stats.Count(domain.ComponentGate, domain.OutcomeStarted))
}
