package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"rental-admin-sync/middleware/coordination/domain"
	"rental-admin-sync/middleware/coordination/domain/mocks"
	"rental-admin-sync/middleware/coordination/infra"
)

func TestBatchMonitor_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBatchMonitor(nil)
	assert.Equal(t, DefaultBatchInterval, b.Interval())
	assert.Equal(t, DefaultMaxIDs, b.MaxIDs())
	assert.Greater(t, b.Interval(), NewMonitor(nil).Interval())
}

func TestBatchMonitor_OnlyKnownAndNewerIDsAreStale(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockTimestampFetcher(ctrl)
	for id, at := range map[string]int64{"A": 150, "B": 150, "C": 999} {
		fetcher.EXPECT().
			FetchTimestamp(gomock.Any(), id).
			Return(domain.ResourceTimestamp{ResourceID: id, LastModified: ms(at), ModifiedBy: "Alice"}, nil)
	}

	got := NewBatchMonitor(fetcher).Check(context.Background(),
		[]string{"A", "B", "C"},
		map[string]time.Time{"A": ms(100), "B": ms(200)})

	require.Len(t, got, 1)
	assert.True(t, got["A"].HasUpdate)
	assert.Equal(t, "Alice", got["A"].ModifiedBy)
	assert.True(t, got["A"].ServerTimestamp.Equal(ms(150)))
}

func TestBatchMonitor_SingleFailureDoesNotFailBatch(t *testing.T) {
	t.Parallel()

	stats := infra.NewMemoryStatsStore()
	fetcher := domain.FetcherFunc(func(_ context.Context, id string) (domain.ResourceTimestamp, error) {
		if id == "B" {
			return domain.ResourceTimestamp{}, errors.New("HTTP 500")
		}
		return domain.ResourceTimestamp{ResourceID: id, LastModified: ms(500)}, nil
	})

	got := NewBatchMonitor(fetcher, WithBatchStats(stats)).Check(context.Background(),
		[]string{"A", "B", "C", "D"},
		map[string]time.Time{"A": ms(100), "B": ms(100), "C": ms(100), "D": ms(600)})

	assert.Len(t, got, 2)
	assert.Contains(t, got, "A")
	assert.Contains(t, got, "C")
	assert.NotContains(t, got, "B")
	assert.Equal(t, int64(1), stats.Count(domain.ComponentBatch, domain.OutcomePollFailed))
}

func TestBatchMonitor_TruncatesToMaxIDs(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]bool{}
	fetcher := domain.FetcherFunc(func(_ context.Context, id string) (domain.ResourceTimestamp, error) {
		mu.Lock()
		seen[id] = true
		mu.Unlock()
		return domain.ResourceTimestamp{ResourceID: id, LastModified: ms(500)}, nil
	})

	ids := make([]string, 12)
	known := map[string]time.Time{}
	for i := range ids {
		ids[i] = fmt.Sprintf("r%02d", i+1)
		known[ids[i]] = ms(100)
	}

	got := NewBatchMonitor(fetcher).Check(context.Background(), ids, known)

	assert.Len(t, got, DefaultMaxIDs)
	assert.Len(t, seen, DefaultMaxIDs)
	assert.NotContains(t, seen, "r11")
	assert.NotContains(t, seen, "r12")
}

func TestBatchMonitor_FetchesConcurrently(t *testing.T) {
	t.Parallel()

	const n = 3
	var arrived atomic.Int32
	all := make(chan struct{})
	fetcher := domain.FetcherFunc(func(ctx context.Context, id string) (domain.ResourceTimestamp, error) {
		if arrived.Add(1) == n {
			close(all)
		}
		select {
		case <-all:
		case <-time.After(time.Second):
			return domain.ResourceTimestamp{}, errors.New("fetches were serialized")
		}
		return domain.ResourceTimestamp{ResourceID: id, LastModified: ms(500)}, nil
	})

	got := NewBatchMonitor(fetcher).Check(context.Background(),
		[]string{"A", "B", "C"},
		map[string]time.Time{"A": ms(100), "B": ms(100), "C": ms(100)})
	assert.Len(t, got, n)
}

func TestBatchWatch_EachRoundReplacesMap(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	server := map[string]int64{"A": 150, "B": 250}
	fetcher := domain.FetcherFunc(func(_ context.Context, id string) (domain.ResourceTimestamp, error) {
		mu.Lock()
		defer mu.Unlock()
		return domain.ResourceTimestamp{ResourceID: id, LastModified: ms(server[id])}, nil
	})

	w := NewBatchMonitor(fetcher, WithBatchInterval(noTicks)).Watch(context.Background(),
		[]string{"A", "B"},
		map[string]time.Time{"A": ms(100), "B": ms(200)})
	defer w.Stop()

	require.Eventually(t, func() bool { return len(w.Stale()) == 2 }, eventually, tick)

	// o servidor "volta" B para um valor não mais novo que o conhecido
	mu.Lock()
	server["B"] = 200
	mu.Unlock()

	got := w.CheckNow(context.Background())
	assert.Len(t, got, 1)
	assert.Contains(t, got, "A")
	assert.NotContains(t, w.Stale(), "B")
}

func TestBatchWatch_DismissAndSetResources(t *testing.T) {
	t.Parallel()

	fetcher := domain.FetcherFunc(func(_ context.Context, id string) (domain.ResourceTimestamp, error) {
		return domain.ResourceTimestamp{ResourceID: id, LastModified: ms(500)}, nil
	})

	w := NewBatchMonitor(fetcher, WithBatchInterval(noTicks)).Watch(context.Background(),
		[]string{"A", "B"},
		map[string]time.Time{"A": ms(100), "B": ms(100)})
	defer w.Stop()
	require.Eventually(t, func() bool { return len(w.Stale()) == 2 }, eventually, tick)

	w.Dismiss("A")
	assert.NotContains(t, w.Stale(), "A")
	assert.Len(t, w.CheckNow(context.Background()), 2, "dismiss lasts until the next round")

	w.SetResources([]string{"C"}, map[string]time.Time{"C": ms(100)})
	assert.Equal(t, []string{"C"}, w.IDs())
	require.Eventually(t, func() bool {
		s := w.Stale()
		_, ok := s["C"]
		return len(s) == 1 && ok
	}, eventually, tick)
}

func TestBatchWatch_EmptyListDoesNotPoll(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockTimestampFetcher(ctrl)

	w := NewBatchMonitor(fetcher, WithBatchInterval(10*time.Millisecond)).Watch(context.Background(), nil, nil)
	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, w.CheckNow(context.Background()))
	w.Stop()
	w.Stop()
}

func TestBatchWatch_PublishesNewlyStaleOnce(t *testing.T) {
	t.Parallel()

	fetcher := domain.FetcherFunc(func(_ context.Context, id string) (domain.ResourceTimestamp, error) {
		return domain.ResourceTimestamp{ResourceID: id, LastModified: ms(500), ModifiedBy: "Bob"}, nil
	})

	bus := infra.NewBus()
	var mu sync.Mutex
	var got []string
	bus.SubscribeFunc(domain.TopicResourceStatusChanged, func(_ context.Context, ev domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Payload.(domain.StalenessRecord).ResourceID)
		return nil
	})

	w := NewBatchMonitor(fetcher,
		WithBatchInterval(noTicks),
		WithBatchPublisher(bus, domain.TopicResourceStatusChanged),
	).Watch(context.Background(), []string{"A", "B", "C"}, map[string]time.Time{"A": ms(100), "C": ms(100)})
	defer w.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, eventually, tick)

	w.CheckNow(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A", "C"}, got)
}
