package coordination

import (
	"context"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rental-admin-sync/middleware/coordination/application"
	"rental-admin-sync/middleware/coordination/domain"
)

const (
	// DefaultBatchInterval é mais lento que o do Monitor: serve listas e painéis.
	DefaultBatchInterval = 60 * time.Second

	// DefaultMaxIDs limita o fan-out de cada rodada. Ids além do limite não são verificados.
	DefaultMaxIDs = 10
)

// BatchMonitor verifica vários recursos por rodada, uma busca concorrente por id.
type BatchMonitor struct {
	fetcher  domain.TimestampFetcher
	interval time.Duration
	maxIDs   int

	logger    *zap.Logger
	stats     domain.StatsStore
	publisher domain.Publisher
	topic     string
}

type BatchOption func(*BatchMonitor)

func WithBatchInterval(d time.Duration) BatchOption {
	return func(b *BatchMonitor) {
		if d > 0 {
			b.interval = d
		}
	}
}

func WithMaxIDs(n int) BatchOption {
	return func(b *BatchMonitor) {
		if n > 0 {
			b.maxIDs = n
		}
	}
}

func WithBatchLogger(l *zap.Logger) BatchOption {
	return func(b *BatchMonitor) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithBatchStats(s domain.StatsStore) BatchOption {
	return func(b *BatchMonitor) { b.stats = s }
}

func WithBatchPublisher(pub domain.Publisher, topic string) BatchOption {
	return func(b *BatchMonitor) {
		b.publisher = pub
		if topic == "" {
			topic = domain.TopicResourceUpdated
		}
		b.topic = topic
	}
}

func NewBatchMonitor(fetcher domain.TimestampFetcher, opts ...BatchOption) *BatchMonitor {
	b := &BatchMonitor{
		fetcher:  fetcher,
		interval: DefaultBatchInterval,
		maxIDs:   DefaultMaxIDs,
		logger:   zap.NewNop(),
		topic:    domain.TopicResourceUpdated,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BatchMonitor) Interval() time.Duration { return b.interval }
func (b *BatchMonitor) MaxIDs() int             { return b.maxIDs }

// Check faz uma rodada: busca os primeiros MaxIDs ids em paralelo e devolve só
// os desatualizados. Falha de um id não afeta os outros; o id apenas fica de fora.
func (b *BatchMonitor) Check(ctx context.Context, ids []string, known map[string]time.Time) map[string]domain.StalenessRecord {
	return application.EvaluateBatch(b.fetchAll(ctx, ids), known)
}

func (b *BatchMonitor) fetchAll(ctx context.Context, ids []string) map[string]domain.ResourceTimestamp {
	ids = application.CapIDs(ids, b.maxIDs)
	results := make(map[string]domain.ResourceTimestamp, len(ids))
	if len(ids) == 0 {
		return results
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			ts, err := b.fetcher.FetchTimestamp(gctx, id)
			if err != nil {
				if gctx.Err() == nil {
					b.logger.Debug("batch poll failed", zap.String("resource_id", id), zap.Error(err))
					b.record(ctx, id, domain.OutcomePollFailed)
				}
				return nil
			}
			if ts.ResourceID == "" {
				ts.ResourceID = id
			}
			mu.Lock()
			results[id] = ts
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *BatchMonitor) record(ctx context.Context, id string, outcome domain.Outcome) {
	if b.stats == nil {
		return
	}
	_ = b.stats.Record(context.WithoutCancel(ctx), domain.StatsEvent{
		Component: domain.ComponentBatch,
		Key:       domain.Key(id),
		Outcome:   outcome,
		At:        time.Now(),
	})
}

// Watch começa o polling em lote e devolve o handle. Lista vazia não faz polling.
func (b *BatchMonitor) Watch(ctx context.Context, ids []string, known map[string]time.Time) *BatchWatch {
	if ctx == nil {
		ctx = context.Background()
	}
	w := &BatchWatch{
		b:      b,
		parent: ctx,
		stale:  map[string]domain.StalenessRecord{},
	}
	w.SetResources(ids, known)
	return w
}

// BatchWatch é o polling periódico de uma lista de recursos.
// Cada rodada substitui o mapa inteiro; não há mescla com a rodada anterior.
type BatchWatch struct {
	b      *BatchMonitor
	parent context.Context

	mu        sync.Mutex
	gen       uint64
	ids       []string
	known     map[string]time.Time
	stale     map[string]domain.StalenessRecord
	published map[string]time.Time
	issued    uint64
	applied   uint64
	stopped   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Stale devolve uma cópia do mapa atual de recursos desatualizados.
func (w *BatchWatch) Stale() map[string]domain.StalenessRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.stale)
}

func (w *BatchWatch) IDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.ids...)
}

// CheckNow faz uma rodada imediata e devolve o mapa resultante.
func (w *BatchWatch) CheckNow(ctx context.Context) map[string]domain.StalenessRecord {
	w.mu.Lock()
	gen := w.gen
	w.mu.Unlock()
	w.check(ctx, gen)
	return w.Stale()
}

// Dismiss remove o aviso de um id até a próxima rodada.
func (w *BatchWatch) Dismiss(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.stale, id)
}

// SetResources troca a lista observada e os timestamps conhecidos, zera o mapa e
// reinicia o polling.
func (w *BatchWatch) SetResources(ids []string, known map[string]time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if w.cancel != nil {
		w.cancel()
	}
	w.cancel, w.done = nil, nil

	w.gen++
	w.ids = application.CapIDs(ids, w.b.maxIDs)
	w.known = maps.Clone(known)
	w.stale = map[string]domain.StalenessRecord{}
	w.published = map[string]time.Time{}
	w.applied = w.issued

	if len(w.ids) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(w.parent)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, w.gen, w.done)
}

// Stop encerra o polling e espera o loop terminar. Idempotente.
func (w *BatchWatch) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (w *BatchWatch) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.b.interval)
	defer ticker.Stop()

	w.check(ctx, gen)

	for {
		select {
		case <-ticker.C:
			w.check(ctx, gen)
		case <-ctx.Done():
			return
		}
	}
}

func (w *BatchWatch) check(ctx context.Context, gen uint64) {
	w.mu.Lock()
	if w.stopped || w.gen != gen || len(w.ids) == 0 {
		w.mu.Unlock()
		return
	}
	w.issued++
	seq := w.issued
	ids := append([]string(nil), w.ids...)
	w.mu.Unlock()

	results := w.b.fetchAll(ctx, ids)

	w.mu.Lock()
	if w.stopped || w.gen != gen || seq <= w.applied || ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.applied = seq
	w.stale = application.EvaluateBatch(results, w.known)

	var fresh []domain.StalenessRecord
	for _, id := range ids {
		rec, ok := w.stale[id]
		if !ok || rec.ServerTimestamp.Equal(w.published[id]) {
			continue
		}
		w.published[id] = rec.ServerTimestamp
		fresh = append(fresh, rec)
	}
	w.mu.Unlock()

	for _, rec := range fresh {
		w.b.logger.Info("resource changed on server",
			zap.String("resource_id", rec.ResourceID),
			zap.String("modified_by", rec.ModifiedBy),
			zap.Time("server_timestamp", rec.ServerTimestamp))
		w.b.record(ctx, rec.ResourceID, domain.OutcomeStale)
		if w.b.publisher != nil {
			w.b.publisher.Publish(ctx, w.b.topic, rec)
		}
	}
}
