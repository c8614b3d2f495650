package coordination

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"rental-admin-sync/middleware/coordination/application"
	"rental-admin-sync/middleware/coordination/domain"
)

// DefaultMonitorInterval é o intervalo de polling de um recurso aberto na tela.
const DefaultMonitorInterval = 30 * time.Second

// FailureHook é chamado a cada busca que falha, com o número de falhas seguidas
// daquele recurso. Serve para dar visibilidade ao operador; o Watch continua
// silencioso para quem consulta o estado.
type FailureHook func(resourceID string, consecutive int, err error)

// Monitor detecta quando um recurso foi alterado no servidor depois da versão
// que o usuário tem em mãos.
type Monitor struct {
	fetcher  domain.TimestampFetcher
	interval time.Duration

	logger    *zap.Logger
	stats     domain.StatsStore
	onFailure FailureHook
	publisher domain.Publisher
	topic     string
}

type MonitorOption func(*Monitor)

func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithMonitorLogger(l *zap.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMonitorStats(s domain.StatsStore) MonitorOption {
	return func(m *Monitor) { m.stats = s }
}

func WithFailureHook(fn FailureHook) MonitorOption {
	return func(m *Monitor) { m.onFailure = fn }
}

// WithPublisher publica o StalenessRecord no tópico quando uma busca encontra
// um timestamp de servidor novo. Tópico vazio usa domain.TopicResourceUpdated.
func WithPublisher(pub domain.Publisher, topic string) MonitorOption {
	return func(m *Monitor) {
		m.publisher = pub
		if topic == "" {
			topic = domain.TopicResourceUpdated
		}
		m.topic = topic
	}
}

func NewMonitor(fetcher domain.TimestampFetcher, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		fetcher:  fetcher,
		interval: DefaultMonitorInterval,
		logger:   zap.NewNop(),
		topic:    domain.TopicResourceUpdated,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Interval() time.Duration { return m.interval }

// Watch começa a observar o recurso e devolve o handle do polling.
// lastKnown zero significa baseline desconhecido: nunca haverá HasUpdate.
// Quem chama deve chamar Stop no seu teardown.
func (m *Monitor) Watch(ctx context.Context, resourceID string, lastKnown time.Time) *Watch {
	if ctx == nil {
		ctx = context.Background()
	}
	w := &Watch{
		m:        m,
		parent:   ctx,
		baseline: lastKnown,
	}
	w.SetResource(resourceID)
	return w
}

func (m *Monitor) pollFailed(ctx context.Context, id string, consecutive int, err error) {
	m.logger.Debug("resource poll failed",
		zap.String("resource_id", id),
		zap.Int("consecutive_failures", consecutive),
		zap.Error(err))
	m.record(ctx, id, domain.OutcomePollFailed)
	if m.onFailure != nil {
		m.onFailure(id, consecutive, err)
	}
}

func (m *Monitor) notifyStale(ctx context.Context, rec domain.StalenessRecord) {
	m.logger.Info("resource changed on server",
		zap.String("resource_id", rec.ResourceID),
		zap.String("modified_by", rec.ModifiedBy),
		zap.Time("server_timestamp", rec.ServerTimestamp))
	m.record(ctx, rec.ResourceID, domain.OutcomeStale)
	if m.publisher != nil {
		m.publisher.Publish(ctx, m.topic, rec)
	}
}

func (m *Monitor) record(ctx context.Context, id string, outcome domain.Outcome) {
	if m.stats == nil {
		return
	}
	_ = m.stats.Record(context.WithoutCancel(ctx), domain.StatsEvent{
		Component: domain.ComponentMonitor,
		Key:       domain.Key(id),
		Outcome:   outcome,
		At:        time.Now(),
	})
}

// Watch é o polling de um único recurso.
//
// Falhas de busca nunca aparecem no estado: o último registro é mantido.
// Resultados que chegam fora de ordem (tick e CheckNow concorrentes) são
// descartados quando mais antigos que o último aplicado.
type Watch struct {
	m      *Monitor
	parent context.Context

	mu            sync.Mutex
	resourceID    string
	baseline      time.Time
	record        domain.StalenessRecord
	last          domain.ResourceTimestamp
	hasLast       bool
	issued        uint64
	applied       uint64
	failures      int
	lastPublished time.Time
	stopped       bool

	cancel context.CancelFunc
	done   chan struct{}
}

func (w *Watch) State() domain.StalenessRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.record
}

func (w *Watch) ResourceID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resourceID
}

// CheckNow busca imediatamente, fora do ticker, e devolve o estado resultante.
func (w *Watch) CheckNow(ctx context.Context) domain.StalenessRecord {
	w.mu.Lock()
	id := w.resourceID
	w.mu.Unlock()
	if id != "" {
		w.check(ctx, id)
	}
	return w.State()
}

// Dismiss limpa apenas HasUpdate; quem alterou e quando continuam no registro.
// O próximo tick volta a avisar se o servidor continuar mais novo que o baseline.
func (w *Watch) Dismiss() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record.HasUpdate = false
}

// SetBaseline troca o timestamp conhecido (ex: depois de recarregar o recurso)
// e reavalia o último resultado do servidor.
func (w *Watch) SetBaseline(lastKnown time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.baseline = lastKnown
	if w.hasLast {
		w.record = application.Evaluate(w.last, lastKnown)
	} else {
		w.record = domain.StalenessRecord{ResourceID: w.resourceID}
	}
}

// SetResource troca o recurso observado. Id vazio para o polling; um id novo
// zera o estado e reinicia o polling.
func (w *Watch) SetResource(resourceID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || (resourceID == w.resourceID && (resourceID == "" || w.cancel != nil)) {
		return
	}

	if w.cancel != nil {
		w.cancel()
	}
	w.cancel, w.done = nil, nil

	w.resourceID = resourceID
	w.record = domain.StalenessRecord{ResourceID: resourceID}
	w.last, w.hasLast = domain.ResourceTimestamp{}, false
	w.failures = 0
	w.lastPublished = time.Time{}
	// buscas em voo do recurso anterior não podem mais ser aplicadas
	w.applied = w.issued

	if resourceID == "" {
		return
	}
	ctx, cancel := context.WithCancel(w.parent)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, resourceID, w.done)
}

// Stop encerra o polling e espera o loop terminar. Idempotente.
// Não deve ser chamado de dentro de um assinante que recebe a publicação
// deste mesmo Watch.
func (w *Watch) Stop() {
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

func (w *Watch) loop(ctx context.Context, id string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.m.interval)
	defer ticker.Stop()

	w.check(ctx, id)

	for {
		select {
		case <-ticker.C:
			w.check(ctx, id)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watch) check(ctx context.Context, id string) {
	w.mu.Lock()
	if w.stopped || w.resourceID != id {
		w.mu.Unlock()
		return
	}
	w.issued++
	seq := w.issued
	w.mu.Unlock()

	ts, err := w.m.fetcher.FetchTimestamp(ctx, id)

	w.mu.Lock()
	if w.stopped || w.resourceID != id || seq <= w.applied {
		w.mu.Unlock()
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			w.mu.Unlock()
			return
		}
		w.failures++
		consecutive := w.failures
		w.mu.Unlock()
		w.m.pollFailed(ctx, id, consecutive, err)
		return
	}

	if ts.ResourceID == "" {
		ts.ResourceID = id
	}
	w.applied = seq
	w.failures = 0
	w.last, w.hasLast = ts, true
	w.record = application.Evaluate(ts, w.baseline)

	rec := w.record
	fresh := rec.HasUpdate && !rec.ServerTimestamp.Equal(w.lastPublished)
	if fresh {
		w.lastPublished = rec.ServerTimestamp
	}
	w.mu.Unlock()

	if fresh {
		w.m.notifyStale(ctx, rec)
	}
}
