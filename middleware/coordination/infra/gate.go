package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"rental-admin-sync/middleware/coordination/domain"
)

const (
	DefaultMaxConcurrent = 4
	DefaultDelayBetween  = 100 * time.Millisecond
)

// gateItem agrupa o Work com o futuro de quem submeteu.
type gateItem struct {
	ctx    context.Context
	work   domain.Work
	future *Future
	seq    uint64

	// prev fecha quando o item admitido antes deste começou; started fecha quando este começa.
	prev    <-chan struct{}
	started chan struct{}
}

// Gate é a fila de despacho com concorrência limitada e espaçamento entre inícios.
//
// Submit nunca rejeita por capacidade: enfileira indefinidamente. Itens começam em
// ordem FIFO; no máximo maxConcurrent rodam ao mesmo tempo; quando um item termina
// e ainda há fila, o próximo avanço só acontece depois de delayBetween.
//
// Uma instância é normalmente compartilhada por todas as requisições de saída do processo.
type Gate struct {
	mu      sync.Mutex
	queue   []*gateItem
	running int
	nextSeq uint64
	// lastStarted é o canal started do último item admitido.
	lastStarted <-chan struct{}

	maxConcurrent int
	delayBetween  time.Duration

	stats  domain.StatsStore
	logger *zap.Logger
}

var _ domain.Dispatcher = (*Gate)(nil)

type GateOption func(*Gate)

func WithGateStats(s domain.StatsStore) GateOption {
	return func(g *Gate) { g.stats = s }
}

func WithGateLogger(l *zap.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate cria o Gate. maxConcurrent <= 0 usa 4; delayBetween < 0 usa 100ms.
// A configuração é fixa após a construção.
func NewGate(maxConcurrent int, delayBetween time.Duration, opts ...GateOption) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if delayBetween < 0 {
		delayBetween = DefaultDelayBetween
	}
	g := &Gate{
		maxConcurrent: maxConcurrent,
		delayBetween:  delayBetween,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit enfileira o Work e tenta avançar a fila.
// O ctx é repassado ao Work quando ele começar; o Gate não o usa para cancelar.
func (g *Gate) Submit(ctx context.Context, work domain.Work) *Future {
	f := newFuture()
	if work == nil {
		f.settle(nil, fmt.Errorf("nil work"))
		return f
	}
	if ctx == nil {
		ctx = context.Background()
	}

	g.mu.Lock()
	g.nextSeq++
	g.queue = append(g.queue, &gateItem{ctx: ctx, work: work, future: f, seq: g.nextSeq})
	pending := len(g.queue)
	g.mu.Unlock()

	g.logger.Debug("work queued", zap.Int("pending", pending))
	g.advance()
	return f
}

// Do implementa domain.Dispatcher: Submit + Wait.
func (g *Gate) Do(ctx context.Context, work domain.Work) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return g.Submit(ctx, work).Wait(ctx)
}

// advance inicia no máximo um item. É idempotente: se o teto de concorrência foi
// atingido ou a fila está vazia, não faz nada.
func (g *Gate) advance() {
	g.mu.Lock()
	if g.running >= g.maxConcurrent || len(g.queue) == 0 {
		g.mu.Unlock()
		return
	}
	it := g.queue[0]
	g.queue[0] = nil
	g.queue = g.queue[1:]
	it.prev = g.lastStarted
	it.started = make(chan struct{})
	g.lastStarted = it.started
	g.running++
	running := g.running
	g.mu.Unlock()

	g.logger.Debug("work started", zap.Uint64("seq", it.seq), zap.Int("running", running))
	g.record(it.ctx, domain.OutcomeStarted)
	go g.run(it)
}

func (g *Gate) run(it *gateItem) {
	// goroutines não começam na ordem em que foram criadas: cada item espera o
	// início do anterior para manter a ordem FIFO de início
	if it.prev != nil {
		<-it.prev
	}
	close(it.started)

	value, err := g.safeRun(it)
	it.future.settle(value, err)

	if err != nil {
		g.logger.Debug("work failed", zap.Uint64("seq", it.seq), zap.Error(err))
		g.record(it.ctx, domain.OutcomeFailed)
	} else {
		g.record(it.ctx, domain.OutcomeSucceeded)
	}

	g.mu.Lock()
	g.running--
	pending := len(g.queue) > 0
	g.mu.Unlock()

	if !pending {
		return
	}
	if g.delayBetween == 0 {
		g.advance()
		return
	}
	time.AfterFunc(g.delayBetween, g.advance)
}

// safeRun converte panic em erro para que todo futuro seja sempre completado
// e o contador de execução nunca fique preso.
func (g *Gate) safeRun(it *gateItem) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("%w: %v", domain.ErrWorkPanicked, r)
		}
	}()
	return it.work(it.ctx)
}

// Clear cancela em lote tudo que ainda não começou: cada item pendente é completado
// com domain.ErrCancelled. Itens em execução não são afetados.
// Retorna quantos itens foram cancelados.
func (g *Gate) Clear() int {
	g.mu.Lock()
	pending := g.queue
	g.queue = nil
	g.mu.Unlock()

	for _, it := range pending {
		it.future.settle(nil, domain.ErrCancelled)
		g.record(it.ctx, domain.OutcomeCancelled)
	}
	if len(pending) > 0 {
		g.logger.Info("dispatch queue cleared", zap.Int("cancelled", len(pending)))
	}
	return len(pending)
}

// GateSnapshot é uma foto do estado do Gate, útil para logs e testes.
type GateSnapshot struct {
	Pending       int
	Running       int
	MaxConcurrent int
	DelayBetween  time.Duration
}

func (g *Gate) Snapshot() GateSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateSnapshot{
		Pending:       len(g.queue),
		Running:       g.running,
		MaxConcurrent: g.maxConcurrent,
		DelayBetween:  g.delayBetween,
	}
}

func (g *Gate) record(ctx context.Context, outcome domain.Outcome) {
	if g.stats == nil {
		return
	}
	_ = g.stats.Record(context.WithoutCancel(ctx), domain.StatsEvent{
		Component: domain.ComponentGate,
		Outcome:   outcome,
		At:        time.Now(),
	})
}
