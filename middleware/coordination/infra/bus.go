package infra

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rental-admin-sync/middleware/coordination/domain"
)

// subscription é uma entrada do registro de um tópico.
// id identifica a assinatura; o Subscriber pode não ser comparável (HandlerFunc).
type subscription struct {
	id  uint64
	sub domain.Subscriber
}

// Bus é o barramento publish/subscribe em processo, chaveado por tópico.
//
// Publish entrega de forma síncrona, na ordem de assinatura, para a foto dos
// assinantes registrados no momento da chamada. Falha de um assinante (erro ou
// panic) é registrada e não impede a entrega aos demais.
//
// O barramento não é dono dos recursos dos assinantes: quem assina deve chamar o
// Unsubscriber no seu próprio teardown.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	nextID uint64

	logger *zap.Logger
	stats  domain.StatsStore
	now    func() time.Time
}

var _ domain.Publisher = (*Bus)(nil)

type BusOption func(*Bus)

func WithBusLogger(l *zap.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithBusStats(s domain.StatsStore) BusOption {
	return func(b *Bus) { b.stats = s }
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		topics: make(map[string][]subscription),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registra o assinante no tópico e devolve a função que remove
// exatamente essa assinatura.
//
// Registrar de novo o mesmo assinante (valor comparável e igual) não duplica:
// devolve um Unsubscriber para a assinatura existente.
func (b *Bus) Subscribe(topic string, s domain.Subscriber) domain.Unsubscriber {
	if s == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if reflect.TypeOf(s).Comparable() {
		for _, existing := range b.topics[topic] {
			if sameSubscriber(existing.sub, s) {
				return b.unsubscriber(topic, existing.id)
			}
		}
	}

	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, sub: s})
	return b.unsubscriber(topic, id)
}

// SubscribeFunc é um atalho para Subscribe(topic, domain.HandlerFunc(fn)).
func (b *Bus) SubscribeFunc(topic string, fn func(ctx context.Context, ev domain.Event) error) domain.Unsubscriber {
	if fn == nil {
		return func() {}
	}
	return b.Subscribe(topic, domain.HandlerFunc(fn))
}

func (b *Bus) unsubscriber(topic string, id uint64) domain.Unsubscriber {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.topics[topic]
			for i, s := range subs {
				if s.id != id {
					continue
				}
				// cópia nova: fotos já entregues a um Publish em andamento não mudam
				next := make([]subscription, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				next = append(next, subs[i+1:]...)
				if len(next) == 0 {
					delete(b.topics, topic)
				} else {
					b.topics[topic] = next
				}
				return
			}
		})
	}
}

// Publish entrega o payload a todos os assinantes atuais do tópico e devolve o
// envelope entregue.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) domain.Event {
	if ctx == nil {
		ctx = context.Background()
	}
	ev := domain.Event{
		ID:          uuid.NewString(),
		Topic:       topic,
		Payload:     payload,
		PublishedAt: b.now(),
	}

	b.mu.RLock()
	snapshot := b.topics[topic]
	b.mu.RUnlock()

	for _, s := range snapshot {
		if err := b.deliver(ctx, s.sub, ev); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("topic", topic),
				zap.String("event_id", ev.ID),
				zap.Uint64("subscription", s.id),
				zap.Error(err))
			if b.stats != nil {
				_ = b.stats.Record(ctx, domain.StatsEvent{
					Component: domain.ComponentBus,
					Key:       domain.Key(topic),
					Outcome:   domain.OutcomeHandlerFailed,
					At:        ev.PublishedAt,
				})
			}
		}
	}
	return ev
}

func (b *Bus) deliver(ctx context.Context, s domain.Subscriber, ev domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.OnEvent(ctx, ev)
}

// ClearTopic remove incondicionalmente todas as assinaturas do tópico.
func (b *Bus) ClearTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, topic)
}

// Topics lista os tópicos com pelo menos uma assinatura.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.topics))
	for t := range b.topics {
		out = append(out, t)
	}
	return out
}

func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// sameSubscriber compara com segurança: structs comparáveis podem carregar
// interfaces com funções dentro, e aí o == entra em panic.
func sameSubscriber(a, b domain.Subscriber) (same bool) {
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
