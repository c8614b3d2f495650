package domain

import (
	"context"
	"time"
)

// Tópicos convencionados entre quem publica e quem assina.
// O barramento não valida nomes: são apenas acordos entre chamadores.
const (
	TopicResourceUpdated       = "resource:updated"
	TopicResourceStatusChanged = "resource:status_changed"
	TopicRefetchAll            = "*:refetch"

	TopicFinanceUpdated     = "finance:updated"
	TopicOrderStatusChanged = "order:status_changed"
)

// Event é o envelope entregue aos assinantes de um tópico.
type Event struct {
	ID          string
	Topic       string
	Payload     any
	PublishedAt time.Time
}

// Subscriber recebe eventos de um tópico. Erros retornados (e panics) são
// registrados pelo barramento e não impedem a entrega aos demais assinantes.
type Subscriber interface {
	OnEvent(ctx context.Context, ev Event) error
}

// HandlerFunc adapta uma função para Subscriber.
//
// Funções não são comparáveis: registrar a mesma HandlerFunc duas vezes cria
// duas assinaturas. Para deduplicação use um Subscriber de tipo comparável (ponteiro).
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) OnEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Unsubscriber remove exatamente a assinatura que o originou. Chamar mais de uma vez é inofensivo.
type Unsubscriber func()

// Publisher é o lado de publicação do barramento (usado pelos monitores).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) Event
}
