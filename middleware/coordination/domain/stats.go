package domain

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_stats.go -package=mocks -source=stats.go StatsStore

// Component identifica a peça da camada de coordenação que gerou o evento.
type Component string

const (
	ComponentGate      Component = "gate"
	ComponentMonitor   Component = "monitor"
	ComponentBatch     Component = "batch"
	ComponentBus       Component = "bus"
	ComponentTransport Component = "transport"
)

type Outcome string

const (
	OutcomeStarted       Outcome = "started"
	OutcomeSucceeded     Outcome = "succeeded"
	OutcomeFailed        Outcome = "failed"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeStale         Outcome = "stale"
	OutcomePollFailed    Outcome = "poll_failed"
	OutcomeHandlerFailed Outcome = "handler_failed"
	OutcomeThrottled     Outcome = "throttled"
)

// StatsEvent representa algo observável que aconteceu na camada de coordenação.
//
// Key é livre (id do recurso, tópico, host). Cuidado com cardinalidade ao
// armazenar Key em Redis/Prometheus.
type StatsEvent struct {
	Component Component
	Key       Key
	Outcome   Outcome

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// Quem registra deve tratar erro como best-effort (nunca derrubar o fluxo).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
