package infra

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"rental-admin-sync/middleware/coordination/domain"
)

// PrometheusStatsStore expõe os eventos como contador rotulado por componente e desfecho.
// Key não vira rótulo (cardinalidade).
type PrometheusStatsStore struct {
	events *prometheus.CounterVec
}

func NewPrometheusStatsStore(reg prometheus.Registerer, namespace string) (*PrometheusStatsStore, error) {
	if namespace == "" {
		namespace = "coordination"
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Coordination layer events by component and outcome.",
	}, []string{"component", "outcome"})

	if reg != nil {
		if err := reg.Register(events); err != nil {
			return nil, err
		}
	}
	return &PrometheusStatsStore{events: events}, nil
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.events.WithLabelValues(string(ev.Component), string(ev.Outcome)).Inc()
	return nil
}

// Counter devolve o contador de um par (componente, desfecho). Usado em testes.
func (s *PrometheusStatsStore) Counter(component domain.Component, outcome domain.Outcome) prometheus.Counter {
	return s.events.WithLabelValues(string(component), string(outcome))
}

// MultiStats repassa cada evento a vários stores, juntando os erros.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
