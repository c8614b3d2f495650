package domain

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks -source=staleness.go TimestampFetcher

// ResourceTimestamp é o metadado de última mutação de um recurso, como reportado
// pelo backend. LastModified zero significa "desconhecido" (last_modified: null).
type ResourceTimestamp struct {
	ResourceID   string
	LastModified time.Time
	ModifiedBy   string
}

// StalenessRecord é o resultado da comparação entre o ResourceTimestamp do servidor
// e o último timestamp conhecido por quem está visualizando o recurso.
//
// ModifiedBy e ServerTimestamp só são preenchidos por uma busca que encontrou
// atualização. Dismiss desliga HasUpdate e mantém os dois.
type StalenessRecord struct {
	ResourceID      string
	HasUpdate       bool
	ModifiedBy      string
	ServerTimestamp time.Time
}

// TimestampFetcher busca o ResourceTimestamp atual de um recurso.
// É a "função de requisição" consumida pelos monitores; pode passar pelo Dispatcher.
type TimestampFetcher interface {
	FetchTimestamp(ctx context.Context, resourceID string) (ResourceTimestamp, error)
}

// FetcherFunc adapta uma função comum para TimestampFetcher.
type FetcherFunc func(ctx context.Context, resourceID string) (ResourceTimestamp, error)

func (f FetcherFunc) FetchTimestamp(ctx context.Context, resourceID string) (ResourceTimestamp, error) {
	return f(ctx, resourceID)
}
