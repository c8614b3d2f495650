package domain

import (
	"context"
	"time"
)

type Key string

// Limiter representa algo que pode decidir se uma ação é permitida agora,
// ou esperar até que seja.
//
// Observação: a implementação pode ser token-bucket, leaky-bucket, etc.
// A camada de infra usa golang.org/x/time/rate.
type Limiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// LimiterStore obtém um limiter por chave (ex: host do backend, rota, usuário).
// A implementação pode manter cache, TTL, etc.
type LimiterStore interface {
	Get(Key) Limiter
}

type Decision struct {
	Allowed bool
	// RetryAfter é a sugestão de espera quando bloqueado.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
