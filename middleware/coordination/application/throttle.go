package application

import (
	"context"
	"errors"
	"time"

	"rental-admin-sync/middleware/coordination/domain"
)

// Throttle concentra a regra de espaçamento de requisições de saída por chave.
//
// Ele não sabe nada sobre HTTP, apenas decide ou espera.
type Throttle struct {
	Store      domain.LimiterStore
	RetryAfter time.Duration
	// MaxWait controla Wait:
	//   - MaxWait == 0: espera até o ctx encerrar
	//   - MaxWait > 0: espera no máximo MaxWait
	//   - MaxWait < 0: não espera (equivale a Decide)
	MaxWait time.Duration
}

// Decide responde sem bloquear se a chave pode prosseguir agora.
func (t Throttle) Decide(key domain.Key) domain.Decision {
	if t.Store == nil {
		return domain.Decision{Allowed: true}
	}
	if t.RetryAfter <= 0 {
		t.RetryAfter = 1 * time.Second
	}

	lim := t.Store.Get(key)
	if lim == nil {
		return domain.Decision{Allowed: true}
	}
	if lim.Allow() {
		return domain.Decision{Allowed: true}
	}
	return domain.Decision{Allowed: false, RetryAfter: t.RetryAfter}
}

// Wait bloqueia até a chave ter vaga no limiter, respeitando MaxWait.
// Retorna domain.ErrThrottled quando o tempo máximo estoura, ou o erro do ctx
// de quem chamou quando ele é cancelado.
func (t Throttle) Wait(ctx context.Context, key domain.Key) error {
	if t.Store == nil {
		return nil
	}
	if t.MaxWait < 0 {
		if t.Decide(key).Allowed {
			return nil
		}
		return domain.ErrThrottled
	}

	lim := t.Store.Get(key)
	if lim == nil {
		return nil
	}

	if t.MaxWait == 0 {
		return lim.Wait(ctx)
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.MaxWait)
	defer cancel()
	if err := lim.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Join(domain.ErrThrottled, err)
	}
	return nil
}
