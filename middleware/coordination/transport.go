package coordination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"rental-admin-sync/middleware/coordination/application"
	"rental-admin-sync/middleware/coordination/domain"
)

// KeyFunc extrai a chave de throttle de uma requisição de saída.
type KeyFunc func(r *http.Request) string

// RoundTripperFunc adapta uma função para http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Chain aplica os middlewares de saída na ordem dada: o primeiro é o mais externo.
func Chain(base http.RoundTripper, mws ...func(http.RoundTripper) http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			base = mws[i](base)
		}
	}
	return base
}

type ThrottleOptions struct {
	Store     domain.LimiterStore
	Stats     domain.StatsStore
	KeyFn     KeyFunc
	KeyHeader string
	// MaxWait segue application.Throttle: 0 espera até o ctx, >0 espera no máximo
	// esse tempo, <0 falha na hora com domain.ErrThrottled.
	MaxWait    time.Duration
	RetryAfter time.Duration
}

// DefaultKeyFunc usa o header informado quando presente; senão o host de destino.
func DefaultKeyFunc(keyHeader string) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}
		if r.URL != nil && r.URL.Host != "" {
			return r.URL.Host
		}
		if r.Host != "" {
			return r.Host
		}
		return "unknown"
	}
}

// ThrottleTransport espaça as requisições de saída por chave usando o limiter do Store.
func ThrottleTransport(opts ThrottleOptions) func(next http.RoundTripper) http.RoundTripper {
	if opts.Store == nil {
		return func(next http.RoundTripper) http.RoundTripper { return next }
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader)
	}

	throttle := application.Throttle{
		Store:      opts.Store,
		RetryAfter: opts.RetryAfter,
		MaxWait:    opts.MaxWait,
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			key := opts.KeyFn(r)

			if err := throttle.Wait(r.Context(), domain.Key(key)); err != nil {
				if errors.Is(err, domain.ErrThrottled) && opts.Stats != nil {
					_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
						Component: domain.ComponentTransport,
						Key:       domain.Key(key),
						Outcome:   domain.OutcomeThrottled,
						At:        time.Now(),
					})
				}
				return nil, fmt.Errorf("throttle %s: %w", key, err)
			}
			return next.RoundTrip(r)
		})
	}
}

type GateTransportOptions struct {
	Gate domain.Dispatcher
}

// GateTransport executa cada round trip como um item do Dispatcher.
//
// A vaga é liberada quando chegam os headers da resposta; a leitura do corpo
// acontece fora do Gate. Se quem chamou desistir (ctx encerrado) com o round trip
// em andamento, a resposta que chegar depois tem o corpo fechado.
func GateTransport(opts GateTransportOptions) func(next http.RoundTripper) http.RoundTripper {
	if opts.Gate == nil {
		return func(next http.RoundTripper) http.RoundTripper { return next }
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			h := &handoff{}
			v, err := opts.Gate.Do(r.Context(), func(ctx context.Context) (any, error) {
				// quem chamou pode ter desistido enquanto o item esperava na fila
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				resp, err := next.RoundTrip(r)
				if err != nil {
					return nil, err
				}
				if !h.deliver(resp) {
					return nil, context.Canceled
				}
				return resp, nil
			})
			if err != nil {
				h.abandon()
				return nil, err
			}
			resp, ok := v.(*http.Response)
			if !ok || resp == nil {
				return nil, fmt.Errorf("gate transport: unexpected result %T", v)
			}
			return resp, nil
		})
	}
}

// handoff entrega a resposta do Work para quem chamou. Quem chegar por último
// entre deliver e abandon fecha o corpo de uma resposta sem dono.
type handoff struct {
	mu        sync.Mutex
	resp      *http.Response
	abandoned bool
}

func (h *handoff) deliver(resp *http.Response) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.abandoned {
		closeBody(resp)
		return false
	}
	h.resp = resp
	return true
}

func (h *handoff) abandon() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.abandoned = true
	if h.resp != nil {
		closeBody(h.resp)
		h.resp = nil
	}
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
