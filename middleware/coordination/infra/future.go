package infra

import (
	"context"
	"sync"
)

// Future é o "promise" devolvido pelo Gate.Submit.
// É completado exatamente uma vez, quando o Work termina ou é cancelado pelo Clear.
type Future struct {
	ch chan struct{}

	once  sync.Once
	value any
	err   error
}

func newFuture() *Future {
	return &Future{ch: make(chan struct{})}
}

// settle completa o futuro. Chamadas repetidas são ignoradas.
func (f *Future) settle(value any, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.ch)
	})
}

// Done retorna um canal fechado quando o resultado estiver disponível.
func (f *Future) Done() <-chan struct{} {
	return f.ch
}

// Wait bloqueia até o futuro completar ou o ctx encerrar.
// Se o ctx encerrar antes, retorna ctx.Err() e o item continua na fila do Gate.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.ch:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result retorna o valor, se o futuro já completou e o erro, sem bloquear.
func (f *Future) Result() (value any, done bool, err error) {
	select {
	case <-f.ch:
		return f.value, true, f.err
	default:
		return nil, false, nil
	}
}
