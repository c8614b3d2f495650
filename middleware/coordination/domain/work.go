package domain

import "context"

// Work é uma unidade opaca de trabalho assíncrono fornecida por quem chama.
// O ctx recebido é o mesmo passado no Submit; o Gate não cancela trabalho em andamento.
type Work func(ctx context.Context) (any, error)

// Dispatcher executa Work respeitando limite de concorrência e espaçamento.
//
// Do bloqueia até o Work terminar ou até o ctx encerrar. Se o ctx encerrar antes,
// o item continua na fila: não existe cancelamento por item.
type Dispatcher interface {
	Do(ctx context.Context, work Work) (any, error)
}
