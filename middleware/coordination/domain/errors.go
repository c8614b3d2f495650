package domain

import "errors"

var (
	// ErrCancelled é entregue aos itens ainda na fila quando o Gate é limpo (Clear).
	// Diferente de falha de transporte: quem chamou pode suprimir alertas ao usuário.
	ErrCancelled = errors.New("dispatch cancelled")

	// ErrWorkPanicked envolve um panic ocorrido dentro de um Work.
	ErrWorkPanicked = errors.New("dispatch work panicked")

	// ErrThrottled indica que a requisição de saída excedeu o tempo máximo de espera
	// pelo limiter da chave.
	ErrThrottled = errors.New("outbound request throttled")

	ErrEmptyResourceID = errors.New("empty resource id")
)
