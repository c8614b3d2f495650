// Package domain define contratos e tipos de domínio da camada de coordenação:
// fila de despacho (Work/Dispatcher), detecção de desatualização (ResourceTimestamp,
// StalenessRecord, TimestampFetcher) e barramento de eventos (Event, Subscriber).
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
