// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - Gate: fila de despacho com concorrência limitada e espaçamento entre inícios
//   - Bus: publish/subscribe em processo, por tópico
//   - Store: token bucket por chave usando golang.org/x/time/rate
//   - HTTPFetcher: busca de last_modified/modified_by no backend
//   - Stats: memória, Redis e Prometheus
package infra
