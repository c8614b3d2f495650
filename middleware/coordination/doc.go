// Package coordination junta as peças da camada de coordenação do painel de
// locação: limita as requisições de saída ao backend, detecta recursos
// alterados por outra pessoa e avisa o resto da aplicação.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: regras puras (desatualização, throttle por chave)
//   - infra: implementações concretas (Gate, Bus, token bucket, stats, fetcher HTTP)
//   - coordination (este pacote): middlewares de saída (http.RoundTripper) e os monitores
//
// Fluxo típico:
//
//  1. Um único infra.Gate e um único infra.Bus são criados na subida do processo
//  2. O *http.Client passa por GateTransport e ThrottleTransport
//  3. Monitor e BatchMonitor consultam o timestamp de última modificação no backend
//  4. Recursos desatualizados viram StalenessRecord e, opcionalmente, eventos no Bus
//
// O binário cmd/syncwatch monta esse fluxo a partir de flags e variáveis
// SYNCWATCH_*.
package coordination
