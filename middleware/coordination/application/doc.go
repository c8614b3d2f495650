// Package application contém os casos de uso (regras de aplicação) da camada de
// coordenação: avaliação de desatualização (Evaluate/EvaluateBatch) e espera
// por vaga no limiter de saída (Throttle).
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Evaluate(ts, lastKnown) retorna um StalenessRecord.
package application
