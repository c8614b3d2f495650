package application

import (
	"time"

	"rental-admin-sync/middleware/coordination/domain"
)

// IsNewer aplica a regra de desatualização: só há atualização quando existe
// baseline conhecido e o servidor é estritamente mais novo que ele.
func IsNewer(server, lastKnown time.Time) bool {
	if lastKnown.IsZero() || server.IsZero() {
		return false
	}
	return server.After(lastKnown)
}

// Evaluate compara o timestamp do servidor com o último conhecido.
// Sem baseline o registro volta vazio (apenas ResourceID), nunca HasUpdate.
func Evaluate(ts domain.ResourceTimestamp, lastKnown time.Time) domain.StalenessRecord {
	rec := domain.StalenessRecord{ResourceID: ts.ResourceID}
	if !IsNewer(ts.LastModified, lastKnown) {
		return rec
	}
	rec.HasUpdate = true
	rec.ModifiedBy = ts.ModifiedBy
	rec.ServerTimestamp = ts.LastModified
	return rec
}

// EvaluateBatch devolve apenas os ids desatualizados.
// Ids sem timestamp conhecido ou sem resultado (falha na busca) ficam de fora.
func EvaluateBatch(results map[string]domain.ResourceTimestamp, known map[string]time.Time) map[string]domain.StalenessRecord {
	out := make(map[string]domain.StalenessRecord)
	for id, ts := range results {
		lastKnown, ok := known[id]
		if !ok {
			continue
		}
		if ts.ResourceID == "" {
			ts.ResourceID = id
		}
		rec := Evaluate(ts, lastKnown)
		if rec.HasUpdate {
			out[id] = rec
		}
	}
	return out
}

// CapIDs trunca a lista em max ids, removendo vazios e duplicados e preservando a ordem.
func CapIDs(ids []string, max int) []string {
	if max <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, min(len(ids), max))
	for _, id := range ids {
		if len(out) >= max {
			break
		}
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
