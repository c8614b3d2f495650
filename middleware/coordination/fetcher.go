package coordination

import (
	"context"
	"fmt"

	"rental-admin-sync/middleware/coordination/domain"
)

// GatedFetcher faz cada busca de timestamp passar pelo Dispatcher.
// Com dispatcher nil devolve o próprio fetcher.
func GatedFetcher(f domain.TimestampFetcher, d domain.Dispatcher) domain.TimestampFetcher {
	if d == nil {
		return f
	}
	return domain.FetcherFunc(func(ctx context.Context, resourceID string) (domain.ResourceTimestamp, error) {
		v, err := d.Do(ctx, func(ctx context.Context) (any, error) {
			ts, err := f.FetchTimestamp(ctx, resourceID)
			if err != nil {
				return nil, err
			}
			return ts, nil
		})
		if err != nil {
			return domain.ResourceTimestamp{}, err
		}
		ts, ok := v.(domain.ResourceTimestamp)
		if !ok {
			return domain.ResourceTimestamp{}, fmt.Errorf("gated fetcher: unexpected result %T", v)
		}
		return ts, nil
	})
}
