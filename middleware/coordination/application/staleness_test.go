package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rental-admin-sync/middleware/coordination/domain"
)

func ms(v int64) time.Time { return time.UnixMilli(v) }

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ts        domain.ResourceTimestamp
		lastKnown time.Time
		expected  domain.StalenessRecord
	}{
		{
			name:      "newer server timestamp reports update",
			ts:        domain.ResourceTimestamp{ResourceID: "r1", LastModified: ms(1500), ModifiedBy: "Alice"},
			lastKnown: ms(1000),
			expected: domain.StalenessRecord{
				ResourceID:      "r1",
				HasUpdate:       true,
				ModifiedBy:      "Alice",
				ServerTimestamp: ms(1500),
			},
		},
		{
			name:      "unknown baseline never reports",
			ts:        domain.ResourceTimestamp{ResourceID: "r1", LastModified: ms(1500), ModifiedBy: "Alice"},
			lastKnown: time.Time{},
			expected:  domain.StalenessRecord{ResourceID: "r1"},
		},
		{
			name:      "equal timestamps are not stale",
			ts:        domain.ResourceTimestamp{ResourceID: "r1", LastModified: ms(1000)},
			lastKnown: ms(1000),
			expected:  domain.StalenessRecord{ResourceID: "r1"},
		},
		{
			name:      "older server timestamp is not stale",
			ts:        domain.ResourceTimestamp{ResourceID: "r1", LastModified: ms(900)},
			lastKnown: ms(1000),
			expected:  domain.StalenessRecord{ResourceID: "r1"},
		},
		{
			name:      "null server timestamp is not stale",
			ts:        domain.ResourceTimestamp{ResourceID: "r1"},
			lastKnown: ms(1000),
			expected:  domain.StalenessRecord{ResourceID: "r1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Evaluate(tt.ts, tt.lastKnown))
		})
	}
}

func TestEvaluateBatch_OnlyKnownAndNewer(t *testing.T) {
	t.Parallel()

	results := map[string]domain.ResourceTimestamp{
		"A": {ResourceID: "A", LastModified: ms(150)},
		"B": {ResourceID: "B", LastModified: ms(150)},
		"C": {ResourceID: "C", LastModified: ms(999)},
	}
	known := map[string]time.Time{"A": ms(100), "B": ms(200)}

	got := EvaluateBatch(results, known)

	assert.Len(t, got, 1)
	assert.True(t, got["A"].HasUpdate)
	assert.Equal(t, ms(150), got["A"].ServerTimestamp)
	assert.NotContains(t, got, "B")
	assert.NotContains(t, got, "C")
}

func TestEvaluateBatch_MissingResultIsAbsent(t *testing.T) {
	t.Parallel()

	results := map[string]domain.ResourceTimestamp{
		"A": {LastModified: ms(300)},
	}
	known := map[string]time.Time{"A": ms(100), "B": ms(100)}

	got := EvaluateBatch(results, known)

	assert.Equal(t, map[string]domain.StalenessRecord{
		"A": {ResourceID: "A", HasUpdate: true, ServerTimestamp: ms(300)},
	}, got)
}

func TestCapIDs(t *testing.T) {
	t.Parallel()

	ids := []string{"a", "", "b", "a", "c", "d"}
	assert.Equal(t, []string{"a", "b", "c"}, CapIDs(ids, 3))
	assert.Equal(t, []string{"a", "b", "c", "d"}, CapIDs(ids, 10))
	assert.Nil(t, CapIDs(ids, 0))
}
