package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenguard/lumenguard/internal/testutil"
)

func TestPostgresStoreRecordAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	subject := "GABCDEFGHIJKLMNOPQRSTUVWXYZ234567ABCDEFGHIJKLMNOPQRSTUV"
	base := time.Now().UTC().Add(-time.Hour)

	for i, score := range []float64{12.5, 67.0, 100} {
		a := &RiskAssessment{
			ID:          "risk_test_" + string(rune('a'+i)),
			Subject:     subject,
			SubjectType: SubjectAddress,
			Score:       score,
			Level:       LevelForScore(score),
			Threats: []Threat{
				{Name: "unfunded_account", Severity: SeverityLow, Description: "account not found on ledger", Impact: 15},
			},
			Recommendations:    []string{"verify the destination before sending"},
			SignalsUnavailable: []string{"reports"},
			Partial:            true,
			EvaluatedAt:        base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Record(ctx, a))
	}

	got, err := store.ListBySubject(ctx, subject, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Most recent first.
	assert.Equal(t, 100.0, got[0].Score)
	assert.Equal(t, LevelCritical, got[0].Level)
	assert.Len(t, got[0].Threats, 1)
	assert.Equal(t, "unfunded_account", got[0].Threats[0].Name)
	assert.Equal(t, []string{"reports"}, got[0].SignalsUnavailable)
	assert.True(t, got[0].Partial)

	limited, err := store.ListBySubject(ctx, subject, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := store.ListBySubject(ctx, "GOTHER", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
