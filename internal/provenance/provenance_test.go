package provenance

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/driftwatch/internal/foundry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "provenance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordApply_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	actions := []foundry.AppliedAction{
		{Action: "strategy_added", Drift: "filler", Query: "meta"},
		{Action: "threshold_suggestion", Drift: "density", Query: "*"},
	}
	require.NoError(t, s.RecordApply(2, actions))
	require.NoError(t, s.RecordApply(3, actions[:1]))

	records, err := s.Applies(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, 3, records[0].TableVersion)
	assert.Len(t, records[0].Actions, 1)
	assert.Equal(t, 2, records[1].TableVersion)
	assert.Equal(t, "filler", records[1].Actions[0].Drift)
	assert.NotEmpty(t, records[0].CreatedAt)
}

func TestRecordConsolidation_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordConsolidation(ConsolidationRun{
		Status: "consolidated", SessionsAnalyzed: 6, PatternsValidated: 1, PatternsAdded: 1,
	}))
	require.NoError(t, s.RecordConsolidation(ConsolidationRun{
		Status: "insufficient_data",
	}))

	runs, err := s.Consolidations(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "insufficient_data", runs[0].Status)
	assert.Equal(t, 6, runs[1].SessionsAnalyzed)
	assert.NotEmpty(t, runs[1].CreatedAt)
}

func TestApplies_Limit(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.RecordApply(i, nil))
	}
	records, err := s.Applies(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 5, records[0].TableVersion)
}
