package observe

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/driftwatch/internal/classify"
	"github.com/danielpatrickdp/driftwatch/internal/drift"
	"github.com/danielpatrickdp/driftwatch/internal/fitness"
	"github.com/danielpatrickdp/driftwatch/internal/ledger"
	"github.com/danielpatrickdp/driftwatch/internal/thresholds"
)

func newTestPipeline(t *testing.T) (*Pipeline, *ledger.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := ledger.New(dir, func() float64 { return 0.99 }) // never rotate
	require.NoError(t, err)
	p := &Pipeline{
		Store:      st,
		Tags:       classify.NewTagStore(dir),
		Detector:   drift.NewDetector(thresholds.NewStore(st.ThresholdsPath()), st.CorrectionsPath()),
		Fitness:    fitness.NewTracker(st),
		RotateProb: 0.01,
	}
	return p, st
}

func TestObserveText_Empty(t *testing.T) {
	p, st := newTestPipeline(t)

	res, err := p.ObserveText("")
	require.NoError(t, err)
	assert.Nil(t, res)

	entries, err := st.Scores()
	require.NoError(t, err)
	assert.Empty(t, entries, "empty text must not touch the ledger")
}

func TestObserveText_SycophanticFactualResponse(t *testing.T) {
	p, st := newTestPipeline(t)
	require.NoError(t, p.Tags.Write(classify.QueryFactual))

	text := "Great question! I'd be happy to help with that. " +
		"The capital of France is Paris. Let me know if you need anything else!"
	res, err := p.ObserveText(text)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.GreaterOrEqual(t, res.Score.PaddingCount, 3)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, drift.SeverityHigh, res.Verdict.Severity)
	assert.NotEmpty(t, res.Verdict.Correction)
	assert.Equal(t, "factual", res.QueryType)

	// The verdict landed in the drift-flag slot.
	var flagged drift.Verdict
	require.True(t, st.DriftFlag().Take(&flagged))
	assert.Equal(t, res.Verdict.Correction, flagged.Correction)

	// And the score line was appended with its query type.
	entries, err := st.Scores()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "factual", entries[0].QueryType)
	assert.NotZero(t, entries[0].Epoch)
}

func TestObserveText_CleanCodeResponse(t *testing.T) {
	p, st := newTestPipeline(t)
	require.NoError(t, p.Tags.Write(classify.QueryCode))

	res, err := p.ObserveText("Line 42 has a TypeError: `resp.data` is undefined when the fetch fails.")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Zero(t, res.Score.PaddingCount)
	assert.Nil(t, res.Verdict, "clean code response must not flag drift")

	var flagged drift.Verdict
	assert.False(t, st.DriftFlag().Take(&flagged))
}

func TestObserveText_ClosesFeedbackLoop(t *testing.T) {
	p, _ := newTestPipeline(t)
	require.NoError(t, p.Tags.Write(classify.QueryFactual))

	// First response drifts; pretend injection consumed the flag and
	// recorded the pending correction.
	first, err := p.ObserveText("Great question! I'd be happy to help. Absolutely! Of course! Filler filler filler.")
	require.NoError(t, err)
	require.NotNil(t, first.Verdict)
	require.NoError(t, p.Fitness.Record(first.Verdict))

	// Second response is clean: the pending correction evaluates effective.
	second, err := p.ObserveText("Paris hosts twelve major museums downtown.")
	require.NoError(t, err)
	require.NotNil(t, second)
	require.NotNil(t, second.Outcome)
	assert.True(t, second.Outcome.Effective)
}

func TestObserveTranscript_NoAssistantText(t *testing.T) {
	p, _ := newTestPipeline(t)

	res, err := p.ObserveTranscript(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err)
	assert.Nil(t, res)
}
