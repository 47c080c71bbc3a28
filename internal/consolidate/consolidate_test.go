package consolidate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/driftwatch/internal/ledger"
)

func newTestConsolidator(t *testing.T) (*Consolidator, *ledger.Store) {
	t.Helper()
	st, err := ledger.New(t.TempDir(), nil)
	require.NoError(t, err)
	return New(st), st
}

// dayEpoch returns an epoch n days ago at a fixed offset within the day.
func dayEpoch(daysAgo int) float64 {
	return float64(time.Now().AddDate(0, 0, -daysAgo).Unix())
}

func appendSession(t *testing.T, st *ledger.Store, markerEpoch float64, entries ...ledger.ScoreEntry) {
	t.Helper()
	require.NoError(t, ledger.AppendJSON(st.ScoresPath(), map[string]interface{}{
		"ts": "marker", "epoch": markerEpoch, "type": "session_start", "source": "startup", "id": "m",
	}))
	for _, e := range entries {
		require.NoError(t, st.AppendScore(e))
	}
}

func TestSummarize(t *testing.T) {
	epoch := dayEpoch(1)
	entries := []ledger.ScoreEntry{
		{Epoch: epoch, WordCount: 10, PaddingCount: 2, InfoDensity: 0.5, QueryType: "factual"},
		{Epoch: epoch + 60, WordCount: 20, AnswerPosition: 5, InfoDensity: 0.7, QueryType: "factual"},
		{Epoch: epoch + 120, WordCount: 30, InfoDensity: 0.9},
	}

	s, ok := Summarize(entries)
	require.True(t, ok)

	want := Summary{
		Epoch:      epoch,
		Date:       time.Unix(int64(epoch), 0).Format("2006-01-02"),
		Responses:  3,
		AvgDensity: 0.7,
		DriftTypes: []string{"filler", "preamble"},
		QueryTypes: map[string]int{"factual": 2, "ambiguous": 1},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize_DensityNotASessionDriftType(t *testing.T) {
	entries := []ledger.ScoreEntry{
		{Epoch: dayEpoch(1), WordCount: 10, InfoDensity: 0.1, QueryType: "factual"},
	}
	s, ok := Summarize(entries)
	require.True(t, ok)
	if len(s.DriftTypes) != 0 {
		t.Errorf("drift types: got %v, want none", s.DriftTypes)
	}
}

func TestSummarize_EmptySegment(t *testing.T) {
	if _, ok := Summarize(nil); ok {
		t.Error("empty segment should not summarize")
	}
}

func TestSegments(t *testing.T) {
	c, st := newTestConsolidator(t)

	// Head entries before any marker form the implicit epoch-0 segment.
	require.NoError(t, st.AppendScore(ledger.ScoreEntry{TS: "x", Epoch: dayEpoch(2), WordCount: 1}))
	appendSession(t, st, dayEpoch(1), ledger.ScoreEntry{TS: "y", Epoch: dayEpoch(1) + 60, WordCount: 2})
	// Empty trailing session is dropped.
	appendSession(t, st, dayEpoch(0))

	segs, err := c.segments()
	require.NoError(t, err)
	require.Len(t, segs, 2)
	if segs[0].markerEpoch != 0 {
		t.Errorf("head segment key: got %v, want 0", segs[0].markerEpoch)
	}
	if len(segs[0].entries) != 1 || segs[0].entries[0].WordCount != 1 {
		t.Errorf("head segment entries: %+v", segs[0].entries)
	}
	if len(segs[1].entries) != 1 || segs[1].entries[0].WordCount != 2 {
		t.Errorf("trailing segment flushed: %+v", segs[1].entries)
	}
}

func TestRun_InsufficientData(t *testing.T) {
	c, st := newTestConsolidator(t)
	appendSession(t, st, dayEpoch(1), ledger.ScoreEntry{TS: "a", Epoch: dayEpoch(1) + 1, WordCount: 5, PaddingCount: 1})

	report, err := c.Run()
	require.NoError(t, err)
	if report.Status != "insufficient_data" {
		t.Fatalf("status: got %q", report.Status)
	}
	if report.Sessions != 1 || report.Required != MinSessions {
		t.Errorf("report: %+v", report)
	}
	if patterns := c.LoadPatterns(); patterns != nil {
		t.Errorf("no patterns expected, got %v", patterns)
	}
}

func TestRun_ValidatesRecurringDrift(t *testing.T) {
	c, st := newTestConsolidator(t)

	// Five sessions with filler drift spread over exactly three calendar
	// days: both gates pass at their boundaries.
	for i := 0; i < 5; i++ {
		day := i % 3
		epoch := dayEpoch(day) + float64(i)
		appendSession(t, st, epoch,
			ledger.ScoreEntry{TS: "s", Epoch: epoch + 1, WordCount: 10, PaddingCount: 2, InfoDensity: 0.5, QueryType: "factual"})
	}

	report, err := c.Run()
	require.NoError(t, err)
	if report.Status != "consolidated" {
		t.Fatalf("status: got %q", report.Status)
	}
	if report.SessionsAnalyzed != 5 || report.PatternsValidated != 1 {
		t.Errorf("report: %+v", report)
	}
	if len(report.PatternsAdded) != 1 || report.PatternsAdded[0] != "filler" {
		t.Errorf("added: %v", report.PatternsAdded)
	}

	patterns := c.LoadPatterns()
	require.Len(t, patterns, 1)
	p := patterns[0]
	if p.DriftType != "filler" || p.Status != StatusValidated {
		t.Errorf("pattern: %+v", p)
	}
	if p.Sessions != 5 || p.UniqueDays < MinCalendarDays {
		t.Errorf("gate counters: %+v", p)
	}
}

func TestRun_CalendarGateBlocksTwoDayBurst(t *testing.T) {
	c, st := newTestConsolidator(t)

	// Five drifting sessions on only two calendar days: session gate passes,
	// calendar gate does not.
	for i := 0; i < 5; i++ {
		epoch := dayEpoch(i%2) + float64(i*100)
		appendSession(t, st, epoch,
			ledger.ScoreEntry{TS: "s", Epoch: epoch + 1, WordCount: 10, PaddingCount: 3, InfoDensity: 0.4})
	}

	report, err := c.Run()
	require.NoError(t, err)
	if report.Status != "consolidated" {
		t.Fatalf("status: got %q", report.Status)
	}
	if report.PatternsValidated != 0 {
		t.Errorf("validated: got %d, want 0", report.PatternsValidated)
	}
}

func TestRun_DemotesToStaleNeverDeletes(t *testing.T) {
	c, st := newTestConsolidator(t)

	// Seed a previously validated pattern.
	require.NoError(t, ledger.WriteDoc(st.PatternsPath(), []Pattern{
		{DriftType: "preamble", Sessions: 6, UniqueDays: 4, FirstSeen: "2026-08-01", LastSeen: "2026-08-10", Status: StatusValidated},
	}))

	// Five clean sessions: preamble fails to requalify.
	for i := 0; i < 5; i++ {
		day := i % 4
		epoch := dayEpoch(day) + float64(i*10)
		appendSession(t, st, epoch,
			ledger.ScoreEntry{TS: "s", Epoch: epoch + 1, WordCount: 10, InfoDensity: 0.8})
	}

	report, err := c.Run()
	require.NoError(t, err)
	if len(report.PatternsStale) != 1 || report.PatternsStale[0] != "preamble" {
		t.Fatalf("stale: %v", report.PatternsStale)
	}

	patterns := c.LoadPatterns()
	require.Len(t, patterns, 1)
	if patterns[0].Status != StatusStale {
		t.Errorf("status: got %q, want stale", patterns[0].Status)
	}
}

func TestRun_SummaryCacheSkipsRecomputation(t *testing.T) {
	c, st := newTestConsolidator(t)

	epoch := dayEpoch(1)
	appendSession(t, st, epoch,
		ledger.ScoreEntry{TS: "s", Epoch: epoch + 1, WordCount: 10, PaddingCount: 1, InfoDensity: 0.6})

	_, err := c.Run()
	require.NoError(t, err)
	_, err = c.Run()
	require.NoError(t, err)

	// One cache line per marker epoch despite two runs.
	summaries := c.LoadSummaries()
	require.Len(t, summaries, 1)
	if summaries[0].MarkerEpoch != epoch {
		t.Errorf("marker epoch: got %v, want %v", summaries[0].MarkerEpoch, epoch)
	}
}

func TestRun_RevalidationKeepsPatternFresh(t *testing.T) {
	c, st := newTestConsolidator(t)

	for i := 0; i < 6; i++ {
		day := i % 4
		epoch := dayEpoch(day) + float64(i*7)
		appendSession(t, st, epoch,
			ledger.ScoreEntry{TS: "s", Epoch: epoch + 1, WordCount: 10, AnswerPosition: 6, InfoDensity: 0.7})
	}

	first, err := c.Run()
	require.NoError(t, err)
	require.Equal(t, "consolidated", first.Status)
	require.Len(t, first.PatternsAdded, 1)

	second, err := c.Run()
	require.NoError(t, err)
	if len(second.PatternsAdded) != 0 {
		t.Errorf("revalidation should not re-add: %v", second.PatternsAdded)
	}
	if len(second.PatternsStale) != 0 {
		t.Errorf("still-qualifying pattern demoted: %v", second.PatternsStale)
	}
}
