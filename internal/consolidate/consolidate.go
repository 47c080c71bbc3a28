// Package consolidate segments the score ledger into sessions, summarizes
// them, and promotes recurring drift into validated patterns behind overfit
// gates: a drift type must appear in enough sessions spread over enough
// calendar days before it is trusted.
package consolidate

// #region imports
import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/danielpatrickdp/driftwatch/internal/ledger"
)

// #endregion

// #region gates

// Overfit gates.
const (
	MinSessions     = 5
	MinCalendarDays = 3
)

// Pattern statuses.
const (
	StatusValidated = "validated"
	StatusStale     = "stale"
)

// #endregion

// #region types

// Summary condenses one session segment. MarkerEpoch keys the cache entry
// back to the session marker that opened the segment.
type Summary struct {
	Epoch       float64        `json:"epoch"`
	Date        string         `json:"date"`
	Responses   int            `json:"responses"`
	AvgDensity  float64        `json:"avg_density"`
	DriftTypes  []string       `json:"drift_types"`
	QueryTypes  map[string]int `json:"query_types"`
	MarkerEpoch float64        `json:"_marker_epoch,omitempty"`
}

// Pattern is one live record per drift type. Demotion to stale is a status
// overwrite; patterns are never deleted.
type Pattern struct {
	DriftType  string `json:"drift_type"`
	Sessions   int    `json:"sessions"`
	UniqueDays int    `json:"unique_days"`
	FirstSeen  string `json:"first_seen"`
	LastSeen   string `json:"last_seen"`
	Status     string `json:"status"`
}

// Report describes what a consolidation run changed.
type Report struct {
	Status            string   `json:"status"`
	Sessions          int      `json:"sessions,omitempty"`
	Required          int      `json:"required,omitempty"`
	SessionsAnalyzed  int      `json:"sessions_analyzed,omitempty"`
	PatternsValidated int      `json:"patterns_validated,omitempty"`
	PatternsAdded     []string `json:"patterns_added,omitempty"`
	PatternsStale     []string `json:"patterns_stale,omitempty"`
}

type keyedSegment struct {
	markerEpoch float64
	entries     []ledger.ScoreEntry
}

// #endregion

// #region consolidator

// Consolidator runs pattern consolidation over a ledger store.
type Consolidator struct {
	store *ledger.Store
	now   func() time.Time
}

// New creates a Consolidator.
func New(store *ledger.Store) *Consolidator {
	return &Consolidator{store: store, now: time.Now}
}

// #endregion

// #region segmentation

// segments splits the score ledger at session markers. Entries before the
// first marker form an implicit segment keyed by epoch 0; the trailing
// segment is flushed without a closing marker; empty segments are dropped.
func (c *Consolidator) segments() ([]keyedSegment, error) {
	entries, err := c.store.Scores()
	if err != nil {
		return nil, err
	}

	var out []keyedSegment
	currentKey := 0.0
	var current []ledger.ScoreEntry

	for _, e := range entries {
		if e.IsMarker() {
			if len(current) > 0 {
				out = append(out, keyedSegment{currentKey, current})
			}
			currentKey = e.Epoch
			current = nil
			continue
		}
		current = append(current, e)
	}
	if len(current) > 0 {
		out = append(out, keyedSegment{currentKey, current})
	}
	return out, nil
}

// #endregion

// #region summarize

// Summarize condenses a segment of score entries. Density drift is not
// tracked at the summary level; only filler and preamble count as session
// drift types. This is a policy choice, revisited if density-only sessions
// turn out to matter.
func Summarize(entries []ledger.ScoreEntry) (Summary, bool) {
	var scores []ledger.ScoreEntry
	for _, e := range entries {
		if !e.IsMarker() {
			scores = append(scores, e)
		}
	}
	if len(scores) == 0 {
		return Summary{}, false
	}

	driftSet := make(map[string]bool)
	queryTypes := make(map[string]int)
	var sumDensity float64
	for _, s := range scores {
		if s.PaddingCount > 0 {
			driftSet["filler"] = true
		}
		if s.AnswerPosition > 0 {
			driftSet["preamble"] = true
		}
		qt := s.QueryType
		if qt == "" {
			qt = "ambiguous"
		}
		queryTypes[qt]++
		sumDensity += s.InfoDensity
	}

	driftTypes := make([]string, 0, len(driftSet))
	for dt := range driftSet {
		driftTypes = append(driftTypes, dt)
	}
	sort.Strings(driftTypes)

	first := scores[0].Epoch
	date := ""
	if first > 0 {
		date = time.Unix(int64(first), 0).Format("2006-01-02")
	}

	return Summary{
		Epoch:      first,
		Date:       date,
		Responses:  len(scores),
		AvgDensity: math.Round(sumDensity/float64(len(scores))*1000) / 1000,
		DriftTypes: driftTypes,
		QueryTypes: queryTypes,
	}, true
}

// #endregion

// #region summary-cache

// AppendSummary writes a summary to the cache ledger.
func (c *Consolidator) AppendSummary(s Summary) error {
	return ledger.AppendJSON(c.store.SummariesPath(), s)
}

// LoadSummaries returns cached summaries within the retention window.
func (c *Consolidator) LoadSummaries() []Summary {
	cutoff := float64(c.now().Unix()) - ledger.MemoryRetention.Seconds()
	var out []Summary
	_ = ledger.ForEachLine(c.store.SummariesPath(), func(line []byte) {
		var s Summary
		if json.Unmarshal(line, &s) == nil && s.Epoch >= cutoff {
			out = append(out, s)
		}
	})
	return out
}

func (c *Consolidator) cachedMarkerEpochs() map[float64]bool {
	out := make(map[float64]bool)
	_ = ledger.ForEachLine(c.store.SummariesPath(), func(line []byte) {
		var s Summary
		if json.Unmarshal(line, &s) == nil && s.MarkerEpoch != 0 {
			out[s.MarkerEpoch] = true
		}
	})
	return out
}

// RotateSummaries drops cache entries older than the retention window.
func (c *Consolidator) RotateSummaries() error {
	return ledger.RotateJSONL(c.store.SummariesPath(), ledger.MemoryRetention)
}

// #endregion

// #region run

// Run consolidates the score ledger into validated patterns. Segments are
// summarized (cached by marker epoch to skip recomputation), gated, and
// merged into the patterns document. Previously validated patterns that no
// longer qualify are demoted to stale, never deleted.
func (c *Consolidator) Run() (Report, error) {
	keyed, err := c.segments()
	if err != nil {
		return Report{}, err
	}

	cached := c.cachedMarkerEpochs()
	retentionCutoff := float64(c.now().Unix()) - ledger.MemoryRetention.Seconds()

	var summaries []Summary
	for _, seg := range keyed {
		if len(seg.entries) > 0 && seg.entries[0].Epoch > 0 && seg.entries[0].Epoch < retentionCutoff {
			continue
		}
		summary, ok := Summarize(seg.entries)
		if !ok {
			continue
		}
		if seg.markerEpoch > 0 && !cached[seg.markerEpoch] {
			cacheEntry := summary
			cacheEntry.MarkerEpoch = seg.markerEpoch
			_ = c.AppendSummary(cacheEntry)
		}
		summaries = append(summaries, summary)
	}

	// No usable segments: fall back to previously cached summaries.
	if len(summaries) == 0 {
		summaries = c.LoadSummaries()
	}

	if len(summaries) < MinSessions {
		return Report{Status: "insufficient_data", Sessions: len(summaries), Required: MinSessions}, nil
	}

	// Group drift-type sightings by calendar date.
	driftDates := make(map[string][]string)
	for _, s := range summaries {
		for _, dt := range s.DriftTypes {
			driftDates[dt] = append(driftDates[dt], s.Date)
		}
	}

	// Overfit gates: session count and calendar-day spread.
	var validated []Pattern
	for _, dt := range sortedKeys(driftDates) {
		dates := driftDates[dt]
		unique := uniqueCount(dates)
		if len(dates) >= MinSessions && unique >= MinCalendarDays {
			validated = append(validated, Pattern{
				DriftType:  dt,
				Sessions:   len(dates),
				UniqueDays: unique,
				FirstSeen:  minString(dates),
				LastSeen:   maxString(dates),
				Status:     StatusValidated,
			})
		}
	}

	existing := c.LoadPatterns()
	existingValidated := make(map[string]bool)
	for _, p := range existing {
		if p.Status == StatusValidated {
			existingValidated[p.DriftType] = true
		}
	}
	validatedNow := make(map[string]bool, len(validated))
	for _, p := range validated {
		validatedNow[p.DriftType] = true
	}

	// Contradiction handling: demote patterns that failed to requalify.
	var stale []string
	for i := range existing {
		if existing[i].Status == StatusValidated && !validatedNow[existing[i].DriftType] {
			existing[i].Status = StatusStale
			stale = append(stale, existing[i].DriftType)
		}
	}

	merged := make(map[string]Pattern, len(existing))
	for _, p := range existing {
		merged[p.DriftType] = p
	}
	for _, p := range validated {
		merged[p.DriftType] = p
	}
	if err := c.savePatterns(merged); err != nil {
		return Report{}, err
	}

	var added []string
	for _, p := range validated {
		if !existingValidated[p.DriftType] {
			added = append(added, p.DriftType)
		}
	}

	return Report{
		Status:            "consolidated",
		SessionsAnalyzed:  len(summaries),
		PatternsValidated: len(validated),
		PatternsAdded:     added,
		PatternsStale:     stale,
	}, nil
}

// #endregion

// #region patterns-io

// LoadPatterns reads the patterns document. Missing or corrupt documents
// degrade to empty.
func (c *Consolidator) LoadPatterns() []Pattern {
	var out []Pattern
	if !ledger.ReadDoc(c.store.PatternsPath(), &out) {
		return nil
	}
	return out
}

func (c *Consolidator) savePatterns(merged map[string]Pattern) error {
	out := make([]Pattern, 0, len(merged))
	for _, dt := range sortedPatternKeys(merged) {
		out = append(out, merged[dt])
	}
	return ledger.WriteDoc(c.store.PatternsPath(), out)
}

// #endregion

// #region helpers

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPatternKeys(m map[string]Pattern) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func uniqueCount(values []string) int {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		seen[v] = true
	}
	return len(seen)
}

func minString(values []string) string {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxString(values []string) string {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// #endregion
