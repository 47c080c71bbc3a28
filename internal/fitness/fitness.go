// Package fitness measures whether injected corrections actually improved
// the targeted dimensions on the next scored response.
//
// Flow: a correction injection records a pending document; the next scoring
// run evaluates it against the new metrics and appends an outcome. A pending
// correction that is never evaluated is silently replaced by the next one.
package fitness

// #region imports
import (
	"encoding/json"
	"math"
	"time"

	"github.com/danielpatrickdp/driftwatch/internal/drift"
	"github.com/danielpatrickdp/driftwatch/internal/ledger"
	"github.com/danielpatrickdp/driftwatch/internal/score"
)

// #endregion

// #region types

// pendingMaxAge is how long a pending correction stays evaluable.
const pendingMaxAge = 24 * time.Hour

// PreScores are the metrics of the response that triggered the correction.
type PreScores struct {
	PaddingCount   int     `json:"padding_count"`
	AnswerPosition int     `json:"answer_position"`
	InfoDensity    float64 `json:"info_density"`
}

// Pending is the single-slot record of an injected, not-yet-evaluated
// correction.
type Pending struct {
	Epoch      float64   `json:"epoch"`
	Categories []string  `json:"categories"`
	Severity   string    `json:"severity"`
	QueryType  string    `json:"query_type"`
	PreScores  PreScores `json:"pre_scores"`
}

// Outcome records whether a correction worked, per targeted dimension.
type Outcome struct {
	Epoch      float64         `json:"epoch"`
	Categories []string        `json:"categories"`
	Severity   string          `json:"severity"`
	QueryType  string          `json:"query_type"`
	Effective  bool            `json:"effective"`
	Details    map[string]bool `json:"details"`
}

// RateReport aggregates outcome effectiveness over a window.
type RateReport struct {
	Total     int     `json:"total"`
	Effective int     `json:"effective"`
	Rate      float64 `json:"rate"`
}

// #endregion

// #region tracker

// Tracker owns the pending-correction slot and the outcomes ledger.
type Tracker struct {
	pending      *ledger.Slot
	outcomesPath string
	now          func() time.Time
}

// NewTracker creates a Tracker over the store's pending slot and outcomes
// ledger.
func NewTracker(st *ledger.Store) *Tracker {
	return &Tracker{
		pending:      st.PendingCorrection(),
		outcomesPath: st.OutcomesPath(),
		now:          time.Now,
	}
}

// Record persists a pending correction for the verdict just injected,
// replacing any unconsumed one.
func (t *Tracker) Record(v *drift.Verdict) error {
	return t.pending.Write(Pending{
		Epoch:      float64(t.now().UnixNano()) / 1e9,
		Categories: v.Categories,
		Severity:   v.Severity,
		QueryType:  v.QueryType,
		PreScores: PreScores{
			PaddingCount:   v.PaddingCount,
			AnswerPosition: v.AnswerPosition,
			InfoDensity:    v.InfoDensity,
		},
	})
}

// Evaluate consumes the pending correction, judging each targeted dimension
// against the post-correction metrics. Returns nil when no pending
// correction exists or it aged out (>24h, discarded without an outcome).
// The correction is effective only if every targeted dimension improved.
func (t *Tracker) Evaluate(post score.Record) (*Outcome, error) {
	var pending Pending
	if !t.pending.Take(&pending) {
		return nil, nil
	}
	if float64(t.now().Unix())-pending.Epoch > pendingMaxAge.Seconds() {
		return nil, nil
	}

	details := make(map[string]bool, len(pending.Categories))
	effective := len(pending.Categories) > 0
	for _, cat := range pending.Categories {
		var improved bool
		switch cat {
		case "filler":
			improved = post.PaddingCount < pending.PreScores.PaddingCount
		case "preamble":
			improved = post.AnswerPosition < pending.PreScores.AnswerPosition
		case "density":
			improved = post.InfoDensity > pending.PreScores.InfoDensity
		}
		details[cat] = improved
		if !improved {
			effective = false
		}
	}

	outcome := &Outcome{
		Epoch:      float64(t.now().UnixNano()) / 1e9,
		Categories: pending.Categories,
		Severity:   pending.Severity,
		QueryType:  pending.QueryType,
		Effective:  effective,
		Details:    details,
	}
	if err := ledger.AppendJSON(t.outcomesPath, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

// #endregion

// #region rate

// Rate computes the fitness rate over outcomes within the last days.
// Returns false when the window holds no outcomes.
func (t *Tracker) Rate(days int) (RateReport, bool) {
	cutoff := float64(t.now().Unix()) - float64(days)*86400
	var report RateReport
	err := ledger.ForEachLine(t.outcomesPath, func(line []byte) {
		var o Outcome
		if json.Unmarshal(line, &o) != nil || o.Epoch < cutoff {
			return
		}
		report.Total++
		if o.Effective {
			report.Effective++
		}
	})
	if err != nil || report.Total == 0 {
		return RateReport{}, false
	}
	report.Rate = math.Round(float64(report.Effective)/float64(report.Total)*1000) / 1000
	return report, true
}

// RotateOutcomes drops outcomes older than the retention window.
func (t *Tracker) RotateOutcomes() error {
	return ledger.RotateJSONL(t.outcomesPath, ledger.MemoryRetention)
}

// #endregion
