// Package observe wires the closed loop for one response: score, close the
// previous correction's feedback loop, detect drift, raise the flag, and
// amortize ledger rotation. Each invocation is a short-lived unit of work.
package observe

// #region imports
import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/driftwatch/internal/classify"
	"github.com/danielpatrickdp/driftwatch/internal/drift"
	"github.com/danielpatrickdp/driftwatch/internal/fitness"
	"github.com/danielpatrickdp/driftwatch/internal/ledger"
	"github.com/danielpatrickdp/driftwatch/internal/score"
	"github.com/danielpatrickdp/driftwatch/internal/transcript"
)

// #endregion

// #region pipeline

// Pipeline runs the score-detect-correct loop against shared on-disk state.
type Pipeline struct {
	Store      *ledger.Store
	Tags       *classify.TagStore
	Detector   *drift.Detector
	Fitness    *fitness.Tracker
	RotateProb float64
}

// Result reports what one observation did.
type Result struct {
	Score     score.Record     `json:"score"`
	QueryType string           `json:"query_type"`
	Outcome   *fitness.Outcome `json:"outcome,omitempty"`
	Verdict   *drift.Verdict   `json:"verdict,omitempty"`
}

// #endregion

// #region observe

// ObserveText scores one response text and runs the full loop. Empty text
// is a no-op.
func (p *Pipeline) ObserveText(text string) (*Result, error) {
	if text == "" {
		return nil, nil
	}

	rec := score.Score(text)
	queryType := string(p.Tags.Read())

	now := time.Now()
	entry := ledger.ScoreEntry{
		TS:             now.Format(time.RFC3339),
		Epoch:          float64(now.UnixNano()) / 1e9,
		WordCount:      rec.WordCount,
		AnswerPosition: rec.AnswerPosition,
		PaddingCount:   rec.PaddingCount,
		InfoDensity:    rec.InfoDensity,
		QueryType:      queryType,
	}
	if err := p.Store.AppendScore(entry); err != nil {
		return nil, fmt.Errorf("append score: %w", err)
	}

	// Close the previous correction's loop before raising a new flag.
	outcome, err := p.Fitness.Evaluate(rec)
	if err != nil {
		return nil, fmt.Errorf("evaluate correction: %w", err)
	}

	verdict := p.Detector.Detect(rec, queryType)
	if verdict != nil {
		if err := p.Store.DriftFlag().Write(verdict); err != nil {
			return nil, fmt.Errorf("write drift flag: %w", err)
		}
	}

	if err := p.Store.MaybeRotate(p.RotateProb); err != nil {
		return nil, fmt.Errorf("rotate scores: %w", err)
	}

	return &Result{Score: rec, QueryType: queryType, Outcome: outcome, Verdict: verdict}, nil
}

// ObserveTranscript extracts the last assistant text from a transcript and
// observes it. A transcript with no assistant text is a no-op.
func (p *Pipeline) ObserveTranscript(path string) (*Result, error) {
	return p.ObserveText(transcript.LastAssistantText(path))
}

// #endregion
