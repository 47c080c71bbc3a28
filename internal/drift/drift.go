// Package drift turns response metrics into classified drift verdicts and
// selects corrections from the decision table. Query-type-aware thresholds
// keep naturally terse or dense-but-informal responses from being flagged.
package drift

// #region imports
import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/driftwatch/internal/score"
	"github.com/danielpatrickdp/driftwatch/internal/thresholds"
)

// #endregion

// #region severity

// Severity levels.
const (
	SeverityLow  = "low"
	SeverityHigh = "high"
)

// Severity margins: any single signal past these marks is high severity.
const (
	highFillerCount   = 3
	highPreambleWords = 10
	highDensityMargin = 0.10
)

// #endregion

// #region verdict

// Verdict is a classified drift result for one response. It is written once
// to the drift-flag slot and consumed exactly once by context injection.
type Verdict struct {
	Categories     []string `json:"categories"`
	Severity       string   `json:"severity"`
	Reasons        []string `json:"reasons"`
	Correction     string   `json:"correction"`
	QueryType      string   `json:"query_type"`
	PaddingCount   int      `json:"padding_count"`
	AnswerPosition int      `json:"answer_position"`
	InfoDensity    float64  `json:"info_density"`
}

// DriftKey is the decision-table lookup key: "compound" when two or more
// dimensions fired, else the single dimension name.
func (v *Verdict) DriftKey() string {
	if len(v.Categories) > 1 {
		return "compound"
	}
	return v.Categories[0]
}

// #endregion

// #region detector

// Detector combines thresholds and the decision table into drift verdicts.
type Detector struct {
	thresholds *thresholds.Store
	tablePath  string
}

// NewDetector creates a Detector reading rules from tablePath.
func NewDetector(th *thresholds.Store, tablePath string) *Detector {
	return &Detector{thresholds: th, tablePath: tablePath}
}

// Detect compares a score against the thresholds for queryType. Returns nil
// when no dimension fires. Repeated calls with an unchanged table return
// identical verdicts.
func (d *Detector) Detect(rec score.Record, queryType string) *Verdict {
	var categories, reasons []string

	if float64(rec.PaddingCount) > d.thresholds.Get(thresholds.MetricFiller, queryType) {
		categories = append(categories, "filler")
		reasons = append(reasons, fmt.Sprintf("filler:%d", rec.PaddingCount))
	}
	if float64(rec.AnswerPosition) > d.thresholds.Get(thresholds.MetricPreamble, queryType) {
		categories = append(categories, "preamble")
		reasons = append(reasons, fmt.Sprintf("preamble:%dw", rec.AnswerPosition))
	}
	densityThreshold := d.thresholds.Get(thresholds.MetricDensity, queryType)
	if rec.InfoDensity < densityThreshold {
		categories = append(categories, "density")
		reasons = append(reasons, fmt.Sprintf("density:%.3f", rec.InfoDensity))
	}

	if len(categories) == 0 {
		return nil
	}

	v := &Verdict{
		Categories:     categories,
		Severity:       classifySeverity(rec, categories, densityThreshold),
		Reasons:        reasons,
		QueryType:      queryType,
		PaddingCount:   rec.PaddingCount,
		AnswerPosition: rec.AnswerPosition,
		InfoDensity:    rec.InfoDensity,
	}
	table := LoadTable(d.tablePath)
	v.Correction = SelectCorrection(table.Strategies, v.DriftKey(), v.Severity, queryType, rec, reasons)
	return v
}

// #endregion

// #region severity-classification

func classifySeverity(rec score.Record, categories []string, densityThreshold float64) string {
	if len(categories) >= 2 {
		return SeverityHigh
	}
	if rec.PaddingCount >= highFillerCount {
		return SeverityHigh
	}
	if rec.AnswerPosition >= highPreambleWords {
		return SeverityHigh
	}
	if densityThreshold-rec.InfoDensity > highDensityMargin {
		return SeverityHigh
	}
	return SeverityLow
}

// #endregion

// #region correction-selection

// SelectCorrection scans the rules for the best match on (driftKey,
// severity, queryType) and formats the winning template. Exact severity
// scores +2 over wildcard, exact query +1; a rule that matches neither
// exactly nor by wildcard is excluded. Ties keep the first rule. No match
// falls back to a generic message listing the raw reasons; a matched rule
// with an empty template yields "" (intentional no-op).
func SelectCorrection(rules []Rule, driftKey, severity, queryType string, rec score.Record, reasons []string) string {
	var best *Rule
	bestSpecificity := -1

	for i := range rules {
		r := &rules[i]
		if r.Drift != driftKey {
			continue
		}
		specificity, ok := ruleSpecificity(r, severity, queryType)
		if !ok {
			continue
		}
		if specificity > bestSpecificity {
			best = r
			bestSpecificity = specificity
		}
	}

	if best == nil {
		return fmt.Sprintf("[Prior drift: %s. Correct.]", strings.Join(reasons, ", "))
	}
	if best.Template == "" {
		return ""
	}
	return formatTemplate(best.Template, rec, queryType, reasons)
}

// ruleSpecificity ranks a rule against an exact (severity, queryType) pair.
// Pure function, no table or file state.
func ruleSpecificity(r *Rule, severity, queryType string) (int, bool) {
	specificity := 0
	switch r.Severity {
	case severity:
		specificity += 2
	case Wildcard:
	default:
		return 0, false
	}
	switch r.Query {
	case queryType:
		specificity++
	case Wildcard:
	default:
		return 0, false
	}
	return specificity, true
}

func formatTemplate(template string, rec score.Record, queryType string, reasons []string) string {
	return strings.NewReplacer(
		"{count}", strconv.Itoa(rec.PaddingCount),
		"{position}", strconv.Itoa(rec.AnswerPosition),
		"{density}", strconv.FormatFloat(rec.InfoDensity, 'f', 3, 64),
		"{reasons}", strings.Join(reasons, ", "),
		"{query_type}", queryType,
	).Replace(template)
}

// #endregion
