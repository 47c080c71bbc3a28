// Package foundry crystallizes observed drift patterns into staged proposals
// for the correction decision table. Proposals are reviewed and applied by a
// human; nothing here mutates the table on its own.
//
// Three analyses: gap filling (validated drift with no query-specific rule
// and poor fitness), refinement (existing query-specific rule with poor
// fitness), and suppression (a drift type that fires often but rarely
// helps).
package foundry

// #region imports
import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/driftwatch/internal/consolidate"
	"github.com/danielpatrickdp/driftwatch/internal/drift"
	"github.com/danielpatrickdp/driftwatch/internal/fitness"
	"github.com/danielpatrickdp/driftwatch/internal/ledger"
)

// #endregion

// #region thresholds

// Crystallization thresholds.
const (
	MinOutcomesForRefinement = 5
	LowFitnessThreshold      = 0.50
	HighFireRate             = 0.30
)

// Proposal types.
const (
	TypeGap         = "gap"
	TypeRefinement  = "refinement"
	TypeSuppression = "suppression"
)

// #endregion

// #region types

// Evidence carries the outcome counts backing a proposal.
type Evidence struct {
	Total     int     `json:"total,omitempty"`
	Effective int     `json:"effective,omitempty"`
	Rate      float64 `json:"rate,omitempty"`
	FireRate  float64 `json:"fire_rate,omitempty"`
}

// Proposal is one staged decision-table change awaiting human approval.
type Proposal struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Drift      string   `json:"drift"`
	Severity   string   `json:"severity"`
	Query      string   `json:"query"`
	Reason     string   `json:"reason"`
	Suggestion string   `json:"suggestion"`
	Evidence   Evidence `json:"evidence"`
	Epoch      float64  `json:"epoch"`
}

func (p Proposal) key() [4]string { return [4]string{p.Type, p.Drift, p.Severity, p.Query} }

// AnalyzeReport describes what an analysis run staged.
type AnalyzeReport struct {
	PatternsAnalyzed int        `json:"patterns_analyzed"`
	OutcomesAnalyzed int        `json:"outcomes_analyzed"`
	NewProposals     int        `json:"new_proposals"`
	TotalStaged      int        `json:"total_staged"`
	Proposals        []Proposal `json:"proposals,omitempty"`
}

// AppliedAction is one entry in an apply report.
type AppliedAction struct {
	Action   string    `json:"action"`
	Drift    string    `json:"drift,omitempty"`
	Query    string    `json:"query,omitempty"`
	Proposal *Proposal `json:"proposal,omitempty"`
}

// ApplyReport describes the result of applying staged proposals.
type ApplyReport struct {
	Applied            int             `json:"applied"`
	RemainingStaged    int             `json:"remaining_staged"`
	CorrectionsVersion int             `json:"corrections_version"`
	Details            []AppliedAction `json:"details"`
}

// Auditor records applied table changes out of band. Optional.
type Auditor interface {
	RecordApply(version int, actions []AppliedAction) error
}

// #endregion

// #region foundry

// Foundry analyzes patterns and outcomes against the decision table.
type Foundry struct {
	store   *ledger.Store
	now     func() time.Time
	auditor Auditor
}

// New creates a Foundry over the store's memory files and decision table.
func New(store *ledger.Store) *Foundry {
	return &Foundry{store: store, now: time.Now}
}

// SetAuditor attaches an audit sink for applied changes.
func (f *Foundry) SetAuditor(a Auditor) { f.auditor = a }

// #endregion

// #region analyze

// Analyze runs the three crystallization analyses and stages any proposals
// not already staged. Existing staged proposals are never overwritten.
func (f *Foundry) Analyze() (AnalyzeReport, error) {
	table := drift.LoadTable(f.store.CorrectionsPath())
	patterns := f.loadPatterns()
	outcomes := f.loadOutcomes(30)
	staged := f.Staged()

	var proposals []Proposal
	proposals = append(proposals, f.findGaps(patterns, table.Strategies, outcomes)...)
	proposals = append(proposals, f.findRefinements(table.Strategies, outcomes)...)
	proposals = append(proposals, f.findSuppressions(outcomes)...)

	existing := make(map[[4]string]bool, len(staged))
	for _, p := range staged {
		existing[p.key()] = true
	}
	var fresh []Proposal
	for _, p := range proposals {
		if !existing[p.key()] {
			fresh = append(fresh, p)
		}
	}

	if len(fresh) > 0 {
		if err := ledger.WriteDoc(f.store.StagedPath(), append(staged, fresh...)); err != nil {
			return AnalyzeReport{}, err
		}
	}

	return AnalyzeReport{
		PatternsAnalyzed: len(patterns),
		OutcomesAnalyzed: len(outcomes),
		NewProposals:     len(fresh),
		TotalStaged:      len(staged) + len(fresh),
		Proposals:        fresh,
	}, nil
}

// #endregion

// #region gap-analysis

type pairStats struct {
	total     int
	effective int
}

// groupByDriftQuery folds outcomes into per-(drift, query) counts. One
// outcome contributes once per targeted category.
func groupByDriftQuery(outcomes []fitness.Outcome) map[[2]string]*pairStats {
	grouped := make(map[[2]string]*pairStats)
	for _, o := range outcomes {
		qt := o.QueryType
		if qt == "" {
			qt = "ambiguous"
		}
		for _, cat := range o.Categories {
			key := [2]string{cat, qt}
			st := grouped[key]
			if st == nil {
				st = &pairStats{}
				grouped[key] = st
			}
			st.total++
			if o.Effective {
				st.effective++
			}
		}
	}
	return grouped
}

func (f *Foundry) findGaps(patterns []consolidate.Pattern, rules []drift.Rule, outcomes []fitness.Outcome) []Proposal {
	grouped := groupByDriftQuery(outcomes)
	var proposals []Proposal

	for _, pattern := range patterns {
		if pattern.Status != consolidate.StatusValidated {
			continue
		}
		for _, key := range sortedPairKeys(grouped) {
			cat, qt := key[0], key[1]
			if cat != pattern.DriftType {
				continue
			}
			st := grouped[key]
			if st.total < MinOutcomesForRefinement {
				continue
			}
			if ruleExists(rules, cat, drift.SeverityLow, qt) || ruleExists(rules, cat, drift.SeverityHigh, qt) {
				continue
			}
			rate := float64(st.effective) / float64(st.total)
			if rate >= LowFitnessThreshold {
				continue
			}
			proposals = append(proposals, Proposal{
				ID:       uuid.New().String(),
				Type:     TypeGap,
				Drift:    cat,
				Severity: drift.Wildcard,
				Query:    qt,
				Reason: fmt.Sprintf("Validated %s pattern with %d outcomes for %s queries (fitness %.2f). No query-specific rule exists.",
					cat, st.total, qt, rate),
				Suggestion: suggestTemplate(cat, qt),
				Evidence:   Evidence{Total: st.total, Effective: st.effective},
				Epoch:      f.epoch(),
			})
		}
	}
	return proposals
}

// #endregion

// #region refinement-analysis

func (f *Foundry) findRefinements(rules []drift.Rule, outcomes []fitness.Outcome) []Proposal {
	grouped := groupByDriftQuery(outcomes)
	var proposals []Proposal

	for _, key := range sortedPairKeys(grouped) {
		cat, qt := key[0], key[1]
		st := grouped[key]
		if st.total < MinOutcomesForRefinement {
			continue
		}
		rate := float64(st.effective) / float64(st.total)
		if rate >= LowFitnessThreshold {
			continue
		}
		if !ruleExists(rules, cat, drift.SeverityLow, qt) && !ruleExists(rules, cat, drift.SeverityHigh, qt) {
			continue
		}
		proposals = append(proposals, Proposal{
			ID:       uuid.New().String(),
			Type:     TypeRefinement,
			Drift:    cat,
			Severity: drift.Wildcard,
			Query:    qt,
			Reason: fmt.Sprintf("Existing %s rule for %s queries has fitness %.2f (%d/%d). Needs revision.",
				cat, qt, rate, st.effective, st.total),
			Suggestion: suggestTemplate(cat, qt),
			Evidence:   Evidence{Total: st.total, Effective: st.effective, Rate: rate},
			Epoch:      f.epoch(),
		})
	}
	return proposals
}

// #endregion

// #region suppression-analysis

func (f *Foundry) findSuppressions(outcomes []fitness.Outcome) []Proposal {
	if len(outcomes) < MinOutcomesForRefinement {
		return nil
	}

	counts := make(map[string]*pairStats)
	for _, o := range outcomes {
		for _, cat := range o.Categories {
			st := counts[cat]
			if st == nil {
				st = &pairStats{}
				counts[cat] = st
			}
			st.total++
			if o.Effective {
				st.effective++
			}
		}
	}

	var proposals []Proposal
	for _, cat := range sortedStatKeys(counts) {
		st := counts[cat]
		fireRate := float64(st.total) / float64(len(outcomes))
		rate := float64(st.effective) / float64(st.total)
		if fireRate <= HighFireRate || rate >= LowFitnessThreshold {
			continue
		}
		proposals = append(proposals, Proposal{
			ID:       uuid.New().String(),
			Type:     TypeSuppression,
			Drift:    cat,
			Severity: drift.Wildcard,
			Query:    drift.Wildcard,
			Reason: fmt.Sprintf("%s corrections fire in %.0f%% of outcomes but only %.0f%% are effective. Consider relaxing thresholds or suppressing this correction type.",
				cat, fireRate*100, rate*100),
			Suggestion: fmt.Sprintf("Raise the %s threshold or add an empty-template suppression rule.", cat),
			Evidence:   Evidence{Total: st.total, Effective: st.effective, FireRate: fireRate},
			Epoch:      f.epoch(),
		})
	}
	return proposals
}

// #endregion

// #region templates

// templateSuggestions maps (drift, query) to canned phrasings. Empty strings
// are deliberate: some drift is acceptable for the query type.
var templateSuggestions = map[[2]string]string{
	{"filler", "emotional"}:  "",
	{"filler", "meta"}:       "[Prior response to meta-query contained filler. Answer directly.]",
	{"preamble", "factual"}:  "[Prior factual response had preamble. Data first.]",
	{"preamble", "code"}:     "[Prior code response had preamble. Code first, explain after.]",
	{"density", "emotional"}: "",
	{"density", "meta"}:      "[Prior meta-response had low density. Be specific.]",
}

func suggestTemplate(driftType, queryType string) string {
	if t, ok := templateSuggestions[[2]string{driftType, queryType}]; ok {
		return t
	}
	return fmt.Sprintf("[Prior %s response had %s drift. Correct.]", queryType, driftType)
}

// #endregion

// #region apply

// Staged returns the staged proposals. Missing or corrupt documents degrade
// to empty.
func (f *Foundry) Staged() []Proposal {
	var out []Proposal
	if !ledger.ReadDoc(f.store.StagedPath(), &out) {
		return nil
	}
	return out
}

// Apply applies the selected staged proposals to the decision table.
// Indices are processed in descending order so removals do not perturb the
// remaining ones; out-of-range indices are skipped. Gap and refinement
// proposals replace any rule with the same (drift, query) key; suppression
// proposals only emit a threshold-suggestion advisory. The table version
// increments once per apply call that processed anything.
func (f *Foundry) Apply(indices []int) (ApplyReport, error) {
	staged := f.Staged()
	table := drift.LoadTable(f.store.CorrectionsPath())

	sorted := append([]int(nil), indices...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	var details []AppliedAction
	for _, i := range sorted {
		if i < 0 || i >= len(staged) {
			continue
		}
		p := staged[i]

		if p.Type == TypeSuppression {
			prop := p
			details = append(details, AppliedAction{Action: "threshold_suggestion", Drift: p.Drift, Query: p.Query, Proposal: &prop})
		} else {
			var kept []drift.Rule
			for _, r := range table.Strategies {
				if r.Drift == p.Drift && r.Query == p.Query {
					continue
				}
				kept = append(kept, r)
			}
			rule := drift.Rule{
				Drift:    p.Drift,
				Severity: drift.Wildcard,
				Query:    p.Query,
				Template: p.Suggestion,
				Source:   "foundry",
			}
			if p.Suggestion == "" {
				rule.Note = fmt.Sprintf("Foundry: suppressed for %s queries.", p.Query)
			}
			table.Strategies = append(kept, rule)
			details = append(details, AppliedAction{Action: "strategy_added", Drift: p.Drift, Query: p.Query})
		}

		staged = append(staged[:i], staged[i+1:]...)
	}

	if len(details) > 0 {
		table.Version++
		if err := drift.SaveTable(f.store.CorrectionsPath(), table); err != nil {
			return ApplyReport{}, err
		}
		if f.auditor != nil {
			if err := f.auditor.RecordApply(table.Version, details); err != nil {
				return ApplyReport{}, fmt.Errorf("audit apply: %w", err)
			}
		}
	}
	if err := ledger.WriteDoc(f.store.StagedPath(), staged); err != nil {
		return ApplyReport{}, err
	}

	return ApplyReport{
		Applied:            len(details),
		RemainingStaged:    len(staged),
		CorrectionsVersion: table.Version,
		Details:            details,
	}, nil
}

// #endregion

// #region loading

func (f *Foundry) loadPatterns() []consolidate.Pattern {
	var out []consolidate.Pattern
	if !ledger.ReadDoc(f.store.PatternsPath(), &out) {
		return nil
	}
	return out
}

func (f *Foundry) loadOutcomes(days int) []fitness.Outcome {
	cutoff := float64(f.now().Unix()) - float64(days)*86400
	var out []fitness.Outcome
	_ = ledger.ForEachLine(f.store.OutcomesPath(), func(line []byte) {
		var o fitness.Outcome
		if json.Unmarshal(line, &o) == nil && o.Epoch >= cutoff {
			out = append(out, o)
		}
	})
	return out
}

func (f *Foundry) epoch() float64 {
	return float64(f.now().UnixNano()) / 1e9
}

// #endregion

// #region helpers

func ruleExists(rules []drift.Rule, driftType, severity, query string) bool {
	for _, r := range rules {
		if r.Drift == driftType && r.Severity == severity && r.Query == query {
			return true
		}
	}
	return false
}

func sortedPairKeys(m map[[2]string]*pairStats) [][2]string {
	keys := make([][2]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	return keys
}

func sortedStatKeys(m map[string]*pairStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// #endregion
