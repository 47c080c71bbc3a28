package drift

// #region imports
import (
	"os"

	"github.com/danielpatrickdp/driftwatch/internal/ledger"
)

// #endregion

// #region rule

// Wildcard matches any severity or query type in a rule.
const Wildcard = "*"

// Rule is one row of the correction decision table. An empty Template on a
// matched rule means "intentionally no correction", which is distinct from
// no rule matching at all.
type Rule struct {
	Drift    string `json:"drift"`
	Severity string `json:"severity"`
	Query    string `json:"query"`
	Template string `json:"template"`
	Source   string `json:"source,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Table is the versioned correction decision table. The version increments
// on every approved mutation.
type Table struct {
	Version    int    `json:"version"`
	Strategies []Rule `json:"strategies"`
}

// #endregion

// #region defaults

// DefaultTable returns the shipped decision table.
func DefaultTable() Table {
	return Table{
		Version: 1,
		Strategies: []Rule{
			{Drift: "filler", Severity: SeverityHigh, Query: Wildcard,
				Template: "[Prior response contained {count} filler phrases ({reasons}). Answer directly, no filler.]"},
			{Drift: "filler", Severity: SeverityLow, Query: Wildcard,
				Template: "[Minor filler detected ({count} phrases). Trim the social padding.]"},
			{Drift: "preamble", Severity: SeverityHigh, Query: Wildcard,
				Template: "[Prior response buried the answer behind {position} preamble words. Lead with the answer.]"},
			{Drift: "preamble", Severity: SeverityLow, Query: Wildcard,
				Template: "[Skip the opener. Answer first.]"},
			{Drift: "density", Severity: Wildcard, Query: Wildcard,
				Template: "[Prior response info density {density}. Raise signal per word.]"},
			// Code responses carry identifiers and short tokens; mild density
			// dips there are expected, not drift.
			{Drift: "density", Severity: SeverityLow, Query: "code", Template: ""},
			{Drift: "compound", Severity: SeverityHigh, Query: Wildcard,
				Template: "[Cognitive drift detected: {reasons}. Reset to concise, information-dense responses.]"},
			{Drift: "compound", Severity: SeverityLow, Query: Wildcard,
				Template: "[Drift signals: {reasons}. Tighten responses.]"},
		},
	}
}

// #endregion

// #region load-save

// LoadTable reads the decision table, seeding the shipped defaults on first
// use. Unreadable documents degrade to the defaults.
func LoadTable(path string) Table {
	if _, err := os.Stat(path); err != nil {
		_ = ledger.WriteDoc(path, DefaultTable())
	}
	var t Table
	if ledger.ReadDoc(path, &t) && t.Strategies != nil {
		return t
	}
	return DefaultTable()
}

// SaveTable persists the decision table.
func SaveTable(path string, t Table) error {
	return ledger.WriteDoc(path, t)
}

// #endregion
