// Package thresholds resolves drift thresholds with a two-tier lookup:
// per-query-type override, then global default, then a hardcoded safety
// floor. Missing or corrupt configuration degrades instead of failing.
package thresholds

// #region imports
import (
	"os"

	"github.com/danielpatrickdp/driftwatch/internal/ledger"
)

// #endregion

// #region document

// Metric names.
const (
	MetricFiller   = "filler"
	MetricPreamble = "preamble"
	MetricDensity  = "density"
)

// Document is the on-disk thresholds shape.
type Document struct {
	Global      map[string]float64            `json:"global"`
	ByQueryType map[string]map[string]float64 `json:"by_query_type,omitempty"`
}

// Defaults returns the shipped threshold configuration. Code responses
// naturally carry lower prose density; emotional queries tolerate some
// rapport phrasing.
func Defaults() Document {
	return Document{
		Global: map[string]float64{
			MetricFiller:   0,
			MetricPreamble: 0,
			MetricDensity:  0.60,
		},
		ByQueryType: map[string]map[string]float64{
			"code":      {MetricDensity: 0.50},
			"emotional": {MetricFiller: 2, MetricDensity: 0.50},
		},
	}
}

// safetyDefaults is the last-resort floor when nothing is loadable.
var safetyDefaults = map[string]float64{
	MetricFiller:   0,
	MetricPreamble: 0,
	MetricDensity:  0.60,
}

// #endregion

// #region store

// Store reads and writes the runtime thresholds document. The runtime copy
// is seeded from Defaults on first use and may be mutated afterwards by
// calibration tooling.
type Store struct {
	path string
}

// NewStore creates a Store backed by the given document path.
func NewStore(path string) *Store { return &Store{path: path} }

// Load returns the current thresholds, seeding the runtime document on
// first use and degrading to Defaults when the document is unreadable.
func (s *Store) Load() Document {
	s.ensureRuntime()
	var doc Document
	if ledger.ReadDoc(s.path, &doc) && doc.Global != nil {
		return doc
	}
	return Defaults()
}

// Save persists an updated thresholds document.
func (s *Store) Save(doc Document) error {
	return ledger.WriteDoc(s.path, doc)
}

// Get resolves the threshold for (metric, queryType): query-type override,
// then global, then the hardcoded safety default.
func (s *Store) Get(metric, queryType string) float64 {
	doc := s.Load()
	if byType, ok := doc.ByQueryType[queryType]; ok {
		if v, ok := byType[metric]; ok {
			return v
		}
	}
	if v, ok := doc.Global[metric]; ok {
		return v
	}
	return safetyDefaults[metric]
}

func (s *Store) ensureRuntime() {
	if _, err := os.Stat(s.path); err == nil {
		return
	}
	// Best effort: a failed seed write just means Load degrades to Defaults.
	_ = ledger.WriteDoc(s.path, Defaults())
}

// #endregion
