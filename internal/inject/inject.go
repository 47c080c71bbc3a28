// Package inject assembles the ordered context fragments prepended to the
// next interaction: a behavioral anchor, a pending drift correction, and
// rolling stats. It is the single consumer of the drift-flag slot.
package inject

// #region imports
import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielpatrickdp/driftwatch/internal/drift"
	"github.com/danielpatrickdp/driftwatch/internal/fitness"
	"github.com/danielpatrickdp/driftwatch/internal/ledger"
)

// #endregion

// #region defaults

// defaultAnchor is seeded into anchor.txt on first use and may be edited.
const defaultAnchor = "[Answer first. No filler, no preamble. Maximize information per word.]"

// statsGapHours is the idle gap after which stats are injected on plain
// startup.
const statsGapHours = 4.0

// #endregion

// #region injector

// Injector builds context fragments from the observation state.
type Injector struct {
	store   *ledger.Store
	fitness *fitness.Tracker
}

// New creates an Injector.
func New(store *ledger.Store, tracker *fitness.Tracker) *Injector {
	return &Injector{store: store, fitness: tracker}
}

// Result is the assembled context with its named layers.
type Result struct {
	Anchor     string   `json:"anchor,omitempty"`
	Correction string   `json:"correction,omitempty"`
	Stats      string   `json:"stats,omitempty"`
	Fragments  []string `json:"fragments"`
}

// Assemble builds the fragments for a session starting from source
// (startup, resume, clear, compact). Consuming a drift verdict records the
// correction as pending so the next score closes the feedback loop.
func (i *Injector) Assemble(source string) (Result, error) {
	var res Result

	if anchor := i.loadAnchor(); anchor != "" {
		res.Anchor = anchor
		res.Fragments = append(res.Fragments, anchor)
	}

	correction, err := i.takeCorrection()
	if err != nil {
		return Result{}, err
	}
	if correction != "" {
		res.Correction = correction
		res.Fragments = append(res.Fragments, correction)
	}

	if stats := i.loadStats(source); stats != "" {
		res.Stats = stats
		res.Fragments = append(res.Fragments, stats)
	}
	return res, nil
}

// #endregion

// #region layers

func (i *Injector) loadAnchor() string {
	path := filepath.Join(i.store.Dir(), "anchor.txt")
	b, err := os.ReadFile(path)
	if err != nil {
		_ = os.WriteFile(path, []byte(defaultAnchor+"\n"), 0o644)
		return defaultAnchor
	}
	return strings.TrimSpace(string(b))
}

// takeCorrection consumes the drift flag. An empty correction on a consumed
// verdict is an intentional no-op and records nothing.
func (i *Injector) takeCorrection() (string, error) {
	var verdict drift.Verdict
	if !i.store.DriftFlag().Take(&verdict) {
		return "", nil
	}
	if verdict.Correction == "" {
		return "", nil
	}
	if err := i.fitness.Record(&verdict); err != nil {
		return "", fmt.Errorf("record pending correction: %w", err)
	}
	return verdict.Correction, nil
}

// loadStats renders the rolling-stats fragment on resume/compact, or after
// a long idle gap on plain startup.
func (i *Injector) loadStats(source string) string {
	if source != "resume" && source != "compact" {
		age, ok := i.store.LastScoreAge()
		if !ok || age < statsGapHours {
			return ""
		}
	}
	stats, ok := i.store.RollingStats(7)
	if !ok {
		return ""
	}
	return fmt.Sprintf("[7d: %d responses, drift %s, density %.3f, avg %.1fw]",
		stats.Responses, stats.DriftRate, stats.AvgDensity, stats.AvgWords)
}

// #endregion

