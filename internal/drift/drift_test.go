package drift

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/driftwatch/internal/score"
	"github.com/danielpatrickdp/driftwatch/internal/thresholds"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	dir := t.TempDir()
	th := thresholds.NewStore(filepath.Join(dir, "thresholds.json"))
	return NewDetector(th, filepath.Join(dir, "corrections.json"))
}

func TestDetect_CleanResponse(t *testing.T) {
	d := newTestDetector(t)
	rec := score.Record{WordCount: 20, InfoDensity: 0.8}

	if v := d.Detect(rec, "factual"); v != nil {
		t.Errorf("expected nil verdict, got %+v", v)
	}
}

func TestDetect_Categories(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		name      string
		rec       score.Record
		queryType string
		wantCats  []string
		wantSev   string
	}{
		{"filler-low", score.Record{PaddingCount: 1, InfoDensity: 0.8}, "factual", []string{"filler"}, SeverityLow},
		{"filler-high-at-three", score.Record{PaddingCount: 3, InfoDensity: 0.8}, "factual", []string{"filler"}, SeverityHigh},
		{"preamble-low", score.Record{AnswerPosition: 4, InfoDensity: 0.8}, "factual", []string{"preamble"}, SeverityLow},
		{"preamble-high-at-ten", score.Record{AnswerPosition: 10, InfoDensity: 0.8}, "factual", []string{"preamble"}, SeverityHigh},
		{"density-low-margin", score.Record{InfoDensity: 0.55}, "factual", []string{"density"}, SeverityLow},
		{"density-high-margin", score.Record{InfoDensity: 0.45}, "factual", []string{"density"}, SeverityHigh},
		{"compound-is-high", score.Record{PaddingCount: 1, AnswerPosition: 3, InfoDensity: 0.8}, "factual", []string{"filler", "preamble"}, SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Detect(tt.rec, tt.queryType)
			if v == nil {
				t.Fatal("expected verdict, got nil")
			}
			if len(v.Categories) != len(tt.wantCats) {
				t.Fatalf("categories: got %v, want %v", v.Categories, tt.wantCats)
			}
			for i := range tt.wantCats {
				if v.Categories[i] != tt.wantCats[i] {
					t.Errorf("categories: got %v, want %v", v.Categories, tt.wantCats)
				}
			}
			if v.Severity != tt.wantSev {
				t.Errorf("severity: got %q, want %q", v.Severity, tt.wantSev)
			}
		})
	}
}

func TestDetect_CodeDensityThreshold(t *testing.T) {
	d := newTestDetector(t)

	// 0.55 clears the relaxed code threshold but not the global one.
	if v := d.Detect(score.Record{InfoDensity: 0.55}, "code"); v != nil {
		t.Errorf("expected nil verdict for code at 0.55, got %+v", v)
	}
	if v := d.Detect(score.Record{InfoDensity: 0.55}, "factual"); v == nil {
		t.Error("expected verdict for factual at 0.55")
	}
}

func TestDetect_CodeDensitySuppression(t *testing.T) {
	d := newTestDetector(t)

	// Mild code density dip matches the empty-template rule: verdict stands,
	// correction is an intentional no-op.
	v := d.Detect(score.Record{InfoDensity: 0.45}, "code")
	if v == nil {
		t.Fatal("expected verdict")
	}
	if v.Severity != SeverityLow {
		t.Fatalf("severity: got %q, want low", v.Severity)
	}
	if v.Correction != "" {
		t.Errorf("correction: got %q, want empty", v.Correction)
	}
}

func TestVerdict_DriftKey(t *testing.T) {
	single := &Verdict{Categories: []string{"filler"}}
	if got := single.DriftKey(); got != "filler" {
		t.Errorf("got %q, want filler", got)
	}
	multi := &Verdict{Categories: []string{"filler", "density"}}
	if got := multi.DriftKey(); got != "compound" {
		t.Errorf("got %q, want compound", got)
	}
}

func TestSelectCorrection_Specificity(t *testing.T) {
	rules := []Rule{
		{Drift: "filler", Severity: Wildcard, Query: Wildcard, Template: "wildcard"},
		{Drift: "filler", Severity: SeverityHigh, Query: Wildcard, Template: "severity"},
		{Drift: "filler", Severity: SeverityHigh, Query: "factual", Template: "both"},
	}
	rec := score.Record{PaddingCount: 4}

	got := SelectCorrection(rules, "filler", SeverityHigh, "factual", rec, nil)
	if got != "both" {
		t.Errorf("got %q, want most specific rule", got)
	}
	got = SelectCorrection(rules, "filler", SeverityHigh, "code", rec, nil)
	if got != "severity" {
		t.Errorf("got %q, want severity-exact rule", got)
	}
	got = SelectCorrection(rules, "filler", SeverityLow, "code", rec, nil)
	if got != "wildcard" {
		t.Errorf("got %q, want wildcard rule", got)
	}
}

func TestSelectCorrection_MismatchExcludes(t *testing.T) {
	rules := []Rule{
		{Drift: "filler", Severity: SeverityHigh, Query: Wildcard, Template: "high only"},
	}
	got := SelectCorrection(rules, "filler", SeverityLow, "factual", score.Record{}, []string{"filler:1"})
	if !strings.HasPrefix(got, "[Prior drift:") {
		t.Errorf("got %q, want generic fallback", got)
	}
}

func TestSelectCorrection_FirstRuleWinsTies(t *testing.T) {
	rules := []Rule{
		{Drift: "density", Severity: Wildcard, Query: Wildcard, Template: "first"},
		{Drift: "density", Severity: Wildcard, Query: Wildcard, Template: "second"},
	}
	got := SelectCorrection(rules, "density", SeverityLow, "factual", score.Record{}, nil)
	if got != "first" {
		t.Errorf("got %q, want first", got)
	}
}

func TestSelectCorrection_Fallback(t *testing.T) {
	got := SelectCorrection(nil, "filler", SeverityHigh, "factual", score.Record{}, []string{"filler:4", "density:0.400"})
	want := "[Prior drift: filler:4, density:0.400. Correct.]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSelectCorrection_TemplatePlaceholders(t *testing.T) {
	rules := []Rule{
		{Drift: "compound", Severity: Wildcard, Query: Wildcard,
			Template: "count={count} position={position} density={density} reasons={reasons}"},
	}
	rec := score.Record{PaddingCount: 2, AnswerPosition: 7, InfoDensity: 0.512}
	got := SelectCorrection(rules, "compound", SeverityHigh, "factual", rec, []string{"filler:2", "preamble:7w"})
	want := "count=2 position=7 density=0.512 reasons=filler:2, preamble:7w"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadTable_SeedsAndDegrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrections.json")

	table := LoadTable(path)
	if table.Version != 1 {
		t.Errorf("version: got %d, want 1", table.Version)
	}
	if len(table.Strategies) == 0 {
		t.Error("expected shipped rules")
	}

	// Second load reads the seeded file.
	again := LoadTable(path)
	if len(again.Strategies) != len(table.Strategies) {
		t.Errorf("reload: got %d rules, want %d", len(again.Strategies), len(table.Strategies))
	}
}

func TestDetect_RepeatedCallsAreIdentical(t *testing.T) {
	d := newTestDetector(t)
	rec := score.Record{PaddingCount: 4, InfoDensity: 0.8}

	a := d.Detect(rec, "factual")
	b := d.Detect(rec, "factual")
	if a == nil || b == nil {
		t.Fatal("expected verdicts")
	}
	if a.Correction != b.Correction || a.Severity != b.Severity {
		t.Errorf("verdicts differ: %+v vs %+v", a, b)
	}
}
