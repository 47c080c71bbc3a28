// Package ledger owns the on-disk observation state: JSON-lines streams,
// single-slot flag documents, advisory locking, and rotation.
//
// Multiple pipeline invocations may run concurrently as separate processes,
// so every write takes an exclusive flock and every read that must not race
// a writer takes a shared flock. Locks are scoped to one bounded file
// operation. Corrupt lines are skipped; missing files degrade to no data.
package ledger

// #region imports
import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// #endregion

// #region store-struct

// Store manages the ledger files under a single data directory.
type Store struct {
	dir    string
	sample func() float64
}

// New creates a Store rooted at dir. sample drives amortized maintenance
// decisions; nil uses math/rand. Tests inject a constant to force or
// suppress rotation.
func New(dir string, sample func() float64) (*Store, error) {
	if sample == nil {
		sample = rand.Float64
	}
	if err := os.MkdirAll(filepath.Join(dir, "memory"), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir, sample: sample}, nil
}

// Dir returns the data directory root.
func (s *Store) Dir() string { return s.dir }

// MemoryDir returns the consolidated-memory subdirectory.
func (s *Store) MemoryDir() string { return filepath.Join(s.dir, "memory") }

// ScoresPath returns the score ledger path.
func (s *Store) ScoresPath() string { return filepath.Join(s.dir, "scores.jsonl") }

// OutcomesPath returns the correction-outcomes ledger path.
func (s *Store) OutcomesPath() string { return filepath.Join(s.MemoryDir(), "correction-outcomes.jsonl") }

// SummariesPath returns the session-summaries cache path.
func (s *Store) SummariesPath() string { return filepath.Join(s.MemoryDir(), "session-summaries.jsonl") }

// PatternsPath returns the validated-patterns document path.
func (s *Store) PatternsPath() string { return filepath.Join(s.MemoryDir(), "patterns.json") }

// StagedPath returns the staged-proposals document path.
func (s *Store) StagedPath() string { return filepath.Join(s.MemoryDir(), "staged-strategies.json") }

// CorrectionsPath returns the decision-table document path.
func (s *Store) CorrectionsPath() string { return filepath.Join(s.dir, "corrections.json") }

// ThresholdsPath returns the runtime thresholds document path.
func (s *Store) ThresholdsPath() string { return filepath.Join(s.dir, "thresholds.json") }

// ProvenancePath returns the SQLite audit database path.
func (s *Store) ProvenancePath() string { return filepath.Join(s.dir, "provenance.db") }

// DriftFlag returns the single-slot drift verdict cell.
func (s *Store) DriftFlag() *Slot { return NewSlot(filepath.Join(s.dir, "drift.json")) }

// PendingCorrection returns the single-slot pending-correction cell.
func (s *Store) PendingCorrection() *Slot {
	return NewSlot(filepath.Join(s.dir, "pending-correction.json"))
}

// Sample draws one amortization decision in [0,1).
func (s *Store) Sample() float64 { return s.sample() }

// #endregion

// #region score-entry

// ScoreEntry is one line of the score ledger: either a scored response or a
// session boundary marker (Type == "session_start").
type ScoreEntry struct {
	TS             string  `json:"ts"`
	Epoch          float64 `json:"epoch"`
	Type           string  `json:"type,omitempty"`
	Source         string  `json:"source,omitempty"`
	ID             string  `json:"id,omitempty"`
	WordCount      int     `json:"word_count"`
	AnswerPosition int     `json:"answer_position"`
	PaddingCount   int     `json:"padding_count"`
	InfoDensity    float64 `json:"info_density"`
	QueryType      string  `json:"query_type,omitempty"`
}

// IsMarker reports whether the entry is a session boundary.
func (e ScoreEntry) IsMarker() bool { return e.Type == "session_start" }

type sessionMarker struct {
	TS     string  `json:"ts"`
	Epoch  float64 `json:"epoch"`
	Type   string  `json:"type"`
	Source string  `json:"source"`
	ID     string  `json:"id"`
}

// #endregion

// #region append

// AppendScore appends a scored response to the ledger. TS and Epoch are
// filled from the clock when zero.
func (s *Store) AppendScore(e ScoreEntry) error {
	if e.Epoch == 0 {
		now := time.Now()
		e.Epoch = float64(now.UnixNano()) / 1e9
		e.TS = now.Format(time.RFC3339)
	}
	return AppendJSON(s.ScoresPath(), e)
}

// AppendSessionMarker logs a session boundary with the given source tag.
func (s *Store) AppendSessionMarker(source string) error {
	now := time.Now()
	return AppendJSON(s.ScoresPath(), sessionMarker{
		TS:     now.Format(time.RFC3339),
		Epoch:  float64(now.UnixNano()) / 1e9,
		Type:   "session_start",
		Source: source,
		ID:     uuid.New().String(),
	})
}

// #endregion

// #region read

// Scores returns every parseable ledger entry in append order, markers
// included. Corrupt lines are skipped; a missing file yields no entries.
func (s *Store) Scores() ([]ScoreEntry, error) {
	var out []ScoreEntry
	err := ForEachLine(s.ScoresPath(), func(line []byte) {
		var e ScoreEntry
		if json.Unmarshal(line, &e) == nil {
			out = append(out, e)
		}
	})
	return out, err
}

// LastScoreAge returns hours since the most recent score entry, or false if
// the ledger has none.
func (s *Store) LastScoreAge() (float64, bool) {
	entries, err := s.Scores()
	if err != nil || len(entries) == 0 {
		return 0, false
	}
	last := entries[len(entries)-1]
	return time.Since(epochTime(last.Epoch)).Hours(), true
}

// #endregion

// #region rolling-stats

// Stats summarizes recent scored responses for context injection.
type Stats struct {
	Responses  int     `json:"responses"`
	DriftRate  string  `json:"drift_rate"`
	AvgDensity float64 `json:"avg_density"`
	AvgWords   float64 `json:"avg_words"`
}

// RollingStats computes stats over score entries within the last days.
// Returns false when no entries fall inside the window.
func (s *Store) RollingStats(days int) (Stats, bool) {
	cutoff := float64(time.Now().Unix()) - float64(days)*86400
	var (
		n          int
		driftCount int
		sumDensity float64
		sumWords   float64
	)
	err := ForEachLine(s.ScoresPath(), func(line []byte) {
		var e ScoreEntry
		if json.Unmarshal(line, &e) != nil || e.IsMarker() || e.Epoch < cutoff {
			return
		}
		n++
		if e.PaddingCount > 0 || e.AnswerPosition > 0 {
			driftCount++
		}
		sumDensity += e.InfoDensity
		sumWords += float64(e.WordCount)
	})
	if err != nil || n == 0 {
		return Stats{}, false
	}
	return Stats{
		Responses:  n,
		DriftRate:  fmt.Sprintf("%d/%d", driftCount, n),
		AvgDensity: round3(sumDensity / float64(n)),
		AvgWords:   round1(sumWords / float64(n)),
	}, true
}

// #endregion

// #region rotation

// ScoreRetention is the score ledger retention window.
const ScoreRetention = 4 * 7 * 24 * time.Hour

// MemoryRetention is the outcomes/summaries retention window.
const MemoryRetention = 30 * 24 * time.Hour

// Rotate rewrites the score ledger keeping only entries newer than the
// retention window. Safe to skip arbitrarily often.
func (s *Store) Rotate() error {
	return RotateJSONL(s.ScoresPath(), ScoreRetention)
}

// MaybeRotate runs Rotate on roughly prob of calls. Amortized maintenance:
// correctness never depends on rotation running promptly, only eventually.
func (s *Store) MaybeRotate(prob float64) error {
	if s.sample() < prob {
		return s.Rotate()
	}
	return nil
}

// RotateJSONL drops lines whose epoch falls outside the retention window.
// Unparseable lines are dropped with the expired ones.
func RotateJSONL(path string, retention time.Duration) error {
	cutoff := float64(time.Now().Add(-retention).UnixNano()) / 1e9
	return RewriteFiltered(path, func(line []byte) bool {
		var probe struct {
			Epoch float64 `json:"epoch"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			return false
		}
		return probe.Epoch >= cutoff
	})
}

// #endregion

// #region jsonl-primitives

// AppendJSON appends one JSON line under an exclusive lock.
func AppendJSON(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal line: %w", err)
	}
	lk := flock.New(path)
	if err := lk.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lk.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// ForEachLine calls each for every non-blank line under a shared lock.
// A missing file is no data, not an error.
func ForEachLine(path string, each func(line []byte)) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	lk := flock.New(path)
	if err := lk.RLock(); err != nil {
		return fmt.Errorf("rlock %s: %w", path, err)
	}
	defer lk.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		each([]byte(line))
	}
	return nil
}

// RewriteFiltered rewrites path keeping only lines keep accepts. The whole
// read-filter-write cycle holds one exclusive lock.
func RewriteFiltered(path string, keep func(line []byte) bool) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	lk := flock.New(path)
	if err := lk.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lk.Unlock()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var kept []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if keep([]byte(line)) {
			kept = append(kept, line)
		}
	}
	out := ""
	if len(kept) > 0 {
		out = strings.Join(kept, "\n") + "\n"
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("rewrite %s: %w", path, err)
	}
	return nil
}

// #endregion

// #region doc-primitives

// ReadDoc unmarshals a whole JSON document under a shared lock. Returns
// false for missing or corrupt documents.
func ReadDoc(path string, v interface{}) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	lk := flock.New(path)
	if err := lk.RLock(); err != nil {
		return false
	}
	defer lk.Unlock()

	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, v) == nil
}

// WriteDoc writes a whole JSON document under an exclusive lock.
func WriteDoc(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	lk := flock.New(path)
	if err := lk.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lk.Unlock()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// #endregion

// #region helpers

func epochTime(epoch float64) time.Time {
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }

// #endregion
