package ledger

// #region imports
import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// #endregion

// #region slot

// Slot is a single-document cell with last-write-wins semantics. A new
// write silently replaces an unconsumed value; Take reads and clears.
// Deliberately not a queue: only the most recent unconsumed value matters.
type Slot struct {
	path string
}

// NewSlot creates a Slot at the given path.
func NewSlot(path string) *Slot { return &Slot{path: path} }

// Path returns the backing file path.
func (s *Slot) Path() string { return s.path }

// Write replaces the slot's contents.
func (s *Slot) Write(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal slot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	lk := flock.New(s.path)
	if err := lk.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer lk.Unlock()
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Take reads the slot into v and deletes it. Returns false when the slot is
// empty or corrupt; a corrupt slot is still cleared.
func (s *Slot) Take(v interface{}) bool {
	if _, err := os.Stat(s.path); err != nil {
		return false
	}
	lk := flock.New(s.path)
	if err := lk.RLock(); err != nil {
		return false
	}
	b, err := os.ReadFile(s.path)
	lk.Unlock()
	os.Remove(s.path)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, v) == nil
}

// Peek reads the slot without clearing it.
func (s *Slot) Peek(v interface{}) bool {
	return ReadDoc(s.path, v)
}

// #endregion
