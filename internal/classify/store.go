package classify

// #region imports
import (
	"os"
	"path/filepath"
	"strings"
)

// #endregion

// #region tag-store

// TagStore persists the last computed query type between the classification
// step and the scoring step. A single ephemeral file, last-write-wins.
type TagStore struct {
	path string
}

// NewTagStore creates a TagStore rooted in the given data directory.
func NewTagStore(dir string) *TagStore {
	return &TagStore{path: filepath.Join(dir, "query-type.tmp")}
}

// Write records the classification for the next scoring run.
func (s *TagStore) Write(tag QueryType) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(tag), 0o644)
}

// Read returns the current classification. Missing, empty, or unrecognized
// tags degrade to ambiguous.
func (s *TagStore) Read() QueryType {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return QueryAmbiguous
	}
	tag := QueryType(strings.TrimSpace(string(b)))
	for _, known := range QueryTypes {
		if tag == known {
			return tag
		}
	}
	return QueryAmbiguous
}

// #endregion
