// Package provenance keeps a durable audit trail of state-changing events:
// decision-table applies and consolidation runs. JSON-lines ledgers rotate;
// the audit trail does not.
package provenance

// #region imports
import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/driftwatch/internal/foundry"
)

// #endregion

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS table_applies (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	table_version INTEGER NOT NULL,
	actions_json  TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS consolidation_runs (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	status             TEXT NOT NULL,
	sessions_analyzed  INTEGER NOT NULL,
	patterns_validated INTEGER NOT NULL,
	patterns_added     INTEGER NOT NULL,
	patterns_stale     INTEGER NOT NULL,
	created_at         TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct

// Store records audit events in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// Open opens the audit database and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion constructor

// #region record

// RecordApply logs one decision-table apply with its actions.
func (s *Store) RecordApply(version int, actions []foundry.AppliedAction) error {
	blob, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO table_applies (table_version, actions_json, created_at) VALUES (?, ?, ?)`,
		version, string(blob), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert apply: %w", err)
	}
	return nil
}

// ConsolidationRun is one logged consolidation outcome.
type ConsolidationRun struct {
	Status            string `json:"status"`
	SessionsAnalyzed  int    `json:"sessions_analyzed"`
	PatternsValidated int    `json:"patterns_validated"`
	PatternsAdded     int    `json:"patterns_added"`
	PatternsStale     int    `json:"patterns_stale"`
	CreatedAt         string `json:"created_at"`
}

// RecordConsolidation logs one consolidation run.
func (s *Store) RecordConsolidation(r ConsolidationRun) error {
	if r.CreatedAt == "" {
		r.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		`INSERT INTO consolidation_runs
		 (status, sessions_analyzed, patterns_validated, patterns_added, patterns_stale, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Status, r.SessionsAnalyzed, r.PatternsValidated, r.PatternsAdded, r.PatternsStale, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consolidation: %w", err)
	}
	return nil
}

// #endregion record

// #region query

// ApplyRecord is one logged decision-table apply.
type ApplyRecord struct {
	TableVersion int                     `json:"table_version"`
	Actions      []foundry.AppliedAction `json:"actions"`
	CreatedAt    string                  `json:"created_at"`
}

// Applies returns the most recent table applies, newest first.
func (s *Store) Applies(limit int) ([]ApplyRecord, error) {
	rows, err := s.db.Query(
		`SELECT table_version, actions_json, created_at
		 FROM table_applies ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query applies: %w", err)
	}
	defer rows.Close()

	var out []ApplyRecord
	for rows.Next() {
		var rec ApplyRecord
		var blob string
		if err := rows.Scan(&rec.TableVersion, &blob, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan apply: %w", err)
		}
		if err := json.Unmarshal([]byte(blob), &rec.Actions); err != nil {
			return nil, fmt.Errorf("decode actions: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Consolidations returns the most recent consolidation runs, newest first.
func (s *Store) Consolidations(limit int) ([]ConsolidationRun, error) {
	rows, err := s.db.Query(
		`SELECT status, sessions_analyzed, patterns_validated, patterns_added, patterns_stale, created_at
		 FROM consolidation_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query consolidations: %w", err)
	}
	defer rows.Close()

	var out []ConsolidationRun
	for rows.Next() {
		var r ConsolidationRun
		if err := rows.Scan(&r.Status, &r.SessionsAnalyzed, &r.PatternsValidated,
			&r.PatternsAdded, &r.PatternsStale, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan consolidation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion query
