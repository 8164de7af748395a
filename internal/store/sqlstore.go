package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersionV1

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

var _ Store = (*SqlStore)(nil)

// Open opens or creates a SQLite DB at path and runs migrations. Creates
// the parent directory (e.g. .pharos) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableCount == 0 {
		// Fresh database.
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	var v int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	if v != currentSchemaVersion {
		return fmt.Errorf("unknown schema version %d (want %d)", v, currentSchemaVersion)
	}
	return nil
}

// Close closes the database connection.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces a run row.
func (s *SqlStore) SaveRun(run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run is nil or has no id")
	}
	scores, err := json.Marshal(run.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	created := run.CreatedAt
	if created == "" {
		created = nowUTC()
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO runs(id, url, final_url, fetch_time, scores_json, report_json, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.URL, run.FinalURL, run.FetchTime, string(scores), string(run.Report), created,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun returns the run by id, or nil if not found.
func (s *SqlStore) GetRun(id string) (*Run, error) {
	var run Run
	var scores string
	var report string
	err := s.db.QueryRow(
		`SELECT id, url, final_url, fetch_time, scores_json, report_json, created_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.URL, &run.FinalURL, &run.FetchTime, &scores, &report, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &run.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	run.Report = []byte(report)
	return &run, nil
}

// ListRuns returns runs newest first, without report payloads.
func (s *SqlStore) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT id, url, final_url, fetch_time, scores_json, created_at
	          FROM runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var list []*Run
	for rows.Next() {
		var run Run
		var scores string
		if err := rows.Scan(&run.ID, &run.URL, &run.FinalURL, &run.FetchTime, &scores, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(scores), &run.Scores); err != nil {
			return nil, fmt.Errorf("decode scores: %w", err)
		}
		list = append(list, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return list, nil
}
