// Package store persists run history: one row per completed run with its
// category scores and full JSON report. The CLI and MCP server use only
// the Store interface; the implementation is SQLite or in-memory.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"pharos/internal/runner"
)

// DefaultDBPath is the default relative path for the SQLite DB. Open()
// creates the parent directory.
const DefaultDBPath = ".pharos/pharos.db"

// Run is one stored run: identity, scores for listing, and the full
// report for retrieval.
type Run struct {
	ID        string
	URL       string
	FinalURL  string
	FetchTime string
	CreatedAt string
	// Scores maps category id to score; nil means the category was
	// unscored in that run.
	Scores map[string]*float64
	// Report is the complete runner.Result, JSON-encoded.
	Report []byte
}

// Store is the run-history facade.
type Store interface {
	SaveRun(run *Run) error
	// GetRun returns the run by id, or nil when unknown.
	GetRun(id string) (*Run, error)
	// ListRuns returns the most recent runs, newest first. limit <= 0
	// means no limit.
	ListRuns(limit int) ([]*Run, error)
	Close() error
}

// FromResult converts a finished run result into its stored form.
func FromResult(res *runner.Result) (*Run, error) {
	report, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	scores := map[string]*float64{}
	for _, cat := range res.Categories {
		scores[cat.ID] = cat.Score
	}
	return &Run{
		ID:        res.RunID,
		URL:       res.RequestedURL,
		FinalURL:  res.FinalURL,
		FetchTime: res.FetchTime.UTC().Format(time.RFC3339),
		Scores:    scores,
		Report:    report,
	}, nil
}
