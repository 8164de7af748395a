// Package runner assembles the final run result: it feeds a gathered
// artifact set through the audit executor and the score aggregator and
// stamps identity and timing onto the outcome.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pharos/internal/artifacts"
	"pharos/internal/audit"
	"pharos/internal/computed"
	"pharos/internal/config"
	"pharos/internal/scoring"
)

// Result is the terminal artifact of one run. Immutable once returned;
// report renderers consume it as-is.
type Result struct {
	RunID        string                   `json:"runId"`
	RequestedURL string                   `json:"requestedUrl"`
	FinalURL     string                   `json:"finalUrl"`
	FetchTime    time.Time                `json:"fetchTime"`
	AuditTimeMs  int64                    `json:"auditTimeMs"`
	Audits       map[string]audit.Result  `json:"audits"`
	Categories   []scoring.CategoryResult `json:"categories"`
	Warnings     []string                 `json:"warnings,omitempty"`

	// Artifacts is included only when the caller asked to keep them.
	Artifacts *artifacts.Set `json:"artifacts,omitempty"`
}

// CategoryScore returns the score for a category id, or nil when the
// category is absent or unscored.
func (r *Result) CategoryScore(id string) *float64 {
	for _, c := range r.Categories {
		if c.ID == id {
			return c.Score
		}
	}
	return nil
}

// Audit runs the configured audits over a gathered set and aggregates the
// scores. The set may come straight from a gather or from disk; a fresh
// computed cache is created either way, so nothing leaks between runs.
func Audit(ctx context.Context, set *artifacts.Set, cfg *config.Config, audits []audit.Audit) (*Result, error) {
	started := time.Now()
	cache := computed.NewCache()
	results, err := audit.NewExecutor(cache).Run(ctx, audits, set)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:        uuid.NewString(),
		RequestedURL: set.URL,
		FinalURL:     finalURL(ctx, cache, set),
		FetchTime:    set.FetchTime,
		AuditTimeMs:  time.Since(started).Milliseconds(),
		Audits:       results,
		Categories:   scoring.Aggregate(cfg.Categories, results),
		Warnings:     set.Warnings,
	}
	return res, nil
}

// finalURL is where the main document ended up after redirects. Falls back
// to the requested URL when the default pass has no usable document.
func finalURL(ctx context.Context, cache *computed.Cache, set *artifacts.Set) string {
	if _, ok := set.DevtoolsLogs[artifacts.DefaultPass]; !ok {
		return set.URL
	}
	// MainResource already follows the redirect chain to the final hop.
	doc, err := computed.MainResource(ctx, cache, set, artifacts.DefaultPass)
	if err != nil || doc.URL == "" {
		return set.URL
	}
	return doc.URL
}
