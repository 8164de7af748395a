// Package audit defines the check contract and the executor that runs
// configured audits against a gathered artifact set.
package audit

import (
	"context"
	"fmt"
	"sort"

	"pharos/internal/artifacts"
	"pharos/internal/computed"
)

// DisplayMode tells the report how to present a result's score.
type DisplayMode string

const (
	// ModeBinary scores pass (1) or fail (0).
	ModeBinary DisplayMode = "binary"
	// ModeNumeric scores on a 0-1 scale derived from a measured value.
	ModeNumeric DisplayMode = "numeric"
	// ModeInformative reports a value without judging it; excluded from
	// category scores.
	ModeInformative DisplayMode = "informative"
	// ModeManual marks checks a human has to verify; excluded from
	// category scores.
	ModeManual DisplayMode = "manual"
	// ModeNotApplicable means the page gave the audit nothing to assess.
	ModeNotApplicable DisplayMode = "notApplicable"
	// ModeError is set by the executor when the audit could not run.
	ModeError DisplayMode = "error"
)

// Meta is an audit's static description: identity, the artifacts it needs,
// and how its score displays.
type Meta struct {
	ID                string
	Title             string
	Description       string
	RequiredArtifacts []string
	OptionalArtifacts []string
	ScoreDisplayMode  DisplayMode
	// Options are audit-specific defaults (thresholds, budgets) handed to
	// Evaluate through the context.
	Options map[string]any
}

// Context is the per-invocation view an audit gets beside its artifacts.
type Context struct {
	URL         string
	Settings    artifacts.Settings
	Cache       *computed.Cache
	Options     map[string]any
	RunWarnings []string
}

// FloatOption reads a numeric option with a fallback.
func (c *Context) FloatOption(name string, def float64) float64 {
	if v, ok := c.Options[name]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// Product is what an audit's evaluation returns. Score is nil for manual,
// informative, and not-applicable outcomes.
type Product struct {
	Score        *float64
	NumericValue float64
	DisplayValue string
	Details      any
	Warnings     []string
}

// Score wraps a concrete score value.
func Score(v float64) *float64 { return &v }

// Binary is the usual pass/fail product.
func Binary(pass bool) Product {
	if pass {
		return Product{Score: Score(1)}
	}
	return Product{Score: Score(0)}
}

// Audit is one pluggable check over the artifact set.
type Audit interface {
	Meta() Meta
	Evaluate(ctx context.Context, arts *artifacts.Set, ac *Context) (Product, error)
}

// Result is the immutable outcome of one audit.
type Result struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Score        *float64    `json:"score"`
	DisplayMode  DisplayMode `json:"scoreDisplayMode"`
	NumericValue float64     `json:"numericValue,omitempty"`
	DisplayValue string      `json:"displayValue,omitempty"`
	Details      any         `json:"details,omitempty"`
	Warnings     []string    `json:"warnings,omitempty"`
	Error        string      `json:"errorMessage,omitempty"`
}

// Registry maps audit IDs to factories, mirroring the gatherer registry:
// unknown IDs fail at configuration resolution, before any pass runs.
type Registry struct {
	factories map[string]func() Audit
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]func() Audit{}}
}

func (r *Registry) Register(id string, factory func() Audit) error {
	if id == "" {
		return fmt.Errorf("audit: register with empty id")
	}
	if _, dup := r.factories[id]; dup {
		return fmt.Errorf("audit: audit %q already registered", id)
	}
	r.factories[id] = factory
	return nil
}

// MustRegister is Register for init-time wiring of stock audits.
func (r *Registry) MustRegister(id string, factory func() Audit) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Resolve instantiates the named audits in order. An audit whose metadata
// disagrees with its registered id is a programming error.
func (r *Registry) Resolve(ids []string) ([]Audit, error) {
	out := make([]Audit, 0, len(ids))
	for _, id := range ids {
		factory, ok := r.factories[id]
		if !ok {
			return nil, fmt.Errorf("audit: unknown audit %q (have %v)", id, r.IDs())
		}
		a := factory()
		if a.Meta().ID != id {
			return nil, fmt.Errorf("audit: audit registered as %q identifies as %q", id, a.Meta().ID)
		}
		out = append(out, a)
	}
	return out, nil
}

// IDs lists registered audits, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Metas returns the metadata of every registered audit, sorted by id.
func (r *Registry) Metas() []Meta {
	metas := make([]Meta, 0, len(r.factories))
	for _, id := range r.IDs() {
		metas = append(metas, r.factories[id]().Meta())
	}
	return metas
}
