package audit

import (
	"context"
	"log/slog"

	"pharos/internal/artifacts"
	"pharos/internal/computed"
	"pharos/internal/fault"
	"pharos/internal/logging"
)

// Executor validates artifact availability per audit, runs the audits
// strictly in configured order, and converts failures into error results.
// Sequential by design: audits share one cache and the ordering bounds
// contention, it is not a throughput concern.
type Executor struct {
	cache *computed.Cache
	log   *slog.Logger
}

// NewExecutor builds an executor over a fresh per-run cache.
func NewExecutor(cache *computed.Cache) *Executor {
	return &Executor{cache: cache, log: logging.New("audit")}
}

// Run executes the audits against the set and returns results keyed by
// audit id. Only fatal faults surface as an error; everything else becomes
// an error-mode result for the audit concerned.
func (e *Executor) Run(ctx context.Context, audits []Audit, set *artifacts.Set) (map[string]Result, error) {
	results := make(map[string]Result, len(audits))
	for _, a := range audits {
		res, err := e.runOne(ctx, a, set)
		if err != nil {
			return nil, err
		}
		results[res.ID] = res
	}
	return results, nil
}

func (e *Executor) runOne(ctx context.Context, a Audit, set *artifacts.Set) (Result, error) {
	meta := a.Meta()
	e.log.Debug("auditing", "id", meta.ID)

	for _, name := range meta.RequiredArtifacts {
		r, ok := set.Get(name)
		if !ok {
			return errorResult(meta, fault.Newf(fault.CodeMissingArtifact,
				"required artifact %q is missing", name)), nil
		}
		if r.IsErr() {
			// The gatherer failed; this audit cannot run but the run goes on.
			// The failure was already reported at gather time, so it is an
			// expected condition here, not a fresh one.
			return errorResult(meta, fault.Wrap(fault.CodeErroredArtifact,
				"required "+name+" gatherer encountered an error: "+r.Err().Message, r.Err())), nil
		}
		// Traces are keyed by pass name; a non-empty trace map is not enough
		// when the default pass's trace is what the audit will read.
		if name == artifacts.NameTraces {
			if _, ok := set.Traces[artifacts.DefaultPass]; !ok {
				return errorResult(meta, fault.Newf(fault.CodeMissingTrace,
					"required traces are missing the %q pass", artifacts.DefaultPass)), nil
			}
		}
	}

	ac := &Context{
		URL:         set.URL,
		Settings:    set.Settings,
		Cache:       e.cache,
		Options:     meta.Options,
		RunWarnings: set.Warnings,
	}
	product, err := e.evaluate(ctx, a, narrow(set, meta), ac)
	if err != nil {
		if fault.IsFatal(err) {
			return Result{}, err
		}
		return errorResult(meta, err), nil
	}

	res := Result{
		ID:           meta.ID,
		Title:        meta.Title,
		Description:  meta.Description,
		Score:        product.Score,
		DisplayMode:  meta.ScoreDisplayMode,
		NumericValue: product.NumericValue,
		DisplayValue: product.DisplayValue,
		Details:      product.Details,
		Warnings:     product.Warnings,
	}
	if res.Score == nil && (res.DisplayMode == ModeBinary || res.DisplayMode == ModeNumeric) {
		res.DisplayMode = ModeNotApplicable
	}
	if res.Score != nil && (*res.Score < 0 || *res.Score > 1) {
		return errorResult(meta, fault.Newf(fault.CodeUnknown,
			"audit %s produced score %v outside [0, 1]", meta.ID, *res.Score)), nil
	}
	return res, nil
}

// evaluate shields the run from panicking audit implementations.
func (e *Executor) evaluate(ctx context.Context, a Audit, set *artifacts.Set, ac *Context) (product Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.Newf(fault.CodeAuditPanic, "audit %s panicked: %v", a.Meta().ID, r)
		}
	}()
	return a.Evaluate(ctx, set, ac)
}

// narrow restricts the set to what the audit declared. Reserved entries
// resolve only when declared, same as gatherer artifacts.
func narrow(set *artifacts.Set, meta Meta) *artifacts.Set {
	declared := map[string]bool{}
	for _, n := range meta.RequiredArtifacts {
		declared[n] = true
	}
	for _, n := range meta.OptionalArtifacts {
		declared[n] = true
	}

	out := &artifacts.Set{
		URL:       set.URL,
		FetchTime: set.FetchTime,
		Settings:  set.Settings,
		Results:   map[string]artifacts.Result{},
		Warnings:  set.Warnings,
	}
	for name, r := range set.Results {
		if declared[name] {
			out.Results[name] = r
		}
	}
	if declared[artifacts.NameTraces] {
		out.Traces = set.Traces
	}
	if declared[artifacts.NameDevtoolsLogs] {
		out.DevtoolsLogs = set.DevtoolsLogs
	}
	return out
}

func errorResult(meta Meta, err error) Result {
	return Result{
		ID:          meta.ID,
		Title:       meta.Title,
		Description: meta.Description,
		Score:       nil,
		DisplayMode: ModeError,
		Error:       fault.Friendly(err),
	}
}
