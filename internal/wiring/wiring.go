// Package wiring resolves a configuration against the gatherer and audit
// registries and runs the resulting plan. Resolution happens before the
// pipeline starts: an unknown name in the config is an error here, never
// mid-run.
package wiring

import (
	"context"
	"fmt"

	"pharos/internal/artifacts"
	"pharos/internal/audit"
	"pharos/internal/audit/audits"
	"pharos/internal/config"
	"pharos/internal/driver"
	"pharos/internal/gather"
	"pharos/internal/gather/gatherers"
	"pharos/internal/runner"
)

// Registries returns fresh registries with every stock gatherer and audit
// registered. Fresh per call so tests can add their own entries without
// cross-talk.
func Registries() (*gather.Registry, *audit.Registry) {
	gr := gather.NewRegistry()
	gatherers.RegisterAll(gr)
	ar := audit.NewRegistry()
	audits.RegisterAll(ar)
	return gr, ar
}

// Plan is a configuration resolved against the registries: every pass has
// its gatherer instances, every audit id its implementation. Gatherer
// instances carry per-run state, so one plan serves exactly one run;
// resolve a fresh plan per URL.
type Plan struct {
	Config *config.Config
	Passes []gather.Pass
	Audits []audit.Audit
}

// Resolve validates cfg and instantiates its gatherers and audits. A
// gatherer named by several passes resolves to one shared instance, so it
// accumulates across passes into a single artifact.
func Resolve(cfg *config.Config, gr *gather.Registry, ar *audit.Registry) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	instances := map[string]gather.Gatherer{}
	passes := make([]gather.Pass, 0, len(cfg.Passes))
	for _, def := range cfg.Passes {
		pass := gather.Pass{Def: def}
		for _, name := range def.Gatherers {
			g, ok := instances[name]
			if !ok {
				resolved, err := gr.Resolve([]string{name})
				if err != nil {
					return nil, fmt.Errorf("pass %q: %w", def.Name, err)
				}
				g = resolved[0]
				instances[name] = g
			}
			pass.Gatherers = append(pass.Gatherers, g)
		}
		passes = append(passes, pass)
	}

	auditList, err := ar.Resolve(cfg.Audits)
	if err != nil {
		return nil, err
	}
	return &Plan{Config: cfg, Passes: passes, Audits: auditList}, nil
}

// Gather drives the plan's passes over conn against one URL and returns
// the artifact set.
func Gather(ctx context.Context, conn driver.Connection, plan *Plan, url string, opts ...gather.Option) (*artifacts.Set, error) {
	coord := gather.NewCoordinator(conn, plan.Config.Settings, plan.Passes, opts...)
	return coord.Run(ctx, url)
}

// Run executes the full pipeline for one URL: gather, audit, aggregate.
func Run(ctx context.Context, conn driver.Connection, plan *Plan, url string, opts ...gather.Option) (*runner.Result, error) {
	set, err := Gather(ctx, conn, plan, url, opts...)
	if err != nil {
		return nil, err
	}
	return AuditSet(ctx, set, plan)
}

// AuditSet runs the plan's audits over an already-gathered set, live or
// reloaded from disk.
func AuditSet(ctx context.Context, set *artifacts.Set, plan *Plan) (*runner.Result, error) {
	return runner.Audit(ctx, set, plan.Config, plan.Audits)
}
