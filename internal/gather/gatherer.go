// Package gather drives the browser through the configured passes and
// collects artifacts. Each pass prepares the environment, navigates the
// target URL while recording protocol traffic (and optionally a trace),
// and runs gatherer hooks around the load.
package gather

import (
	"context"
	"fmt"
	"sort"

	"pharos/internal/artifacts"
	"pharos/internal/config"
	"pharos/internal/driver"
	"pharos/internal/netlog"
)

// PassContext is the read-only view a gatherer hook gets of the run.
// A fresh value is built for every hook invocation; gatherers must not
// retain it past the call.
type PassContext struct {
	URL      string
	Pass     config.PassDef
	Settings config.Settings
	Conn     driver.Connection
}

// LoadData is what a pass recorded: the raw protocol log, the network
// records reassembled from it, and the trace when the pass asked for one.
type LoadData struct {
	DevtoolsLog []artifacts.LogEntry
	Records     []*netlog.Record
	Trace       *artifacts.Trace
}

// Gatherer produces one artifact, named by Name, over the course of a run.
//
// Setup runs once before the first pass that lists the gatherer, and
// Teardown once after the last pass. BeforePass runs before the pass
// navigates, Pass right after the page load settles, and AfterPass once
// recording for the pass has stopped; AfterPass returns the artifact
// value. A non-fatal error from any hook becomes the artifact's value and
// disables the gatherer's remaining hooks; a fatal fault aborts the run.
type Gatherer interface {
	Name() string
	Setup(ctx context.Context, pc *PassContext) error
	BeforePass(ctx context.Context, pc *PassContext) error
	Pass(ctx context.Context, pc *PassContext) error
	AfterPass(ctx context.Context, pc *PassContext, ld *LoadData) (any, error)
	Teardown(ctx context.Context, pc *PassContext) error
}

// Base is a no-op implementation of every hook except Name. Embed it and
// override what the gatherer needs.
type Base struct{}

func (Base) Setup(context.Context, *PassContext) error      { return nil }
func (Base) BeforePass(context.Context, *PassContext) error { return nil }
func (Base) Pass(context.Context, *PassContext) error       { return nil }
func (Base) AfterPass(context.Context, *PassContext, *LoadData) (any, error) {
	return nil, nil
}
func (Base) Teardown(context.Context, *PassContext) error { return nil }

// Registry maps gatherer names to factories. Factories return a fresh
// instance per run so gatherer state never leaks across runs.
type Registry struct {
	factories map[string]func() Gatherer
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]func() Gatherer{}}
}

// Register adds a factory under name. Registering a name twice is a
// programming error and is rejected.
func (r *Registry) Register(name string, factory func() Gatherer) error {
	if name == "" {
		return fmt.Errorf("gather: register with empty name")
	}
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("gather: gatherer %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register for init-time wiring of stock gatherers.
func (r *Registry) MustRegister(name string, factory func() Gatherer) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Resolve instantiates the named gatherers, in the given order. Unknown
// names are a config-resolution error listing what is available.
func (r *Registry) Resolve(names []string) ([]Gatherer, error) {
	out := make([]Gatherer, 0, len(names))
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("gather: unknown gatherer %q (have %v)", name, r.Names())
		}
		g := factory()
		if g.Name() != name {
			return nil, fmt.Errorf("gather: gatherer registered as %q names itself %q", name, g.Name())
		}
		out = append(out, g)
	}
	return out, nil
}

// Names lists registered gatherers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
