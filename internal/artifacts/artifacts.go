// Package artifacts holds the data produced by the gather stage and
// consumed by audits: per-gatherer results (values or captured errors),
// trace recordings, and protocol logs, all keyed by name.
package artifacts

import (
	"encoding/json"
	"time"
)

// Reserved artifact names. These resolve from Set fields rather than from
// gatherer results and cannot be produced by a gatherer.
const (
	NameURL          = "URL"
	NameSettings     = "Settings"
	NameTraces       = "Traces"
	NameDevtoolsLogs = "DevtoolsLogs"
	NameWarnings     = "Warnings"
)

// DefaultPass is the pass name trace- and log-keyed audits read from.
const DefaultPass = "defaultPass"

// TraceEvent is a single entry from the browser's tracing domain. Args are
// kept raw so unknown event payloads survive a save/load round trip.
type TraceEvent struct {
	Name string          `json:"name"`
	Cat  string          `json:"cat,omitempty"`
	Ph   string          `json:"ph,omitempty"`
	PID  int64           `json:"pid,omitempty"`
	TID  int64           `json:"tid,omitempty"`
	TS   float64         `json:"ts"`
	Dur  float64         `json:"dur,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Trace is the recording captured during one pass.
type Trace struct {
	Events []TraceEvent `json:"traceEvents"`
}

// LogEntry is one DevTools event observed while a pass was recording.
// Params stay raw; consumers decode only the methods they care about.
type LogEntry struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Throttling describes the emulated machine and network conditions.
type Throttling struct {
	CPURate        float64 `json:"cpuRate,omitempty"`
	RTTMs          int     `json:"rttMs,omitempty"`
	ThroughputKbps float64 `json:"throughputKbps,omitempty"`
}

// Settings is the run configuration snapshot persisted with the set, so a
// saved gather can be re-audited under the conditions it was captured with.
type Settings struct {
	MaxWaitForLoadMs   int               `json:"maxWaitForLoadMs"`
	BlankWaitMs        int               `json:"blankWaitMs"`
	FormFactor         string            `json:"formFactor,omitempty"`
	UserAgent          string            `json:"userAgent,omitempty"`
	Throttling         Throttling        `json:"throttling"`
	BlockedURLPatterns []string          `json:"blockedUrlPatterns,omitempty"`
	ExtraHeaders       map[string]string `json:"extraHeaders,omitempty"`
}

// Set is everything one gather run produced for a single URL.
type Set struct {
	URL          string                `json:"url"`
	FetchTime    time.Time             `json:"fetchTime"`
	Settings     Settings              `json:"settings"`
	Results      map[string]Result     `json:"results"`
	Traces       map[string]*Trace     `json:"traces,omitempty"`
	DevtoolsLogs map[string][]LogEntry `json:"devtoolsLogs,omitempty"`
	Warnings     []string              `json:"warnings,omitempty"`
}

// NewSet returns an empty set for the given URL.
func NewSet(url string, settings Settings) *Set {
	return &Set{
		URL:          url,
		FetchTime:    time.Now().UTC(),
		Settings:     settings,
		Results:      map[string]Result{},
		Traces:       map[string]*Trace{},
		DevtoolsLogs: map[string][]LogEntry{},
	}
}

// Put stores the result for an artifact name, replacing any previous value.
func (s *Set) Put(name string, r Result) {
	if s.Results == nil {
		s.Results = map[string]Result{}
	}
	s.Results[name] = r
}

// PutValue stores a successful artifact value.
func (s *Set) PutValue(name string, v any) { s.Put(name, OK(v)) }

// PutError stores a gatherer failure as the artifact's value.
func (s *Set) PutError(name string, err error) { s.Put(name, Fail(err)) }

// Get resolves an artifact by name. Reserved names resolve from the set's
// own fields; everything else comes from gatherer results.
func (s *Set) Get(name string) (Result, bool) {
	switch name {
	case NameURL:
		return OK(s.URL), true
	case NameSettings:
		return OK(s.Settings), true
	case NameTraces:
		return OK(s.Traces), true
	case NameDevtoolsLogs:
		return OK(s.DevtoolsLogs), true
	case NameWarnings:
		return OK(s.Warnings), true
	}
	r, ok := s.Results[name]
	return r, ok
}

// Has reports whether the artifact name resolves at all, errored or not.
func (s *Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Warn appends a run warning surfaced in the final report.
func (s *Set) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}
