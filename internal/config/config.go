// Package config describes a run: which passes to drive, which gatherers
// each pass runs, which audits to execute, and how categories weight them.
// Names stay strings here; the wiring layer resolves them against the
// gatherer and audit registries at startup.
package config

import (
	"fmt"

	"pharos/internal/artifacts"
)

// Defaults applied by ApplyDefaults when the corresponding field is unset.
const (
	DefaultMaxWaitForLoadMs = 45000
	DefaultBlankWaitMs      = 300
	DefaultNetworkQuietMs   = 500
	DefaultAbortThreshold   = 0.5
	DefaultFormFactor       = "mobile"
	DefaultCPURate          = 4
	DefaultRTTMs            = 150
	DefaultThroughputKbps   = 1638.4
)

// Throttling is the emulated environment for throttled passes. A zero
// value means "use the defaults"; set CPURate to 1 and the network fields
// explicitly to run unthrottled.
type Throttling struct {
	CPURate        float64 `yaml:"cpuRate" json:"cpuRate"`
	RTTMs          int     `yaml:"rttMs" json:"rttMs"`
	ThroughputKbps float64 `yaml:"throughputKbps" json:"throughputKbps"`
}

func (t Throttling) isZero() bool {
	return t.CPURate == 0 && t.RTTMs == 0 && t.ThroughputKbps == 0
}

// Settings are run-wide knobs shared by every pass.
type Settings struct {
	MaxWaitForLoadMs int               `yaml:"maxWaitForLoadMs" json:"maxWaitForLoadMs"`
	BlankWaitMs      int               `yaml:"blankWaitMs" json:"blankWaitMs"`
	NetworkQuietMs   int               `yaml:"networkQuietMs" json:"networkQuietMs"`
	FormFactor       string            `yaml:"formFactor" json:"formFactor"`
	Throttling       Throttling        `yaml:"throttling" json:"throttling"`
	AbortThreshold   *float64          `yaml:"abortThreshold" json:"abortThreshold,omitempty"`
	ExtraHeaders     map[string]string `yaml:"extraHeaders" json:"extraHeaders,omitempty"`
}

// PassDef is one navigation of the page and the gatherers that ride along.
type PassDef struct {
	Name               string   `yaml:"name" json:"name"`
	RecordTrace        bool     `yaml:"recordTrace" json:"recordTrace"`
	Gatherers          []string `yaml:"gatherers" json:"gatherers"`
	PauseAfterLoadMs   int      `yaml:"pauseAfterLoadMs" json:"pauseAfterLoadMs,omitempty"`
	BlockedURLPatterns []string `yaml:"blockedUrlPatterns" json:"blockedUrlPatterns,omitempty"`
}

// AuditRef weights one audit inside a category.
type AuditRef struct {
	ID     string  `yaml:"id" json:"id"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// CategoryDef groups audits into a reported, weighted section.
type CategoryDef struct {
	ID        string     `yaml:"id" json:"id"`
	Title     string     `yaml:"title" json:"title"`
	AuditRefs []AuditRef `yaml:"auditRefs" json:"auditRefs"`
}

// Config is a complete run description.
type Config struct {
	Settings   Settings      `yaml:"settings" json:"settings"`
	Passes     []PassDef     `yaml:"passes" json:"passes"`
	Audits     []string      `yaml:"audits" json:"audits"`
	Categories []CategoryDef `yaml:"categories" json:"categories"`
}

// Default is the built-in run description: one traced pass with every
// stock gatherer, every stock audit, three categories.
func Default() *Config {
	return &Config{
		Settings: Settings{
			MaxWaitForLoadMs: DefaultMaxWaitForLoadMs,
			BlankWaitMs:      DefaultBlankWaitMs,
			NetworkQuietMs:   DefaultNetworkQuietMs,
			FormFactor:       DefaultFormFactor,
			Throttling: Throttling{
				CPURate:        DefaultCPURate,
				RTTMs:          DefaultRTTMs,
				ThroughputKbps: DefaultThroughputKbps,
			},
		},
		Passes: []PassDef{
			{
				Name:        artifacts.DefaultPass,
				RecordTrace: true,
				Gatherers:   []string{"console-messages", "meta-elements", "doctype"},
			},
		},
		Audits: []string{
			"is-on-https",
			"redirects",
			"http-status-code",
			"server-response-time",
			"total-byte-weight",
			"errors-in-console",
			"first-contentful-paint",
			"doctype",
			"document-title",
			"meta-description",
			"viewport",
			"is-crawlable",
		},
		Categories: []CategoryDef{
			{
				ID:    "performance",
				Title: "Performance",
				AuditRefs: []AuditRef{
					{ID: "first-contentful-paint", Weight: 3},
					{ID: "server-response-time", Weight: 1},
					{ID: "total-byte-weight", Weight: 1},
					{ID: "redirects", Weight: 1},
				},
			},
			{
				ID:    "best-practices",
				Title: "Best Practices",
				AuditRefs: []AuditRef{
					{ID: "is-on-https", Weight: 1},
					{ID: "errors-in-console", Weight: 1},
					{ID: "doctype", Weight: 1},
				},
			},
			{
				ID:    "seo",
				Title: "SEO",
				AuditRefs: []AuditRef{
					{ID: "document-title", Weight: 1},
					{ID: "meta-description", Weight: 1},
					{ID: "http-status-code", Weight: 1},
					{ID: "viewport", Weight: 1},
					{ID: "is-crawlable", Weight: 1},
				},
			},
		},
	}
}

// ApplyDefaults fills unset sections and settings from Default. A config
// that names no passes gets the default pass list, and so on; partial
// configs are the common case.
func (c *Config) ApplyDefaults() {
	def := Default()
	if c.Settings.MaxWaitForLoadMs == 0 {
		c.Settings.MaxWaitForLoadMs = def.Settings.MaxWaitForLoadMs
	}
	if c.Settings.BlankWaitMs == 0 {
		c.Settings.BlankWaitMs = def.Settings.BlankWaitMs
	}
	if c.Settings.NetworkQuietMs == 0 {
		c.Settings.NetworkQuietMs = def.Settings.NetworkQuietMs
	}
	if c.Settings.FormFactor == "" {
		c.Settings.FormFactor = def.Settings.FormFactor
	}
	if c.Settings.Throttling.isZero() {
		c.Settings.Throttling = def.Settings.Throttling
	}
	if c.Settings.AbortThreshold == nil {
		v := DefaultAbortThreshold
		c.Settings.AbortThreshold = &v
	}
	if len(c.Passes) == 0 {
		c.Passes = def.Passes
	}
	if len(c.Audits) == 0 {
		c.Audits = def.Audits
	}
	if len(c.Categories) == 0 {
		c.Categories = def.Categories
	}
}

// Validate checks structure: name uniqueness, weight sanity, and that
// category references stay within the configured audit list. Registry
// existence of gatherer and audit names is checked later, at resolution.
func (c *Config) Validate() error {
	if len(c.Passes) == 0 {
		return fmt.Errorf("config: at least one pass is required")
	}
	if c.Passes[0].Name != artifacts.DefaultPass {
		return fmt.Errorf("config: first pass must be named %q, got %q", artifacts.DefaultPass, c.Passes[0].Name)
	}
	passNames := map[string]bool{}
	for _, p := range c.Passes {
		if p.Name == "" {
			return fmt.Errorf("config: pass with empty name")
		}
		if passNames[p.Name] {
			return fmt.Errorf("config: duplicate pass name %q", p.Name)
		}
		passNames[p.Name] = true
		seen := map[string]bool{}
		for _, g := range p.Gatherers {
			if seen[g] {
				return fmt.Errorf("config: pass %q lists gatherer %q twice", p.Name, g)
			}
			seen[g] = true
		}
	}

	auditIDs := map[string]bool{}
	for _, id := range c.Audits {
		if id == "" {
			return fmt.Errorf("config: empty audit id")
		}
		if auditIDs[id] {
			return fmt.Errorf("config: duplicate audit id %q", id)
		}
		auditIDs[id] = true
	}

	catIDs := map[string]bool{}
	for _, cat := range c.Categories {
		if cat.ID == "" {
			return fmt.Errorf("config: category with empty id")
		}
		if catIDs[cat.ID] {
			return fmt.Errorf("config: duplicate category id %q", cat.ID)
		}
		catIDs[cat.ID] = true
		if len(cat.AuditRefs) == 0 {
			return fmt.Errorf("config: category %q has no audit refs", cat.ID)
		}
		for _, ref := range cat.AuditRefs {
			if !auditIDs[ref.ID] {
				return fmt.Errorf("config: category %q references unknown audit %q", cat.ID, ref.ID)
			}
			if ref.Weight < 0 {
				return fmt.Errorf("config: category %q gives audit %q negative weight", cat.ID, ref.ID)
			}
		}
	}

	if t := c.Settings.AbortThreshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("config: abortThreshold %v outside [0, 1]", *t)
	}
	if c.Settings.MaxWaitForLoadMs < 0 || c.Settings.BlankWaitMs < 0 {
		return fmt.Errorf("config: negative wait durations")
	}
	return nil
}

// Narrow restricts the run to the named audits and/or categories. Category
// selection keeps every audit its refs name; audit selection drops refs to
// excluded audits and then drops categories left empty.
func (c *Config) Narrow(onlyAudits, onlyCategories []string) error {
	if len(onlyAudits) == 0 && len(onlyCategories) == 0 {
		return nil
	}

	keepAudit := map[string]bool{}
	if len(onlyCategories) > 0 {
		byID := map[string]CategoryDef{}
		for _, cat := range c.Categories {
			byID[cat.ID] = cat
		}
		var kept []CategoryDef
		for _, id := range onlyCategories {
			cat, ok := byID[id]
			if !ok {
				return fmt.Errorf("config: unknown category %q", id)
			}
			kept = append(kept, cat)
			for _, ref := range cat.AuditRefs {
				keepAudit[ref.ID] = true
			}
		}
		c.Categories = kept
	}
	if len(onlyAudits) > 0 {
		known := map[string]bool{}
		for _, id := range c.Audits {
			known[id] = true
		}
		for _, id := range onlyAudits {
			if !known[id] {
				return fmt.Errorf("config: unknown audit %q", id)
			}
			keepAudit[id] = true
		}
	}

	var audits []string
	for _, id := range c.Audits {
		if keepAudit[id] {
			audits = append(audits, id)
		}
	}
	c.Audits = audits

	var cats []CategoryDef
	for _, cat := range c.Categories {
		var refs []AuditRef
		for _, ref := range cat.AuditRefs {
			if keepAudit[ref.ID] {
				refs = append(refs, ref)
			}
		}
		if len(refs) > 0 {
			cat.AuditRefs = refs
			cats = append(cats, cat)
		}
	}
	c.Categories = cats
	return nil
}
