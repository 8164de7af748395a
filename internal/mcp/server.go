// Package mcp exposes the audit pipeline over the Model Context Protocol:
// run audits, inspect the audit catalog, and read run history, all over
// stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"pharos/internal/config"
	"pharos/internal/driver"
	"pharos/internal/logging"
	"pharos/internal/runner"
	"pharos/internal/store"
	"pharos/internal/wiring"
)

// Options configures the server. The connection and store factories are
// seams for tests; the defaults launch headless Chrome and open the
// SQLite history DB.
type Options struct {
	DBPath     string
	ChromePath string
	RemoteURL  string
	Headful    bool

	NewConnection func() driver.Connection
	OpenStore     func() (store.Store, error)
}

// Server wraps the MCP SDK server around the audit pipeline.
type Server struct {
	MCPServer *sdkmcp.Server

	opts Options

	// One audit at a time: runs own the browser exclusively.
	runMu sync.Mutex
}

// NewServer creates an MCP server with the audit tools registered.
func NewServer(opts Options) *Server {
	if opts.DBPath == "" {
		opts.DBPath = store.DefaultDBPath
	}
	if opts.NewConnection == nil {
		opts.NewConnection = func() driver.Connection {
			var copts []driver.ChromeOption
			if opts.ChromePath != "" {
				copts = append(copts, driver.WithChromePath(opts.ChromePath))
			}
			if opts.RemoteURL != "" {
				copts = append(copts, driver.WithRemoteURL(opts.RemoteURL))
			}
			if opts.Headful {
				copts = append(copts, driver.WithHeadful())
			}
			return driver.NewChrome(copts...)
		}
	}
	if opts.OpenStore == nil {
		opts.OpenStore = func() (store.Store, error) { return store.Open(opts.DBPath) }
	}

	s := &Server{opts: opts}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "pharos", Version: "dev"},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_audit",
		Description: "Audit a URL: drive the browser through the configured passes, run the audits, and return category scores. The full report is saved to run history.",
	}, s.handleRunAudit)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_audits",
		Description: "List the registered audits with their required artifacts and display modes.",
	}, s.handleListAudits)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_run",
		Description: "Fetch a stored run report by run ID.",
	}, s.handleGetRun)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_runs",
		Description: "List stored runs, newest first.",
	}, s.handleListRuns)
}

// --- Tool input/output types ---

type runAuditInput struct {
	URL        string `json:"url" jsonschema:"the http(s) URL to audit"`
	ConfigPath string `json:"config_path,omitempty" jsonschema:"optional path to a YAML/JSON run config"`
	NoSave     bool   `json:"no_save,omitempty" jsonschema:"skip writing the run to history"`
}

type categoryScore struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Score *float64 `json:"score"`
}

type auditSummary struct {
	ID           string   `json:"id"`
	Score        *float64 `json:"score"`
	DisplayMode  string   `json:"display_mode"`
	DisplayValue string   `json:"display_value,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type runAuditOutput struct {
	RunID      string          `json:"run_id"`
	FinalURL   string          `json:"final_url"`
	Categories []categoryScore `json:"categories"`
	Audits     []auditSummary  `json:"audits"`
	Warnings   []string        `json:"warnings,omitempty"`
}

type listAuditsOutput struct {
	Audits []auditMeta `json:"audits"`
}

type auditMeta struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	RequiredArtifacts []string `json:"required_artifacts"`
	ScoreDisplayMode  string   `json:"score_display_mode"`
}

type getRunInput struct {
	RunID string `json:"run_id" jsonschema:"run ID from run_audit or list_runs"`
}

type getRunOutput struct {
	Run json.RawMessage `json:"run"`
}

type listRunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"max runs to return (default 20)"`
}

type runSummary struct {
	RunID     string              `json:"run_id"`
	URL       string              `json:"url"`
	FetchTime string              `json:"fetch_time"`
	Scores    map[string]*float64 `json:"scores"`
}

type listRunsOutput struct {
	Runs []runSummary `json:"runs"`
}

// --- Tool handlers ---

func (s *Server) handleRunAudit(ctx context.Context, _ *sdkmcp.CallToolRequest, input runAuditInput) (*sdkmcp.CallToolResult, runAuditOutput, error) {
	logger := logging.New("mcp")
	if input.URL == "" {
		return nil, runAuditOutput{}, fmt.Errorf("url is required")
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	cfg, err := config.LoadOrDefault(input.ConfigPath)
	if err != nil {
		return nil, runAuditOutput{}, err
	}
	gr, ar := wiring.Registries()
	plan, err := wiring.Resolve(cfg, gr, ar)
	if err != nil {
		return nil, runAuditOutput{}, err
	}

	logger.Info("auditing", "url", input.URL)
	result, err := wiring.Run(ctx, s.opts.NewConnection(), plan, input.URL)
	if err != nil {
		return nil, runAuditOutput{}, fmt.Errorf("run audit: %w", err)
	}

	if !input.NoSave {
		if err := s.saveRun(result); err != nil {
			logger.Warn("saving run to history failed", "err", err)
		}
	}

	out := runAuditOutput{
		RunID:    result.RunID,
		FinalURL: result.FinalURL,
		Warnings: result.Warnings,
	}
	for _, cat := range result.Categories {
		out.Categories = append(out.Categories, categoryScore{ID: cat.ID, Title: cat.Title, Score: cat.Score})
	}
	for _, id := range plan.Config.Audits {
		res := result.Audits[id]
		out.Audits = append(out.Audits, auditSummary{
			ID:           res.ID,
			Score:        res.Score,
			DisplayMode:  string(res.DisplayMode),
			DisplayValue: res.DisplayValue,
			Error:        res.Error,
		})
	}
	return nil, out, nil
}

func (s *Server) saveRun(result *runner.Result) error {
	run, err := store.FromResult(result)
	if err != nil {
		return err
	}
	st, err := s.opts.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.SaveRun(run)
}

func (s *Server) handleListAudits(_ context.Context, _ *sdkmcp.CallToolRequest, _ struct{}) (*sdkmcp.CallToolResult, listAuditsOutput, error) {
	_, ar := wiring.Registries()
	var out listAuditsOutput
	for _, m := range ar.Metas() {
		out.Audits = append(out.Audits, auditMeta{
			ID:                m.ID,
			Title:             m.Title,
			Description:       m.Description,
			RequiredArtifacts: m.RequiredArtifacts,
			ScoreDisplayMode:  string(m.ScoreDisplayMode),
		})
	}
	return nil, out, nil
}

func (s *Server) handleGetRun(_ context.Context, _ *sdkmcp.CallToolRequest, input getRunInput) (*sdkmcp.CallToolResult, getRunOutput, error) {
	st, err := s.opts.OpenStore()
	if err != nil {
		return nil, getRunOutput{}, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	run, err := st.GetRun(input.RunID)
	if err != nil {
		return nil, getRunOutput{}, err
	}
	if run == nil {
		return nil, getRunOutput{}, fmt.Errorf("no run with id %s", input.RunID)
	}
	return nil, getRunOutput{Run: json.RawMessage(run.Report)}, nil
}

func (s *Server) handleListRuns(_ context.Context, _ *sdkmcp.CallToolRequest, input listRunsInput) (*sdkmcp.CallToolResult, listRunsOutput, error) {
	st, err := s.opts.OpenStore()
	if err != nil {
		return nil, listRunsOutput{}, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	runs, err := st.ListRuns(limit)
	if err != nil {
		return nil, listRunsOutput{}, err
	}
	var out listRunsOutput
	for _, run := range runs {
		out.Runs = append(out.Runs, runSummary{
			RunID:     run.ID,
			URL:       run.URL,
			FetchTime: run.FetchTime,
			Scores:    run.Scores,
		})
	}
	return nil, out, nil
}
