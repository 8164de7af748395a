package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pharos/internal/config"
	"pharos/internal/logging"
	"pharos/internal/runner"
	"pharos/internal/store"
	"pharos/internal/wiring"
)

var runFlags struct {
	browserFlags
	configPath    string
	output        string
	dbPath        string
	noSave        bool
	keepArtifacts bool
	parallel      int
	quiet         bool
}

var runCmd = &cobra.Command{
	Use:   "run <url> [url...]",
	Short: "Gather, audit, and score one or more URLs",
	Long: `Run drives the browser through the configured passes for each URL,
executes the audits, and aggregates category scores. Each URL gets its
own browser so runs cannot contaminate each other; --parallel bounds
how many browsers are alive at once.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	addBrowserFlags(runCmd, &runFlags.browserFlags)
	f.StringVarP(&runFlags.configPath, "config", "c", "", "Run config file (YAML/JSON; default: built-in)")
	f.StringVarP(&runFlags.output, "output", "o", "", "Write JSON report(s) to path (\"-\" = stdout; multi-URL runs append the URL host)")
	f.StringVar(&runFlags.dbPath, "db", store.DefaultDBPath, "Run history DB path")
	f.BoolVar(&runFlags.noSave, "no-save", false, "Skip writing runs to history")
	f.BoolVar(&runFlags.keepArtifacts, "keep-artifacts", false, "Embed gathered artifacts in the report")
	f.IntVar(&runFlags.parallel, "parallel", 1, "Max URLs audited concurrently")
	f.BoolVar(&runFlags.quiet, "quiet", false, "Suppress the summary tables")
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logging.New("cli")
	cfg, err := config.LoadOrDefault(runFlags.configPath)
	if err != nil {
		return err
	}

	var st store.Store
	if !runFlags.noSave {
		st, err = store.Open(runFlags.dbPath)
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		defer st.Close()
	}

	parallel := runFlags.parallel
	if parallel < 1 {
		parallel = 1
	}

	results := make([]*runner.Result, len(args))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(parallel)
	for i, url := range args {
		g.Go(func() error {
			// Gatherer instances are stateful: every URL gets a fresh plan.
			gr, ar := wiring.Registries()
			plan, err := wiring.Resolve(cfg, gr, ar)
			if err != nil {
				return err
			}
			log.Info("auditing", "url", url)
			res, err := wiring.Run(ctx, runFlags.connection(), plan, url)
			if err != nil {
				return fmt.Errorf("%s: %w", url, err)
			}
			if !runFlags.keepArtifacts {
				res.Artifacts = nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		if st != nil {
			run, err := store.FromResult(res)
			if err != nil {
				return err
			}
			if err := st.SaveRun(run); err != nil {
				log.Warn("saving run to history failed", "url", res.RequestedURL, "err", err)
			}
		}
		if err := writeReport(res, len(results) > 1); err != nil {
			return err
		}
		if !runFlags.quiet {
			printSummary(os.Stderr, res)
		}
	}
	return nil
}

func writeReport(res *runner.Result, multi bool) error {
	if runFlags.output == "" {
		return nil
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	path := runFlags.output
	if multi && path != "-" {
		path = reportPath(path, res.RequestedURL)
	}
	return writeOutput(path, data)
}

// reportPath derives a per-URL file name: report.json + example.com ->
// report.example.com.json.
func reportPath(base, url string) string {
	host := url
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/:?#"); i >= 0 {
		host = host[:i]
	}
	if ext := ".json"; strings.HasSuffix(base, ext) {
		return strings.TrimSuffix(base, ext) + "." + host + ext
	}
	return base + "." + host
}
