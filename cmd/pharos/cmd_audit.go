package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pharos/internal/artifacts"
	"pharos/internal/config"
	"pharos/internal/store"
	"pharos/internal/wiring"
)

var auditFlags struct {
	configPath string
	output     string
	dbPath     string
	save       bool
	quiet      bool
}

var auditCmd = &cobra.Command{
	Use:   "audit <artifacts.json>",
	Short: "Audit a saved artifact set without a browser",
	Long: `Audit re-runs the audit catalog over an artifact set produced by
'pharos gather'. The same set audited with the same config yields the
same scores.`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	f := auditCmd.Flags()
	f.StringVarP(&auditFlags.configPath, "config", "c", "", "Run config file (YAML/JSON; default: built-in)")
	f.StringVarP(&auditFlags.output, "output", "o", "", "Write the JSON report to path (\"-\" = stdout)")
	f.StringVar(&auditFlags.dbPath, "db", store.DefaultDBPath, "Run history DB path")
	f.BoolVar(&auditFlags.save, "save", false, "Write the run to history")
	f.BoolVar(&auditFlags.quiet, "quiet", false, "Suppress the summary tables")
}

func runAudit(cmd *cobra.Command, args []string) error {
	set, err := artifacts.Load(args[0])
	if err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(auditFlags.configPath)
	if err != nil {
		return err
	}
	gr, ar := wiring.Registries()
	plan, err := wiring.Resolve(cfg, gr, ar)
	if err != nil {
		return err
	}

	res, err := wiring.AuditSet(cmd.Context(), set, plan)
	if err != nil {
		return err
	}

	if auditFlags.save {
		st, err := store.Open(auditFlags.dbPath)
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		defer st.Close()
		run, err := store.FromResult(res)
		if err != nil {
			return err
		}
		if err := st.SaveRun(run); err != nil {
			return err
		}
	}

	if auditFlags.output != "" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		data = append(data, '\n')
		if err := writeOutput(auditFlags.output, data); err != nil {
			return err
		}
	}
	if !auditFlags.quiet {
		printSummary(os.Stderr, res)
	}
	return nil
}
