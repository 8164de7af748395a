package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pharos/internal/display"
	"pharos/internal/format"
	"pharos/internal/store"
)

var historyFlags struct {
	dbPath string
	runID  string
	limit  int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored runs, or print one run's full report with --id",
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyFlags.dbPath, "db", store.DefaultDBPath, "Run history DB path")
	f.StringVar(&historyFlags.runID, "id", "", "Print the stored JSON report for this run ID")
	f.IntVar(&historyFlags.limit, "limit", 20, "Max runs to list")
}

func runHistory(_ *cobra.Command, _ []string) error {
	st, err := store.Open(historyFlags.dbPath)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer st.Close()

	if historyFlags.runID != "" {
		run, err := st.GetRun(historyFlags.runID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("no run with id %s", historyFlags.runID)
		}
		_, err = os.Stdout.Write(append(run.Report, '\n'))
		return err
	}

	runs, err := st.ListRuns(historyFlags.limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	tbl := format.NewTable(format.ASCII)
	tbl.Header("Run", "URL", "Fetched", "Perf", "Best Practices", "SEO")
	for _, run := range runs {
		tbl.Row(
			format.Truncate(run.ID, 8),
			format.Truncate(run.URL, 50),
			run.FetchTime,
			display.Score(run.Scores["performance"]),
			display.Score(run.Scores["best-practices"]),
			display.Score(run.Scores["seo"]),
		)
	}
	tbl.Columns(
		format.ColumnConfig{Number: 4, Align: format.AlignRight},
		format.ColumnConfig{Number: 5, Align: format.AlignRight},
		format.ColumnConfig{Number: 6, Align: format.AlignRight},
	)
	fmt.Println(tbl.String())
	return nil
}
