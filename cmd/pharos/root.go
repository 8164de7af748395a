package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"pharos/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	verbose   bool
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "pharos",
	Short: "Automated web page auditing over the DevTools protocol",
	Long: "Pharos drives a browser through configured passes, collects network\n" +
		"and trace artifacts, and scores the page against its audit catalog.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(*cobra.Command, []string) {
		level := slog.LevelInfo
		if rootFlags.verbose {
			level = slog.LevelDebug
		}
		logging.Init(level, rootFlags.logFormat)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(gatherCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(auditsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
