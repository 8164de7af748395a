package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"pharos/internal/driver"
	"pharos/internal/format"
	"pharos/internal/runner"
)

// browserFlags are shared by every command that launches a browser.
type browserFlags struct {
	chromePath string
	remoteURL  string
	headful    bool
}

func addBrowserFlags(cmd *cobra.Command, bf *browserFlags) {
	f := cmd.Flags()
	f.StringVar(&bf.chromePath, "chrome-path", "", "Chrome/Chromium binary to launch (default: discovered)")
	f.StringVar(&bf.remoteURL, "remote", "", "Attach to a running browser's DevTools endpoint instead of launching")
	f.BoolVar(&bf.headful, "headful", false, "Show the browser window")
}

func (bf *browserFlags) connection() driver.Connection {
	var opts []driver.ChromeOption
	if bf.chromePath != "" {
		opts = append(opts, driver.WithChromePath(bf.chromePath))
	}
	if bf.remoteURL != "" {
		opts = append(opts, driver.WithRemoteURL(bf.remoteURL))
	}
	if bf.headful {
		opts = append(opts, driver.WithHeadful())
	}
	return driver.NewChrome(opts...)
}

// writeOutput writes data to path, or stdout when path is "-" or empty.
func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// printSummary renders the per-category and per-audit result tables.
func printSummary(w io.Writer, res *runner.Result) {
	fmt.Fprintf(w, "\n%s\n", res.FinalURL)
	fmt.Fprintln(w, format.CategoryTable(format.ASCII, res.Categories))
	fmt.Fprintln(w, format.AuditTable(format.ASCII, res.Audits))

	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}
