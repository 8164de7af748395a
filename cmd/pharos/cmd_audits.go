package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pharos/internal/display"
	"pharos/internal/format"
	"pharos/internal/wiring"
)

var auditsFlags struct {
	markdown bool
}

var auditsCmd = &cobra.Command{
	Use:   "audits",
	Short: "List the registered audits and gatherers",
	RunE:  runAudits,
}

func init() {
	auditsCmd.Flags().BoolVar(&auditsFlags.markdown, "markdown", false, "Render the catalog as a Markdown table")
}

func runAudits(_ *cobra.Command, _ []string) error {
	gr, ar := wiring.Registries()

	mode := format.ASCII
	if auditsFlags.markdown {
		mode = format.Markdown
	}
	tbl := format.NewTable(mode)
	tbl.Header("Audit", "Mode", "Requires")
	for _, m := range ar.Metas() {
		tbl.Row(m.ID, display.Mode(string(m.ScoreDisplayMode)), strings.Join(m.RequiredArtifacts, ", "))
	}
	tbl.Columns(format.ColumnConfig{Number: 3, MaxWidth: 50})
	fmt.Println(tbl.String())

	fmt.Printf("Gatherers: %s\n", strings.Join(gr.Names(), ", "))
	return nil
}
