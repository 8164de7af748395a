package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pharos/internal/artifacts"
	"pharos/internal/config"
	"pharos/internal/logging"
	"pharos/internal/wiring"
)

var gatherFlags struct {
	browserFlags
	configPath string
	output     string
}

var gatherCmd = &cobra.Command{
	Use:   "gather <url>",
	Short: "Run the gather passes and save the artifacts without auditing",
	Long: `Gather drives the browser through the configured passes and writes the
raw artifact set to disk. Audit the saved set later with 'pharos audit',
no browser needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runGather,
}

func init() {
	addBrowserFlags(gatherCmd, &gatherFlags.browserFlags)
	f := gatherCmd.Flags()
	f.StringVarP(&gatherFlags.configPath, "config", "c", "", "Run config file (YAML/JSON; default: built-in)")
	f.StringVarP(&gatherFlags.output, "output", "o", "artifacts.json", "Artifact set output path")
}

func runGather(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(gatherFlags.configPath)
	if err != nil {
		return err
	}
	gr, ar := wiring.Registries()
	plan, err := wiring.Resolve(cfg, gr, ar)
	if err != nil {
		return err
	}

	log := logging.New("cli")
	log.Info("gathering", "url", args[0])
	set, err := wiring.Gather(cmd.Context(), gatherFlags.connection(), plan, args[0])
	if err != nil {
		return err
	}
	if err := artifacts.Save(set, gatherFlags.output); err != nil {
		return err
	}
	fmt.Printf("Artifacts: %s\n", gatherFlags.output)
	return nil
}
