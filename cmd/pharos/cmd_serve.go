package main

import (
	"context"

	"github.com/spf13/cobra"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"pharos/internal/logging"
	mcpserver "pharos/internal/mcp"
	"pharos/internal/store"
)

var serveFlags struct {
	browserFlags
	dbPath string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout exposing run_audit, list_audits,
get_run, and list_runs as tools.

The server monitors for parent process death. When the client disconnects,
the server self-terminates to prevent zombie processes.`,
	RunE: runServe,
}

func init() {
	addBrowserFlags(serveCmd, &serveFlags.browserFlags)
	serveCmd.Flags().StringVar(&serveFlags.dbPath, "db", store.DefaultDBPath, "Run history DB path")
}

func runServe(cmd *cobra.Command, _ []string) error {
	srv := mcpserver.NewServer(mcpserver.Options{
		DBPath:     serveFlags.dbPath,
		ChromePath: serveFlags.chromePath,
		RemoteURL:  serveFlags.remoteURL,
		Headful:    serveFlags.headful,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	mcpserver.WatchStdin(ctx, cancel)

	logging.New("mcp").Info("starting pharos MCP server over stdio (parent watchdog active)")
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
