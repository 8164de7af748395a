package mcp

import (
	"context"
	"os"
	"time"

	"pharos/internal/logging"
)

// WatchStdin monitors for parent process death in a background goroutine.
// When the parent PID changes (the MCP client disconnected or restarted),
// it calls cancelFn to trigger graceful shutdown. This prevents zombie
// server processes from accumulating.
//
// IMPORTANT: This must NOT read from stdin — the MCP SDK's StdioTransport
// owns stdin exclusively. Reading from stdin here would steal bytes and corrupt
// the JSON-RPC protocol.
//
// The goroutine exits when ctx is canceled or parent death is detected.
func WatchStdin(ctx context.Context, cancelFn context.CancelFunc) {
	log := logging.New("mcp")
	ppid := os.Getppid()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
				if os.Getppid() != ppid {
					log.Warn("parent process died, shutting down", "was_pid", ppid)
					cancelFn()
					return
				}
			}
		}
	}()
}
