package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calebh/auralog/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon",
	Long: `Run the sync daemon for this device.

The daemon:
  1. Runs the one-time legacy import if configured and not yet done
  2. Opens the event store and tombstone registry
  3. Connects to the paired device over WebSocket
  4. Watches the outbox for edits queued by the other commands
  5. Writes status.json for "auralog status"

Pairing is configured in config.yaml (or AURALOG_* environment):

  role: primary          # or companion
  listen_addr: 127.0.0.1:7390
  peer_url: ws://192.168.1.20:7390/ws

The daemon runs until interrupted and shuts down cleanly on SIGINT or
SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := daemon.Run(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: daemon failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
