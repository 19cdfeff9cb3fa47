package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calebh/auralog/internal/daemon"
	"github.com/calebh/auralog/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Request a full sync with the paired device",
	Long: `Ask the daemon to pull the paired device's complete state.

A full sync merges every event and every recorded deletion from the
peer, so it also serves as the manual retry after an error state. The
request is queued through the outbox; the daemon picks it up within its
debounce interval.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		if err := daemon.WriteFullSyncRequest(cfg.OutboxDir()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to queue sync request: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(ui.Pass("Full sync requested"))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
