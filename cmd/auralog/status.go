package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/calebh/auralog/internal/daemon"
	"github.com/calebh/auralog/internal/syncer"
	"github.com/calebh/auralog/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	Long: `Show the daemon's sync status from its status snapshot.

States:
  notConfigured    no pairing link configured
  disabled         pairing exists but sync is off
  enabled          idle, everything acknowledged
  pendingChanges   local edits await acknowledgment
  syncing          a transfer or merge is in flight
  error            last operation failed ("auralog sync" to retry)`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		snap, err := daemon.ReadSnapshot(cfg.StatusPath())
		if err != nil {
			fmt.Println(ui.Warn("Daemon status unavailable (is the daemon running?)"))
			fmt.Println(ui.Faint(fmt.Sprintf("  %v", err)))
			os.Exit(1)
		}

		fmt.Printf("Sync:   %s\n", renderState(snap))
		if snap.LastSync != nil {
			fmt.Printf("Last:   %s %s\n",
				snap.LastSync.Local().Format("2006-01-02 15:04:05"),
				ui.Faint(fmt.Sprintf("(%s ago)", time.Since(*snap.LastSync).Round(time.Second))))
		} else {
			fmt.Printf("Last:   %s\n", ui.Faint("never"))
		}
		fmt.Printf("Events: %d\n", snap.EventCount)

		if age := time.Since(snap.WrittenAt); age > time.Minute {
			fmt.Println(ui.Warn(fmt.Sprintf("Snapshot is %s old; the daemon may be down.", age.Round(time.Second))))
		}
	},
}

func renderState(snap *daemon.Snapshot) string {
	text := snap.StatusText
	switch snap.Status.State {
	case syncer.StateEnabled:
		return ui.Pass(text)
	case syncer.StateError:
		return ui.Error(text)
	case syncer.StatePendingChanges, syncer.StateSyncing:
		return ui.Warn(text)
	default:
		return ui.Faint(text)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
