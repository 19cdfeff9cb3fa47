// auralog is a two-device migraine event log with peer sync.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calebh/auralog/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "auralog",
	Short: "Migraine event log with two-device sync",
	Long: `auralog keeps a personal migraine event log on this device and
synchronizes it with one paired companion device.

All state lives in a single data directory (default ~/.auralog,
override with --data-dir or AURALOG_DATA_DIR):

  events.db        the event store
  tombstones.jsonl deletion registry
  config.yaml      role, peer address, intervals
  outbox/          queued edits picked up by the daemon
  status.json      daemon status snapshot

Run "auralog daemon" on both devices to sync. The other commands queue
edits through the outbox, so they work whether or not the daemon is up.`,
	SilenceUsage: true,
}

var dataDirFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (default ~/.auralog)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "events", Title: "Event commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
	)
}

// loadConfig resolves the data directory flag and loads configuration.
func loadConfig() *config.Config {
	cfg, err := config.Load(dataDirFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
