package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calebh/auralog/internal/daemon"
	"github.com/calebh/auralog/internal/ui"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "events",
	Short:   "Delete a migraine event",
	Long: `Delete an event by id and queue the deletion for sync.

The deletion is tombstoned on both devices, so a stale copy arriving
later from the paired device cannot resurrect it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		id := args[0]

		if err := daemon.WriteDeletion(cfg.OutboxDir(), id); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to queue deletion: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s %s\n", ui.Pass("Deleted"), ui.Accent(id))
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
