package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calebh/auralog/internal/importer"
	"github.com/calebh/auralog/internal/store"
	"github.com/calebh/auralog/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "events",
	Short:   "Import a pre-sync legacy export",
	Long: `Import a legacy JSONL export into the event store, once.

Records without an id are assigned one. The import writes a completion
marker so it never runs twice; the daemon refuses to start sync while
an import is configured but incomplete.

Stop the daemon before importing so the two do not open the store at
the same time.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		db, err := store.Open(cfg.DBPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open store: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		res, err := importer.Run(context.Background(), db, importer.Options{
			FromJSONL:  args[0],
			MarkerPath: cfg.ImportMarkerPath(),
			DryRun:     dryRun,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: import failed: %v\n", err)
			os.Exit(1)
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s\n", ui.Pass(verb), fmt.Sprintf("%d event(s), %d assigned new ids", res.Imported, res.AssignedIDs))
		if res.Skipped > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("Skipped %d invalid record(s):", res.Skipped)))
			for _, e := range res.Errors {
				fmt.Println(ui.Faint("  " + e))
			}
		}
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "parse and validate without writing")

	rootCmd.AddCommand(importCmd)
}
