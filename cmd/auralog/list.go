package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calebh/auralog/internal/event"
	"github.com/calebh/auralog/internal/store"
	"github.com/calebh/auralog/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "events",
	Short:   "List recorded events",
	Long: `List events from the local store, newest first.

Reads the store directly; edits still sitting in the outbox appear once
the daemon has applied them.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := store.Open(cfg.DBPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open store: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		events, err := db.FetchAll(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list events: %v\n", err)
			os.Exit(1)
		}

		if len(events) == 0 {
			fmt.Println(ui.Faint("No events recorded."))
			return
		}
		if limit > 0 && len(events) > limit {
			events = events[:limit]
		}

		fmt.Println(ui.Header(fmt.Sprintf("%d event(s)", len(events))))
		for _, ev := range events {
			printEvent(ev)
		}
	},
}

func printEvent(ev *event.Event) {
	when := "unknown time"
	if ev.StartTime != nil {
		when = ev.StartTime.Local().Format("2006-01-02 15:04")
		if ev.EndTime != nil {
			when += " - " + ev.EndTime.Local().Format("15:04")
		}
	}

	var tags []string
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"aura", ev.Aura}, {"nausea", ev.Nausea}, {"vomiting", ev.Vomiting},
		{"photophobia", ev.Photophobia}, {"phonophobia", ev.Phonophobia},
		{"stress", ev.StressTrigger}, {"sleep", ev.SleepTrigger},
		{"weather", ev.WeatherTrigger}, {"medicated", ev.Medicated},
	} {
		if f.on {
			tags = append(tags, f.name)
		}
	}

	line := fmt.Sprintf("%s  %s  %s", when, ui.PainScale(ev.PainLevel), ev.Location)
	if len(tags) > 0 {
		line += "  " + ui.Faint(strings.Join(tags, ","))
	}
	fmt.Println(line)
	fmt.Println(ui.Faint("  id: " + ev.ID))
	if ev.Notes != "" {
		fmt.Println("  " + ev.Notes)
	}
}

func init() {
	listCmd.Flags().IntP("limit", "n", 0, "show at most n events (0 = all)")

	rootCmd.AddCommand(listCmd)
}
