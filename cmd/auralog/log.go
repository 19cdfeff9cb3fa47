package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/calebh/auralog/internal/daemon"
	"github.com/calebh/auralog/internal/event"
	"github.com/calebh/auralog/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "events",
	Short:   "Record a migraine event",
	Long: `Record a migraine event and queue it for sync.

The event is written to the outbox; the daemon applies it to the store
and announces it to the paired device. Times accept natural language
through --when / --until ("yesterday 9pm", "2 hours ago").

Examples:
  auralog log --pain 7 --location left --aura --nausea
  auralog log --pain 4 --when "this morning" --until "noon" --medicated
  auralog log -i                  # interactive form`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		ev := &event.Event{ID: event.NewID()}

		interactive, _ := cmd.Flags().GetBool("interactive")
		if interactive {
			if err := runLogForm(ev); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		} else {
			ev.PainLevel, _ = cmd.Flags().GetInt("pain")
			ev.Location, _ = cmd.Flags().GetString("location")
			ev.Notes, _ = cmd.Flags().GetString("notes")
			ev.Aura, _ = cmd.Flags().GetBool("aura")
			ev.Nausea, _ = cmd.Flags().GetBool("nausea")
			ev.Vomiting, _ = cmd.Flags().GetBool("vomiting")
			ev.Photophobia, _ = cmd.Flags().GetBool("photophobia")
			ev.Phonophobia, _ = cmd.Flags().GetBool("phonophobia")
			ev.StressTrigger, _ = cmd.Flags().GetBool("stress")
			ev.SleepTrigger, _ = cmd.Flags().GetBool("sleep")
			ev.WeatherTrigger, _ = cmd.Flags().GetBool("weather")
			ev.Medicated, _ = cmd.Flags().GetBool("medicated")

			whenText, _ := cmd.Flags().GetString("when")
			untilText, _ := cmd.Flags().GetString("until")
			if whenText != "" {
				at, err := parseWhen(whenText)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				ev.StartTime = &at
			}
			if untilText != "" {
				at, err := parseWhen(untilText)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				ev.EndTime = &at
			}
		}

		if err := ev.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid event: %v\n", err)
			os.Exit(1)
		}

		if err := daemon.WriteEvent(cfg.OutboxDir(), ev); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to queue event: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s %s  pain %s\n", ui.Pass("Logged"), ui.Accent(ev.ID), ui.PainScale(ev.PainLevel))
	},
}

// parseWhen turns natural language into a timestamp.
func parseWhen(text string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", text)
	}
	return r.Time, nil
}

// runLogForm collects the event interactively.
func runLogForm(ev *event.Event) error {
	painOpts := make([]huh.Option[int], 0, 11)
	for i := 0; i <= 10; i++ {
		painOpts = append(painOpts, huh.NewOption(fmt.Sprintf("%d", i), i))
	}

	var symptoms, triggers []string
	var medicated bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Pain level").
				Options(painOpts...).
				Value(&ev.PainLevel),
			huh.NewSelect[string]().
				Title("Location").
				Options(huh.NewOptions(event.Locations...)...).
				Value(&ev.Location),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Symptoms").
				Options(
					huh.NewOption("Aura", "aura"),
					huh.NewOption("Nausea", "nausea"),
					huh.NewOption("Vomiting", "vomiting"),
					huh.NewOption("Light sensitivity", "photophobia"),
					huh.NewOption("Sound sensitivity", "phonophobia"),
				).
				Value(&symptoms),
			huh.NewMultiSelect[string]().
				Title("Triggers").
				Options(
					huh.NewOption("Stress", "stress"),
					huh.NewOption("Poor sleep", "sleep"),
					huh.NewOption("Weather", "weather"),
				).
				Value(&triggers),
			huh.NewConfirm().
				Title("Took medication?").
				Value(&medicated),
		),
		huh.NewGroup(
			huh.NewText().
				Title("Notes").
				Value(&ev.Notes),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("form aborted: %w", err)
	}

	for _, s := range symptoms {
		switch s {
		case "aura":
			ev.Aura = true
		case "nausea":
			ev.Nausea = true
		case "vomiting":
			ev.Vomiting = true
		case "photophobia":
			ev.Photophobia = true
		case "phonophobia":
			ev.Phonophobia = true
		}
	}
	for _, tr := range triggers {
		switch tr {
		case "stress":
			ev.StressTrigger = true
		case "sleep":
			ev.SleepTrigger = true
		case "weather":
			ev.WeatherTrigger = true
		}
	}
	ev.Medicated = medicated
	return nil
}

func init() {
	logCmd.Flags().BoolP("interactive", "i", false, "fill in the event through a form")
	logCmd.Flags().Int("pain", 0, "pain level 0-10")
	logCmd.Flags().String("location", "", "head region (left, right, bilateral, ...)")
	logCmd.Flags().String("when", "", "start time, natural language")
	logCmd.Flags().String("until", "", "end time, natural language")
	logCmd.Flags().String("notes", "", "free-text notes")
	logCmd.Flags().Bool("aura", false, "aura present")
	logCmd.Flags().Bool("nausea", false, "nausea present")
	logCmd.Flags().Bool("vomiting", false, "vomiting present")
	logCmd.Flags().Bool("photophobia", false, "light sensitivity")
	logCmd.Flags().Bool("phonophobia", false, "sound sensitivity")
	logCmd.Flags().Bool("stress", false, "stress trigger")
	logCmd.Flags().Bool("sleep", false, "sleep trigger")
	logCmd.Flags().Bool("weather", false, "weather trigger")
	logCmd.Flags().Bool("medicated", false, "medication taken")

	rootCmd.AddCommand(logCmd)
}
