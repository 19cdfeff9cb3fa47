// Package ui holds the terminal styling used by the CLI.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Pass renders success output in green.
func Pass(s string) string { return passStyle.Render(s) }

// Warn renders cautionary output in yellow.
func Warn(s string) string { return warnStyle.Render(s) }

// Error renders failure output in bold red.
func Error(s string) string { return errorStyle.Render(s) }

// Accent renders identifiers and highlighted values in cyan.
func Accent(s string) string { return accentStyle.Render(s) }

// Faint renders secondary detail dimmed.
func Faint(s string) string { return faintStyle.Render(s) }

// Header renders a section heading.
func Header(s string) string { return headerStyle.Render(s) }

// PainScale renders a pain level with severity coloring.
func PainScale(level int) string {
	switch {
	case level >= 7:
		return Error(painBar(level))
	case level >= 4:
		return Warn(painBar(level))
	default:
		return Pass(painBar(level))
	}
}

func painBar(level int) string {
	bar := make([]byte, 0, 10)
	for i := 0; i < 10; i++ {
		if i < level {
			bar = append(bar, '#')
		} else {
			bar = append(bar, '-')
		}
	}
	return string(bar)
}
