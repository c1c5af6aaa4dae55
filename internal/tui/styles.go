package tui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	accent = lipgloss.Color("#22d3ee")
	green  = lipgloss.Color("#10B981")
	amber  = lipgloss.Color("#F59E0B")
	red    = lipgloss.Color("#EF4444")
	muted  = lipgloss.Color("#6B7280")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	onStyle      = lipgloss.NewStyle().Bold(true).Foreground(green)
	offStyle     = lipgloss.NewStyle().Foreground(muted)
	pendingStyle = lipgloss.NewStyle().Foreground(amber)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(red)
	keyStyle     = lipgloss.NewStyle().Foreground(accent)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1)
)

func onOff(enabled bool, on, off string) string {
	if enabled {
		return onStyle.Render(on)
	}
	return offStyle.Render(off)
}

// PrintError writes a styled error line to stderr
func PrintError(msg string) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+msg)
}
