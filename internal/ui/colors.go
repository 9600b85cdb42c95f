// Package ui holds the terminal color palette and styles used for console
// output: block headers, status lines, and the execution summary.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Color palette using ANSI color codes for terminal compatibility.

// Semantic colors for status indication
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorAccent    lipgloss.Color = "5" // Magenta
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// Styles shared across the renderer.
var (
	Success = lipgloss.NewStyle().Foreground(ColorSuccess)
	Failure = lipgloss.NewStyle().Foreground(ColorError)
	Warning = lipgloss.NewStyle().Foreground(ColorWarning)
	Info    = lipgloss.NewStyle().Foreground(ColorInfo)
	Detail  = lipgloss.NewStyle().Foreground(ColorSecondary)
	Accent  = lipgloss.NewStyle().Foreground(ColorAccent)
	Muted   = lipgloss.NewStyle().Foreground(ColorMuted)
	Header  = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	Banner  = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
)

// ColorsEnabled reports whether colored output should be used. Color is
// disabled when stdout is not a terminal or the terminal reports no color
// support (e.g. TERM=dumb, NO_COLOR set).
func ColorsEnabled() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

// DisableIfPiped turns off lipgloss color rendering when stdout is piped.
// Called once at startup by the CLI.
func DisableIfPiped() {
	if !ColorsEnabled() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}
