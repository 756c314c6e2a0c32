package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	Accent = lipgloss.Color("#22d3ee")
	Violet = lipgloss.Color("#7C3AED")
	Good   = lipgloss.Color("#10B981")
	Warn   = lipgloss.Color("#F59E0B")
	Bad    = lipgloss.Color("#EF4444")
	Dim    = lipgloss.Color("#6B7280")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Accent).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 2).
			MarginBottom(1)

	FooterStyle = lipgloss.NewStyle().Foreground(Dim).MarginTop(1)

	// ChatBoxStyle frames the last chat lines.
	ChatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Accent).
			Padding(0, 1)

	// BadgeStyle marks a media flag that is on, like a muted microphone.
	BadgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#111827")).
			Background(Warn).
			Padding(0, 1)

	ChatNameStyle = lipgloss.NewStyle().Foreground(Violet).Bold(true)
	ClockStyle    = lipgloss.NewStyle().Bold(true)
	DimStyle      = lipgloss.NewStyle().Foreground(Dim)
	WarnStyle     = lipgloss.NewStyle().Foreground(Warn)
	ErrorStyle    = lipgloss.NewStyle().Foreground(Bad).Bold(true)
	SuccessStyle  = lipgloss.NewStyle().Foreground(Good).Bold(true)
	SpinnerStyle  = lipgloss.NewStyle().Foreground(Accent)
)

// Tables alternate row shades under a centered header.
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Accent).
				Align(lipgloss.Center)

	TableRowStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("255"))
	TableRowAltStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
)

const (
	IconSuccess  = "✅"
	IconError    = "❌"
	IconInfo     = "ℹ️"
	IconRoom     = "🚪"
	IconPeer     = "👤"
	IconTime     = "⏱️"
	IconChat     = "💬"
	IconBoard    = "🖍️"
	IconScreen   = "🖥️"
	IconMuted    = "🔇"
	IconVideoOff = "🚫"
)

func PrintError(msg string) {
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintSuccessf(format string, args ...any) {
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), fmt.Sprintf(format, args...))
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, DimStyle.Render(msg))
}
