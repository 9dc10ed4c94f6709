package tui

import (
	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	TextPrimary lipgloss.AdaptiveColor
	TextMuted   lipgloss.AdaptiveColor
	Accent      lipgloss.AdaptiveColor
	Success     lipgloss.AdaptiveColor
	Warn        lipgloss.AdaptiveColor
	Error       lipgloss.AdaptiveColor
	Border      lipgloss.AdaptiveColor

	RoleYou  lipgloss.Style
	RoleAI   lipgloss.Style
	RoleTool lipgloss.Style
	RoleErr  lipgloss.Style
	Thinking lipgloss.Style
	Muted    lipgloss.Style
	Footer   lipgloss.Style
	InputBox lipgloss.Style
	Overlay  lipgloss.Style
	Selected lipgloss.Style
}

func NewTheme() Theme {
	t := Theme{
		TextPrimary: lipgloss.AdaptiveColor{Light: "#1F2328", Dark: "#E6E6E6"},
		TextMuted:   lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#8B949E"},
		Accent:      lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#B794F6"},
		Success:     lipgloss.AdaptiveColor{Light: "#15803D", Dark: "#4ADE80"},
		Warn:        lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"},
		Error:       lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"},
		Border:      lipgloss.AdaptiveColor{Light: "#D1D5DB", Dark: "#3B4048"},
	}
	t.RoleYou = lipgloss.NewStyle().Bold(true).Foreground(t.Success)
	t.RoleAI = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.RoleTool = lipgloss.NewStyle().Bold(true).Foreground(t.Warn)
	t.RoleErr = lipgloss.NewStyle().Bold(true).Foreground(t.Error)
	t.Thinking = lipgloss.NewStyle().Italic(true).Foreground(t.TextMuted)
	t.Muted = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.Footer = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.InputBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border).
		Padding(0, 1)
	t.Overlay = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Accent).
		Padding(0, 1)
	t.Selected = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	return t
}
