package browser

import "github.com/charmbracelet/lipgloss"

// Styles groups the lipgloss styles of one theme.
type Styles struct {
	Title     lipgloss.Style
	Selected  lipgloss.Style
	Dim       lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Error     lipgloss.Style
	Success   lipgloss.Style
	FooterKey lipgloss.Style
	Footer    lipgloss.Style
	Divider   lipgloss.Style
	BarFill   lipgloss.Style
	BarEmpty  lipgloss.Style
}

// NewStyles returns the palette for "light" or "dark"; anything else is light.
func NewStyles(theme string) Styles {
	accent := lipgloss.Color("#005F87")
	muted := lipgloss.Color("#6C6C6C")
	user := lipgloss.Color("#005F00")
	assistant := lipgloss.Color("#5F00AF")
	if theme == "dark" {
		accent = lipgloss.Color("#00FFFF")
		muted = lipgloss.Color("#808080")
		user = lipgloss.Color("#87FF87")
		assistant = lipgloss.Color("#D7AFFF")
	}

	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(accent),
		Selected:  lipgloss.NewStyle().Bold(true).Foreground(accent),
		Dim:       lipgloss.NewStyle().Foreground(muted),
		User:      lipgloss.NewStyle().Bold(true).Foreground(user),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(assistant),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#D70000")),
		Success:   lipgloss.NewStyle().Foreground(user),
		FooterKey: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#D7AF00")),
		Footer:    lipgloss.NewStyle().Foreground(muted),
		Divider:   lipgloss.NewStyle().Foreground(muted),
		BarFill:   lipgloss.NewStyle().Foreground(accent),
		BarEmpty:  lipgloss.NewStyle().Foreground(muted),
	}
}
