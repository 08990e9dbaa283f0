package console

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGreen  = lipgloss.Color("#5FD75F")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorGray   = lipgloss.Color("#808080")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	labelStyle = lipgloss.NewStyle().
			Bold(true)

	phaseStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	failedStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(colorGreen)

	hintStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	resultStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorGray)
)
