package ui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	colorRed     = lipgloss.Color("#FF5555")
	colorYellow  = lipgloss.Color("#F1FA8C")
	colorGreen   = lipgloss.Color("#50FA7B")
	colorCyan    = lipgloss.Color("#8BE9FD")
	colorMagenta = lipgloss.Color("#FF79C6")
	colorOrange  = lipgloss.Color("#FFB86C")
	colorWhite   = lipgloss.Color("#F8F8F2")
	colorGray    = lipgloss.Color("#6272A4")
	colorPanel   = lipgloss.Color("#44475A")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	valueStyle    = lipgloss.NewStyle().Foreground(colorWhite)
	warnStyle     = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle     = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(colorGreen)
	headerStyle   = lipgloss.NewStyle().Foreground(colorMagenta).Bold(true)
	selectedStyle = lipgloss.NewStyle().Background(colorPanel).Foreground(colorWhite)
	helpStyle     = lipgloss.NewStyle().Foreground(colorGray)
	dimStyle      = lipgloss.NewStyle().Foreground(colorGray)
	orangeStyle   = lipgloss.NewStyle().Foreground(colorOrange)
)

// burnColor grades a burn value in 0..1 against the governor bands.
func burnColor(burn float64) lipgloss.Style {
	switch {
	case burn >= 0.9:
		return critStyle
	case burn >= 0.7:
		return warnStyle
	default:
		return okStyle
	}
}

// levelColor grades a ladder level, 0 being normal operation.
func levelColor(level int) lipgloss.Style {
	switch {
	case level >= 3:
		return critStyle
	case level >= 1:
		return warnStyle
	default:
		return okStyle
	}
}

// healthColor grades a 0..100 health score.
func healthColor(score float64) lipgloss.Style {
	switch {
	case score < 50:
		return critStyle
	case score < 75:
		return warnStyle
	default:
		return okStyle
	}
}

// strengthColor grades a correlation strength bin.
func strengthColor(s string) lipgloss.Style {
	switch s {
	case "very_strong":
		return critStyle
	case "strong":
		return orangeStyle
	case "moderate":
		return warnStyle
	default:
		return dimStyle
	}
}

// errColor grades an error rate against the default SLO band.
func errColor(rate float64) lipgloss.Style {
	switch {
	case rate >= 0.05:
		return critStyle
	case rate >= 0.01:
		return warnStyle
	default:
		return okStyle
	}
}
