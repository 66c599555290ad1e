package tui

import "github.com/charmbracelet/lipgloss"

// All colors are defined here, GitHub Dark palette.
var (
	colorBgSurface = lipgloss.Color("#1c2128")

	colorText      = lipgloss.Color("#e6edf3")
	colorTextDim   = lipgloss.Color("#8b949e")
	colorTextMuted = lipgloss.Color("#484f58")

	colorBlue   = lipgloss.Color("#58a6ff")
	colorGreen  = lipgloss.Color("#3fb950")
	colorRed    = lipgloss.Color("#f85149")
	colorPurple = lipgloss.Color("#bc8cff")

	colorDivider = lipgloss.Color("#30363d")
)

// Header bar
var (
	headerBarStyle = lipgloss.NewStyle().
			Background(colorBgSurface).
			Foreground(colorText).
			Padding(0, 1)

	headerBrandStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorPurple)

	tabStyle = lipgloss.NewStyle().
			Foreground(colorTextDim).
			Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true).
			Underline(true).
			Padding(0, 1)
)

// Conversation
var (
	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue)

	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorPurple)

	timestampStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	userContentStyle = lipgloss.NewStyle().
				Foreground(colorText).
				PaddingLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	successStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// Panels
var (
	sectionTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorText).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorDivider)

	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorDivider)
)

// Footer
var (
	statusStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	hintKeyStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	hintDescStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)
)
