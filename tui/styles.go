package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("39")
	colorSuccess = lipgloss.Color("42")
	colorError   = lipgloss.Color("196")
	colorDim     = lipgloss.Color("241")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	toolStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Italic(true)

	toolOkStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	toolErrStyle = lipgloss.NewStyle().
			Foreground(colorError)

	promptBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("237")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)
)
