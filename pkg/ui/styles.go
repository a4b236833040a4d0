package ui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subHeaderStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mineStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("118"))
	otherStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	entryStyle       = lipgloss.NewStyle()
	activeEntryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	sidebarStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderRight(true).BorderForeground(lipgloss.Color("63")).PaddingRight(1)
)
