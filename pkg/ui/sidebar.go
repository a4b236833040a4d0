package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/palaver/pkg/chatclient"
)

// SidebarModel is the user directory with a cursor.
type SidebarModel struct {
	width   int
	height  int
	focused bool
	cursor  int
	entries []chatclient.DirectoryEntry
}

func NewSidebarModel() SidebarModel {
	return SidebarModel{width: 24}
}

func (m *SidebarModel) SetSize(width, height int) {
	if width > 0 {
		m.width = width
	}
	m.height = height
}

func (m *SidebarModel) SetFocused(focused bool) { m.focused = focused }

// SetEntries keeps the cursor on the same user when the directory is refreshed.
func (m *SidebarModel) SetEntries(entries []chatclient.DirectoryEntry) {
	var current chatclient.DirectoryEntry
	hadCurrent := m.cursor < len(m.entries)
	if hadCurrent {
		current = m.entries[m.cursor]
	}
	m.entries = entries
	m.cursor = 0
	if !hadCurrent {
		return
	}
	for i, e := range entries {
		if e.ID == current.ID {
			m.cursor = i
			return
		}
	}
}

// Selected returns the entry under the cursor.
func (m SidebarModel) Selected() (chatclient.DirectoryEntry, bool) {
	if m.cursor < 0 || m.cursor >= len(m.entries) {
		return chatclient.DirectoryEntry{}, false
	}
	return m.entries[m.cursor], true
}

func (m SidebarModel) Update(msg tea.Msg) (SidebarModel, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok || len(m.entries) == 0 {
		return m, nil
	}
	switch k.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = len(m.entries) - 1
	}
	return m, nil
}

func (m SidebarModel) View() string {
	title := subHeaderStyle.Render("Users")
	if len(m.entries) == 0 {
		return sidebarStyle.Width(m.width).Height(m.height).Render(title + "\n" + dimStyle.Render("loading…"))
	}
	var b strings.Builder
	b.WriteString(title)
	for i, e := range m.entries {
		b.WriteString("\n")
		line := e.Label
		if e.Self {
			line = "★ " + line
		}
		style := entryStyle
		if e.Active {
			style = activeEntryStyle
		}
		if m.focused && i == m.cursor {
			line = "> " + line
		} else {
			line = "  " + line
		}
		b.WriteString(style.Render(line))
	}
	return sidebarStyle.Width(m.width).Height(m.height).Render(b.String())
}
