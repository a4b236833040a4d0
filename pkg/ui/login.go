package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// LoginModel is the email/password form shown when there is no session.
type LoginModel struct {
	email    textinput.Model
	password textinput.Model
	field    int
	err      string
	busy     bool
}

func NewLoginModel() LoginModel {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.Prompt = "Email:    "
	email.CharLimit = 254

	password := textinput.New()
	password.Placeholder = "password"
	password.Prompt = "Password: "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	return LoginModel{email: email, password: password}
}

func (m *LoginModel) Focus() tea.Cmd {
	m.field = 0
	m.password.Blur()
	return m.email.Focus()
}

func (m *LoginModel) Reset(err string) tea.Cmd {
	m.password.Reset()
	m.err = err
	m.busy = false
	return m.Focus()
}

func (m *LoginModel) SetError(err string) {
	m.err = err
	m.busy = false
}

func (m LoginModel) Values() (string, string) {
	return strings.TrimSpace(m.email.Value()), m.password.Value()
}

// Update returns submit=true when the form is complete and enter was pressed
// on the password field.
func (m LoginModel) Update(msg tea.Msg) (LoginModel, tea.Cmd, bool) {
	if m.busy {
		return m, nil, false
	}
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "tab", "shift+tab", "up", "down":
			return m, m.toggle(), false
		case "enter":
			email, password := m.Values()
			if m.field == 0 {
				return m, m.toggle(), false
			}
			if email == "" || password == "" {
				m.err = "email and password are required"
				return m, nil, false
			}
			m.err = ""
			m.busy = true
			return m, nil, true
		}
	}

	var cmd tea.Cmd
	if m.field == 0 {
		m.email, cmd = m.email.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd, false
}

func (m *LoginModel) toggle() tea.Cmd {
	if m.field == 0 {
		m.field = 1
		m.email.Blur()
		return m.password.Focus()
	}
	m.field = 0
	m.password.Blur()
	return m.email.Focus()
}

func (m LoginModel) View() string {
	lines := []string{
		headerStyle.Render("Log in"),
		"",
		m.email.View(),
		m.password.View(),
		"",
	}
	switch {
	case m.busy:
		lines = append(lines, dimStyle.Render("logging in…"))
	case m.err != "":
		lines = append(lines, errorStyle.Render(m.err))
	default:
		lines = append(lines, dimStyle.Render("tab switch field · enter submit · ctrl+c quit"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
