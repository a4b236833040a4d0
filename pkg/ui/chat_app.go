// Package ui is the terminal chat client: a directory sidebar, the open
// conversation and an input line, plus a login screen. Controller renders
// arrive as messages through ProgramSurface; operator actions run as commands
// against an Actions implementation.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/chatclient"
)

// Actions are the operator actions the model triggers. They run outside the
// bubbletea event loop.
type Actions interface {
	Start(ctx context.Context) error
	Login(ctx context.Context, email, password string) error
	Select(ctx context.Context, partner api.ID, label string) error
	Send(ctx context.Context, text string) error
	Logout(ctx context.Context) error
}

type screen int

const (
	screenLogin screen = iota
	screenChat
)

type focus int

const (
	focusDirectory focus = iota
	focusInput
)

const (
	actionStart  = "start"
	actionLogin  = "login"
	actionSelect = "select"
	actionSend   = "send"
	actionLogout = "logout"
)

type actionDoneMsg struct {
	action string
	err    error
}

const sidebarWidth = 24

type Model struct {
	ctx     context.Context
	actions Actions
	copyFn  func(string) error

	screen screen
	focus  focus
	width  int
	height int

	sidebar  SidebarModel
	viewport viewport.Model
	input    textinput.Model
	login    LoginModel

	header       string
	inputEnabled bool
	messages     []chatclient.Entry
	status       string
	statusErr    bool
}

type ModelOption func(*Model)

// WithClipboard replaces the system clipboard writer.
func WithClipboard(fn func(string) error) ModelOption {
	return func(m *Model) { m.copyFn = fn }
}

// NewModel starts on the chat screen when loggedIn is set and on the login
// screen otherwise.
func NewModel(ctx context.Context, actions Actions, loggedIn bool, options ...ModelOption) Model {
	input := textinput.New()
	input.Placeholder = "Type a message…"
	input.Prompt = "> "
	input.CharLimit = 4000

	m := Model{
		ctx:      ctx,
		actions:  actions,
		copyFn:   clipboard.WriteAll,
		sidebar:  NewSidebarModel(),
		viewport: viewport.New(56, 16),
		input:    input,
		login:    NewLoginModel(),
		width:    80,
		height:   24,
	}
	if loggedIn {
		m.screen = screenChat
	} else {
		m.login.Focus()
	}
	for _, opt := range options {
		opt(&m)
	}
	m.setFocus(focusDirectory)
	m.layout()
	return m
}

func (m Model) Init() tea.Cmd {
	if m.screen == screenChat {
		return m.run(actionStart, func(ctx context.Context) error { return m.actions.Start(ctx) })
	}
	return textinput.Blink
}

func (m Model) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = ev.Width, ev.Height
		m.layout()
		return m, nil

	case directoryMsg:
		m.sidebar.SetEntries(ev.entries)
		return m, nil
	case headerMsg:
		m.header = ev.title
		return m, nil
	case inputEnabledMsg:
		m.inputEnabled = ev.enabled
		if ev.enabled {
			focusCmd := m.setFocus(focusInput)
			return m, focusCmd
		}
		focusCmd := m.setFocus(focusDirectory)
		return m, focusCmd
	case clearMessagesMsg:
		m.messages = nil
		m.refreshMessages()
		return m, nil
	case replaceMessagesMsg:
		m.messages = ev.entries
		m.refreshMessages()
		return m, nil
	case appendMessageMsg:
		m.messages = append(m.messages, ev.entry)
		m.refreshMessages()
		return m, nil
	case messageStatusMsg:
		for i := range m.messages {
			if m.messages[i].LocalID == ev.localID {
				m.messages[i].Status = ev.status
			}
		}
		m.refreshMessages()
		return m, nil
	case clearInputMsg:
		m.input.Reset()
		return m, nil
	case showAuthEntryMsg:
		focusCmd := m.showLogin("")
		return m, focusCmd

	case actionDoneMsg:
		return m.handleActionDone(ev)

	case tea.KeyMsg:
		if ev.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.screen == screenLogin {
			return m.updateLogin(ev)
		}
		return m.updateChat(ev)
	}

	if m.screen == screenLogin {
		var cmd tea.Cmd
		m.login, cmd, _ = m.login.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleActionDone(ev actionDoneMsg) (tea.Model, tea.Cmd) {
	if ev.err == nil {
		switch ev.action {
		case actionLogin:
			m.screen = screenChat
			m.setStatus("logged in", false)
			focusCmd := m.setFocus(focusDirectory)
			return m, focusCmd
		case actionSend, actionSelect:
			m.setStatus("", false)
		}
		return m, nil
	}

	switch ev.action {
	case actionLogin:
		m.login.SetError(loginError(ev.err))
		return m, nil
	case actionStart:
		if errors.Is(ev.err, api.ErrUnauthorized) || errors.Is(ev.err, ErrNotLoggedIn) {
			focusCmd := m.showLogin("session expired, please log in again")
			return m, focusCmd
		}
	}
	m.setStatus(fmt.Sprintf("%s failed: %v", ev.action, ev.err), true)
	return m, nil
}

func loginError(err error) string {
	if errors.Is(err, api.ErrUnauthorized) {
		return "incorrect email or password"
	}
	return err.Error()
}

func (m *Model) showLogin(reason string) tea.Cmd {
	m.screen = screenLogin
	m.header = ""
	m.messages = nil
	m.inputEnabled = false
	m.input.Reset()
	m.sidebar.SetEntries(nil)
	m.refreshMessages()
	m.setStatus("", false)
	m.setFocus(focusDirectory)
	return m.login.Reset(reason)
}

func (m Model) updateLogin(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	var (
		cmd    tea.Cmd
		submit bool
	)
	m.login, cmd, submit = m.login.Update(k)
	if !submit {
		return m, cmd
	}
	email, password := m.login.Values()
	return m, m.run(actionLogin, func(ctx context.Context) error {
		return m.actions.Login(ctx, email, password)
	})
}

func (m Model) updateChat(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "tab":
		if m.focus == focusDirectory && m.inputEnabled {
			focusCmd := m.setFocus(focusInput)
			return m, focusCmd
		}
		focusCmd := m.setFocus(focusDirectory)
		return m, focusCmd
	case "ctrl+l":
		m.setStatus("logging out…", false)
		return m, m.run(actionLogout, func(ctx context.Context) error { return m.actions.Logout(ctx) })
	case "ctrl+y":
		m.copyLast()
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(k)
		return m, cmd
	case "enter":
		if m.focus == focusDirectory {
			entry, ok := m.sidebar.Selected()
			if !ok {
				return m, nil
			}
			return m, m.run(actionSelect, func(ctx context.Context) error {
				return m.actions.Select(ctx, entry.ID, entry.Label)
			})
		}
		if !m.inputEnabled {
			return m, nil
		}
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		// a second enter before the controller answers must not resend
		m.input.Reset()
		return m, m.run(actionSend, func(ctx context.Context) error { return m.actions.Send(ctx, text) })
	}

	var cmd tea.Cmd
	if m.focus == focusDirectory {
		m.sidebar, cmd = m.sidebar.Update(k)
		return m, cmd
	}
	m.input, cmd = m.input.Update(k)
	return m, cmd
}

func (m *Model) copyLast() {
	if len(m.messages) == 0 {
		m.setStatus("nothing to copy", true)
		return
	}
	last := m.messages[len(m.messages)-1].Content
	if err := m.copyFn(last); err != nil {
		m.setStatus("copy failed: "+err.Error(), true)
		return
	}
	m.setStatus("copied last message", false)
}

func (m *Model) setFocus(f focus) tea.Cmd {
	if f == focusInput && !m.inputEnabled {
		f = focusDirectory
	}
	m.focus = f
	m.sidebar.SetFocused(f == focusDirectory)
	if f == focusInput {
		return m.input.Focus()
	}
	m.input.Blur()
	return nil
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m *Model) layout() {
	// header, input, status and help lines
	bodyHeight := m.height - 5
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	m.sidebar.SetSize(sidebarWidth, bodyHeight)
	m.viewport.Width = max(m.width-sidebarWidth-3, 10)
	m.viewport.Height = bodyHeight
	m.input.Width = max(m.width-4, 10)
	m.refreshMessages()
}

func (m *Model) refreshMessages() {
	if len(m.messages) == 0 {
		if m.header == "" {
			m.viewport.SetContent(dimStyle.Render("Select a user to start chatting."))
		} else {
			m.viewport.SetContent(dimStyle.Render("No messages yet."))
		}
		return
	}
	lines := make([]string, 0, len(m.messages))
	for _, e := range m.messages {
		lines = append(lines, m.renderEntry(e))
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(lines, "\n")))
	m.viewport.GotoBottom()
}

func (m Model) renderEntry(e chatclient.Entry) string {
	var who string
	if e.Mine {
		who = mineStyle.Render("You")
	} else {
		who = otherStyle.Render(m.labelFor(e.SenderID))
	}
	line := who + ": " + e.Content
	switch e.Status {
	case chatclient.StatusPending:
		line += dimStyle.Render(" …")
	case chatclient.StatusFailed:
		line += errorStyle.Render(" ✗ not sent")
	}
	return line
}

func (m Model) labelFor(id api.ID) string {
	for _, e := range m.sidebar.entries {
		if e.ID == id && !e.Self {
			return e.Label
		}
	}
	return "User " + id.String()
}

func (m Model) View() string {
	if m.screen == screenLogin {
		return lipgloss.NewStyle().Padding(1, 2).Render(m.login.View())
	}

	header := dimStyle.Render("No conversation selected")
	if m.header != "" {
		header = headerStyle.Render(m.header)
	}
	header += dimStyle.Render("  ·  ctrl+l logout")

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.sidebar.View(), " ", m.viewport.View())

	input := dimStyle.Render("select a user and press enter to start chatting")
	if m.inputEnabled {
		input = m.input.View()
	}

	status := m.status
	if m.statusErr {
		status = errorStyle.Render(status)
	} else {
		status = dimStyle.Render(status)
	}
	help := dimStyle.Render("tab focus · ↑/↓ move · enter select/send · ctrl+y copy · ctrl+c quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, body, input, status, help)
}
