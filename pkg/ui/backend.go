package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/palaver/pkg/chatclient"
)

// Sender is the part of *tea.Program the surface needs.
type Sender interface {
	Send(msg tea.Msg)
}

type (
	directoryMsg       struct{ entries []chatclient.DirectoryEntry }
	headerMsg          struct{ title string }
	inputEnabledMsg    struct{ enabled bool }
	clearMessagesMsg   struct{}
	replaceMessagesMsg struct{ entries []chatclient.Entry }
	appendMessageMsg   struct{ entry chatclient.Entry }
	messageStatusMsg   struct {
		localID string
		status  chatclient.Status
	}
	clearInputMsg    struct{}
	showAuthEntryMsg struct{}
)

// ProgramSurface forwards controller renders into a bubbletea program as
// messages, so the model only changes on the program's own goroutine.
type ProgramSurface struct {
	sender Sender
}

var _ chatclient.Surface = &ProgramSurface{}

func NewProgramSurface(sender Sender) *ProgramSurface {
	return &ProgramSurface{sender: sender}
}

func (s *ProgramSurface) SetDirectory(entries []chatclient.DirectoryEntry) {
	s.sender.Send(directoryMsg{entries: append([]chatclient.DirectoryEntry(nil), entries...)})
}

func (s *ProgramSurface) SetHeader(title string) {
	s.sender.Send(headerMsg{title: title})
}

func (s *ProgramSurface) SetInputEnabled(enabled bool) {
	s.sender.Send(inputEnabledMsg{enabled: enabled})
}

func (s *ProgramSurface) ClearMessages() {
	s.sender.Send(clearMessagesMsg{})
}

func (s *ProgramSurface) ReplaceMessages(entries []chatclient.Entry) {
	s.sender.Send(replaceMessagesMsg{entries: append([]chatclient.Entry(nil), entries...)})
}

func (s *ProgramSurface) AppendMessage(entry chatclient.Entry) {
	s.sender.Send(appendMessageMsg{entry: entry})
}

func (s *ProgramSurface) UpdateMessageStatus(localID string, status chatclient.Status) {
	s.sender.Send(messageStatusMsg{localID: localID, status: status})
}

func (s *ProgramSurface) ClearInput() {
	s.sender.Send(clearInputMsg{})
}

func (s *ProgramSurface) ShowAuthEntry() {
	s.sender.Send(showAuthEntryMsg{})
}
