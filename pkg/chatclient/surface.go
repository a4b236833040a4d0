package chatclient

import (
	"context"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/journal"
)

type Status string

const (
	// StatusDelivered marks messages that came from the server.
	StatusDelivered Status = ""
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
)

// Entry is one rendered message row.
type Entry struct {
	// LocalID is set for locally authored echoes only.
	LocalID     string
	SenderID    api.ID
	RecipientID api.ID
	Content     string
	Mine        bool
	Status      Status
}

type DirectoryEntry struct {
	ID     api.ID
	Label  string
	Self   bool
	Active bool
}

type AuthService interface {
	ListUsers(ctx context.Context) ([]api.User, error)
	Logout(ctx context.Context) error
}

type MessageStore interface {
	History(ctx context.Context, partner api.ID) ([]api.Message, error)
	Send(ctx context.Context, msg api.OutboundMessage) error
}

// Surface is what the controller renders into. Calls are made while the
// controller holds its lock, so implementations must not call back into the
// controller synchronously.
type Surface interface {
	SetDirectory(entries []DirectoryEntry)
	// SetHeader shows the conversation title; an empty title means no conversation.
	SetHeader(title string)
	SetInputEnabled(enabled bool)
	ClearMessages()
	ReplaceMessages(entries []Entry)
	AppendMessage(entry Entry)
	UpdateMessageStatus(localID string, status Status)
	ClearInput()
	ShowAuthEntry()
}

type Recorder interface {
	Record(ctx context.Context, ev journal.Event) error
}
