package api

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// ID is an opaque, stable identifier for users.
//
// The chat service hands out integer ids, but nothing on the client depends on
// that: ids decode from either JSON numbers or strings and are compared as text.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.Wrap(err, "decode id")
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrapf(err, "decode id %s", string(b))
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits canonical integers as JSON numbers so the server sees the
// same type it issued; anything else is sent as a string.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isCanonicalInt() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) isCanonicalInt() bool {
	s := string(id)
	if s == "" || len(s) > 18 {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// User is a directory entry as returned by GET /auth/users.
type User struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Message is a stored or pushed chat message.
//
// History responses only guarantee sender_id and content; pushed frames also
// carry recipient_id. ID and CreatedAt are kept as the server sent them.
// CreatedAt is not parsed since the server may omit the zone.
type Message struct {
	ID          ID     `json:"id,omitempty"`
	SenderID    ID     `json:"sender_id"`
	RecipientID ID     `json:"recipient_id,omitempty"`
	Content     string `json:"content"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Involves reports whether the message was sent by or addressed to id.
func (m Message) Involves(id ID) bool {
	return m.SenderID == id || m.RecipientID == id
}

// OutboundMessage is the body of POST /chat/messages.
type OutboundMessage struct {
	RecipientID ID     `json:"recipient_id"`
	Content     string `json:"content"`
}

// Identity is the operator the client acts as.
type Identity struct {
	ID   ID
	Name string
}
