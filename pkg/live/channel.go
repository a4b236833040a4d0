// Package live implements the push channel that delivers messages for one
// conversation partner while it is selected.
//
// Two transports are provided: the service's websocket endpoint, and a
// watermill subscriber (Redis Streams in production) for deployments that fan
// messages out through a broker. Both are receive-only.
package live

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/palaver/pkg/api"
)

const defaultBuffer = 64

var ErrMalformedEvent = errors.New("malformed live event")

// Channel is an open live channel scoped to one partner.
// Events is closed once the channel ends, whichever side ended it.
type Channel interface {
	Partner() api.ID
	Events() <-chan api.Message
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, partner api.ID) (Channel, error)
}

// ParseEvent decodes one pushed frame.
func ParseEvent(data []byte) (api.Message, error) {
	var msg api.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return api.Message{}, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if msg.SenderID.IsZero() {
		return api.Message{}, errors.Wrap(ErrMalformedEvent, "missing sender_id")
	}
	return msg, nil
}
