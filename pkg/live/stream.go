package live

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/api"
)

// StreamDialer opens live channels as subscriptions on a watermill
// subscriber, one topic per partner.
type StreamDialer struct {
	subscriber message.Subscriber
	topic      func(partner api.ID) string
	buffer     int
}

// NewStreamDialer subscribes to topic(partner) for every Dial.
func NewStreamDialer(subscriber message.Subscriber, topic func(partner api.ID) string) *StreamDialer {
	return &StreamDialer{subscriber: subscriber, topic: topic, buffer: defaultBuffer}
}

func (d *StreamDialer) Dial(ctx context.Context, partner api.ID) (Channel, error) {
	topic := d.topic(partner)
	// The subscription outlives the dial context; Close cancels it.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := d.subscriber.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "subscribe to %s", topic)
	}
	log.Info().Str("component", "live").Str("partner", partner.String()).Str("topic", topic).Msg("live channel open")

	ch := &streamChannel{
		partner: partner,
		topic:   topic,
		cancel:  cancel,
		events:  make(chan api.Message, d.buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go ch.pump(msgs)
	return ch, nil
}

type streamChannel struct {
	partner   api.ID
	topic     string
	cancel    context.CancelFunc
	events    chan api.Message
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func (c *streamChannel) Partner() api.ID            { return c.partner }
func (c *streamChannel) Events() <-chan api.Message { return c.events }

func (c *streamChannel) pump(msgs <-chan *message.Message) {
	logger := log.With().Str("component", "live").Str("partner", c.partner.String()).Str("topic", c.topic).Logger()
	defer func() {
		close(c.events)
		close(c.stopped)
		logger.Info().Msg("live channel closed")
	}()

	for {
		select {
		case <-c.done:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			msg, err := ParseEvent(m.Payload)
			// ack malformed payloads too so they are not redelivered
			m.Ack()
			if err != nil {
				logger.Warn().Err(err).Str("uuid", m.UUID).Msg("dropping live message")
				continue
			}
			select {
			case c.events <- msg:
			case <-c.done:
				return
			}
		}
	}
}

func (c *streamChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
	<-c.stopped
	return nil
}
