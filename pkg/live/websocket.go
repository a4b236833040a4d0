package live

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/api"
)

// Endpoint resolves the websocket address for a partner and supplies the
// session cookies for the handshake. *api.Client implements it.
type Endpoint interface {
	LiveURL(partner api.ID) *url.URL
	Jar() http.CookieJar
}

type WebsocketDialer struct {
	endpoint Endpoint
	dialer   websocket.Dialer
	buffer   int
}

type WebsocketOption func(*WebsocketDialer)

func WithHandshakeTimeout(timeout time.Duration) WebsocketOption {
	return func(d *WebsocketDialer) {
		d.dialer.HandshakeTimeout = timeout
	}
}

func WithEventBuffer(n int) WebsocketOption {
	return func(d *WebsocketDialer) {
		if n > 0 {
			d.buffer = n
		}
	}
}

func NewWebsocketDialer(endpoint Endpoint, options ...WebsocketOption) *WebsocketDialer {
	d := &WebsocketDialer{
		endpoint: endpoint,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
			Jar:              endpoint.Jar(),
		},
		buffer: defaultBuffer,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

func (d *WebsocketDialer) Dial(ctx context.Context, partner api.ID) (Channel, error) {
	u := d.endpoint.LiveURL(partner)
	conn, _, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial live channel %s", u.Redacted())
	}
	log.Info().Str("component", "live").Str("partner", partner.String()).Str("url", u.Redacted()).Msg("live channel open")

	ch := &wsChannel{
		partner: partner,
		conn:    conn,
		events:  make(chan api.Message, d.buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go ch.readPump()
	return ch, nil
}

type wsChannel struct {
	partner   api.ID
	conn      *websocket.Conn
	events    chan api.Message
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func (c *wsChannel) Partner() api.ID            { return c.partner }
func (c *wsChannel) Events() <-chan api.Message { return c.events }

func (c *wsChannel) readPump() {
	logger := log.With().Str("component", "live").Str("partner", c.partner.String()).Logger()
	defer func() {
		close(c.events)
		_ = c.conn.Close()
		close(c.stopped)
		logger.Info().Msg("live channel closed")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn().Err(err).Msg("live channel read failed")
				} else {
					logger.Debug().Err(err).Msg("live channel ended by peer")
				}
			}
			return
		}
		msg, err := ParseEvent(data)
		if err != nil {
			logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping live frame")
			continue
		}
		select {
		case c.events <- msg:
		case <-c.done:
			return
		}
	}
}

// Close sends a close frame, drops the connection and waits for the read pump.
func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		// the read pump may already have closed the connection
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	<-c.stopped
	return err
}
