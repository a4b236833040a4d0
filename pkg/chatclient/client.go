// Package chatclient holds the chat controller: the current conversation, its
// live channel and poll loop, the user directory and the local echoes of sent
// messages. It renders through a Surface and talks to the service through the
// AuthService, MessageStore and live.Dialer interfaces.
package chatclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/journal"
	"github.com/go-go-golems/palaver/pkg/live"
)

const (
	DefaultPollInterval      = time.Second
	DefaultDirectoryInterval = 10 * time.Second
	DefaultSelfLabel         = "Saved messages"
)

var (
	ErrClosed         = errors.New("chat client closed")
	ErrAlreadyStarted = errors.New("chat client already started")
)

type Option func(*Client)

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithDirectoryInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.directoryInterval = d
		}
	}
}

func WithSelfLabel(label string) Option {
	return func(c *Client) {
		if strings.TrimSpace(label) != "" {
			c.selfLabel = label
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithOnLogout registers a callback run after a successful logout, outside the lock.
func WithOnLogout(fn func()) Option {
	return func(c *Client) { c.onLogout = fn }
}

type outboxEntry struct {
	localID string
	content string
	status  Status
	// confirmedSeq is the last issued history sequence when the send
	// succeeded; history fetched after it already contains the message.
	confirmedSeq uint64
	// baseline is how many of our own messages with this content history
	// should hold before this one lands.
	baseline int
}

// Client is the chat controller. All state is guarded by mu; network calls are
// made without holding it and their results are checked against the
// generation before rendering.
type Client struct {
	self     api.Identity
	auth     AuthService
	store    MessageStore
	dialer   live.Dialer
	surface  Surface
	recorder Recorder
	onLogout func()

	pollInterval      time.Duration
	directoryInterval time.Duration
	selfLabel         string

	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	started      bool
	closed       bool
	users        []api.User
	selected     api.ID
	selectedName string
	generation   uint64
	convCancel   context.CancelFunc
	channel      live.Channel
	outbox       []*outboxEntry
	historySeq   uint64
	appliedSeq   uint64
	// lastMine counts our own messages by content in the last applied history.
	lastMine map[string]int
}

func New(self api.Identity, auth AuthService, store MessageStore, dialer live.Dialer, surface Surface, options ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		self:              self,
		auth:              auth,
		store:             store,
		dialer:            dialer,
		surface:           surface,
		pollInterval:      DefaultPollInterval,
		directoryInterval: DefaultDirectoryInterval,
		selfLabel:         DefaultSelfLabel,
		log:               log.With().Str("component", "chatclient").Str("self", self.ID.String()).Logger(),
		ctx:               ctx,
		cancel:            cancel,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Client) Self() api.Identity { return c.self }

// Selected returns the active partner, if any.
func (c *Client) Selected() (api.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, !c.selected.IsZero()
}

// Start renders the directory once and keeps refreshing it until ctx is done
// or the client is closed.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.surface.SetInputEnabled(false)
	c.surface.SetHeader("")
	c.wg.Add(1)
	c.mu.Unlock()

	go c.refreshLoop(ctx)
	return c.RefreshDirectory(ctx)
}

func (c *Client) refreshLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.directoryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.RefreshDirectory(c.ctx)
		}
	}
}

// RefreshDirectory fetches the user list and renders it. Failures keep the
// current directory.
func (c *Client) RefreshDirectory(ctx context.Context) error {
	users, err := c.auth.ListUsers(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("could not load users")
		}
		return errors.Wrap(err, "list users")
	}
	c.RenderUserDirectory(users)
	return nil
}

// RenderUserDirectory replaces the directory: the self entry first, then every
// other user in the given order.
func (c *Client) RenderUserDirectory(users []api.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.users = append([]api.User(nil), users...)
	c.surface.SetDirectory(c.directoryLocked())
}

func (c *Client) directoryLocked() []DirectoryEntry {
	entries := []DirectoryEntry{{
		ID:     c.self.ID,
		Label:  c.selfLabel,
		Self:   true,
		Active: !c.selected.IsZero() && c.selected == c.self.ID,
	}}
	others := lo.Filter(c.users, func(u api.User, _ int) bool {
		return u.ID != c.self.ID
	})
	return append(entries, lo.Map(others, func(u api.User, _ int) DirectoryEntry {
		label := u.Name
		if strings.TrimSpace(label) == "" {
			label = "User " + u.ID.String()
		}
		return DirectoryEntry{ID: u.ID, Label: label, Active: u.ID == c.selected}
	})...)
}

// SelectConversation replaces all per-conversation state: the prior poll loop
// and live channel are torn down before history, channel and polling are set
// up for partner.
func (c *Client) SelectConversation(ctx context.Context, partner api.ID, name string) error {
	if partner.IsZero() {
		return errors.New("empty partner id")
	}
	if strings.TrimSpace(name) == "" {
		name = partner.String()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.teardownLocked()
	gen := c.generation
	c.selected = partner
	c.selectedName = name
	convCtx, cancel := context.WithCancel(c.ctx)
	c.convCancel = cancel

	c.surface.SetHeader("Chat with " + name)
	c.surface.SetInputEnabled(true)
	c.surface.SetDirectory(c.directoryLocked())
	c.surface.ClearMessages()
	c.mu.Unlock()

	closeChannel(prev)
	c.log.Info().Str("partner", partner.String()).Uint64("generation", gen).Msg("conversation selected")
	c.record(ctx, journal.Event{Kind: journal.KindSelect, PartnerID: partner.String()})

	_ = c.loadHistory(ctx, gen, partner)
	_ = c.openLiveChannel(ctx, gen, partner)

	c.mu.Lock()
	if gen == c.generation && !c.closed {
		c.wg.Add(1)
		go c.pollLoop(convCtx, gen, partner)
	}
	c.mu.Unlock()
	return nil
}

// teardownLocked bumps the generation, cancels the poll loop and hands back the
// live channel so the caller can close it after releasing the lock.
func (c *Client) teardownLocked() live.Channel {
	c.generation++
	if c.convCancel != nil {
		c.convCancel()
		c.convCancel = nil
	}
	ch := c.channel
	c.channel = nil
	c.outbox = nil
	c.appliedSeq = 0
	c.lastMine = nil
	return ch
}

func closeChannel(ch live.Channel) {
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		log.Debug().Err(err).Str("component", "chatclient").Str("partner", ch.Partner().String()).Msg("closing live channel")
	}
}

// LoadHistory fetches the conversation with partner and replaces the rendered
// messages, unless the selection changed while the request was in flight.
func (c *Client) LoadHistory(ctx context.Context, partner api.ID) error {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	return c.loadHistory(ctx, gen, partner)
}

func (c *Client) loadHistory(ctx context.Context, gen uint64, partner api.ID) error {
	c.mu.Lock()
	c.historySeq++
	seq := c.historySeq
	c.mu.Unlock()

	msgs, err := c.store.History(ctx, partner)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn().Err(err).Str("partner", partner.String()).Msg("could not load history")
		}
		return errors.Wrapf(err, "load history for %s", partner)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.generation || partner != c.selected {
		c.log.Debug().Str("partner", partner.String()).Uint64("generation", gen).Msg("discarding stale history")
		return nil
	}
	if seq < c.appliedSeq {
		c.log.Debug().Str("partner", partner.String()).Uint64("seq", seq).Msg("discarding out of order history")
		return nil
	}
	c.appliedSeq = seq

	entries := lo.Map(msgs, func(m api.Message, _ int) Entry {
		return Entry{
			SenderID:    m.SenderID,
			RecipientID: m.RecipientID,
			Content:     m.Content,
			Mine:        m.SenderID == c.self.ID,
		}
	})
	mine := lo.CountValuesBy(lo.Filter(msgs, func(m api.Message, _ int) bool {
		return m.SenderID == c.self.ID
	}), func(m api.Message) string { return m.Content })
	c.outbox = lo.Filter(c.outbox, func(e *outboxEntry, _ int) bool {
		if e.status == StatusFailed {
			return true
		}
		if mine[e.content] > e.baseline {
			return false
		}
		return e.status != StatusSent || e.confirmedSeq >= seq
	})
	c.lastMine = mine
	for _, e := range c.outbox {
		entries = append(entries, c.echoEntry(e))
	}
	c.surface.ReplaceMessages(entries)
	return nil
}

func (c *Client) echoEntry(e *outboxEntry) Entry {
	return Entry{
		LocalID:     e.localID,
		SenderID:    c.self.ID,
		RecipientID: c.selected,
		Content:     e.content,
		Mine:        true,
		Status:      e.status,
	}
}

// OpenLiveChannel dials a channel for partner, replacing any open one.
func (c *Client) OpenLiveChannel(ctx context.Context, partner api.ID) error {
	c.mu.Lock()
	gen := c.generation
	prev := c.channel
	c.channel = nil
	c.mu.Unlock()
	closeChannel(prev)
	return c.openLiveChannel(ctx, gen, partner)
}

func (c *Client) openLiveChannel(ctx context.Context, gen uint64, partner api.ID) error {
	ch, err := c.dialer.Dial(ctx, partner)
	if err != nil {
		c.log.Warn().Err(err).Str("partner", partner.String()).Msg("could not open live channel")
		return errors.Wrapf(err, "open live channel for %s", partner)
	}

	c.mu.Lock()
	if c.closed || gen != c.generation || partner != c.selected {
		c.mu.Unlock()
		closeChannel(ch)
		return nil
	}
	prev := c.channel
	c.channel = ch
	c.wg.Add(1)
	c.mu.Unlock()

	closeChannel(prev)
	go c.pump(gen, ch)
	return nil
}

func (c *Client) pump(gen uint64, ch live.Channel) {
	defer c.wg.Done()
	for msg := range ch.Events() {
		c.mu.Lock()
		accept := !c.closed && gen == c.generation && (msg.SenderID == c.selected || msg.RecipientID == c.selected)
		if accept {
			c.surface.AppendMessage(Entry{
				SenderID:    msg.SenderID,
				RecipientID: msg.RecipientID,
				Content:     msg.Content,
				Mine:        msg.SenderID == c.self.ID,
			})
		}
		partner := c.selected
		c.mu.Unlock()

		if !accept {
			c.log.Debug().Str("sender", msg.SenderID.String()).Str("recipient", msg.RecipientID.String()).Msg("ignoring live event for another conversation")
			continue
		}
		c.record(c.ctx, journal.Event{
			Kind:        journal.KindInbound,
			PartnerID:   partner.String(),
			SenderID:    msg.SenderID.String(),
			RecipientID: msg.RecipientID.String(),
			Content:     msg.Content,
		})
	}

	// the channel ended on its own; it stays closed until the next selection
	c.mu.Lock()
	if c.channel == ch {
		c.channel = nil
	}
	c.mu.Unlock()
}

func (c *Client) pollLoop(ctx context.Context, gen uint64, partner api.ID) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.loadHistory(ctx, gen, partner)
		}
	}
}

// SendMessage trims text and submits it to the selected partner. Empty text or
// no selection is a silent no-op. The message is echoed as pending right away
// and marked sent or failed once the submission completes.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if text == "" || c.selected.IsZero() || c.closed {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation
	partner := c.selected
	baseline := c.lastMine[text] + lo.CountBy(c.outbox, func(o *outboxEntry) bool {
		return o.content == text && o.status != StatusFailed
	})
	e := &outboxEntry{localID: uuid.NewString(), content: text, status: StatusPending, baseline: baseline}
	c.outbox = append(c.outbox, e)
	c.surface.AppendMessage(c.echoEntry(e))
	c.surface.ClearInput()
	c.mu.Unlock()

	err := c.store.Send(ctx, api.OutboundMessage{RecipientID: partner, Content: text})

	status := StatusSent
	if err != nil {
		status = StatusFailed
	}
	c.mu.Lock()
	if !c.closed && gen == c.generation && lo.Contains(c.outbox, e) {
		e.status = status
		e.confirmedSeq = c.historySeq
		c.surface.UpdateMessageStatus(e.localID, status)
	}
	c.mu.Unlock()

	ev := journal.Event{
		Kind:        journal.KindOutbound,
		PartnerID:   partner.String(),
		SenderID:    c.self.ID.String(),
		RecipientID: partner.String(),
		Content:     text,
	}
	if err != nil {
		c.log.Warn().Err(err).Str("partner", partner.String()).Msg("could not send message")
		ev.Kind = journal.KindSendFailed
		ev.Error = err.Error()
		c.record(ctx, ev)
		return errors.Wrapf(err, "send message to %s", partner)
	}
	c.record(ctx, ev)
	return nil
}

// Logout ends the session. On failure nothing changes; on success the
// conversation is torn down, the auth entry shown and the client closed.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := c.auth.Logout(ctx); err != nil {
		c.log.Error().Err(err).Msg("logout failed")
		return errors.Wrap(err, "logout")
	}
	c.record(ctx, journal.Event{Kind: journal.KindLogout})

	c.mu.Lock()
	if !c.closed {
		c.surface.SetInputEnabled(false)
		c.surface.SetHeader("")
		c.surface.ClearMessages()
		c.surface.ShowAuthEntry()
	}
	c.mu.Unlock()
	c.log.Info().Msg("logged out")

	err := c.Close()
	if c.onLogout != nil {
		c.onLogout()
	}
	return err
}

// Close stops the directory refresh, the poll loop and the live channel and
// waits for their goroutines. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return nil
	}
	ch := c.teardownLocked()
	c.closed = true
	c.selected = ""
	c.selectedName = ""
	c.cancel()
	c.mu.Unlock()

	closeChannel(ch)
	c.wg.Wait()
	return nil
}

func (c *Client) record(ctx context.Context, ev journal.Event) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(context.WithoutCancel(ctx), ev); err != nil {
		c.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("could not journal event")
	}
}
