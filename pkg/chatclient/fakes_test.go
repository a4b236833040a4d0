package chatclient

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/journal"
	"github.com/go-go-golems/palaver/pkg/live"
)

type recordingSurface struct {
	mu           sync.Mutex
	directories  [][]DirectoryEntry
	header       string
	inputEnabled bool
	messages     []Entry
	replaces     int
	appends      []Entry
	statuses     map[string]Status
	inputClears  int
	authShown    int
}

func newSurface() *recordingSurface {
	return &recordingSurface{statuses: map[string]Status{}}
}

func (s *recordingSurface) SetDirectory(entries []DirectoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directories = append(s.directories, entries)
}

func (s *recordingSurface) SetHeader(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = title
}

func (s *recordingSurface) SetInputEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputEnabled = enabled
}

func (s *recordingSurface) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

func (s *recordingSurface) ReplaceMessages(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]Entry(nil), entries...)
	s.replaces++
}

func (s *recordingSurface) AppendMessage(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, entry)
	s.appends = append(s.appends, entry)
}

func (s *recordingSurface) UpdateMessageStatus(localID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[localID] = status
	for i := range s.messages {
		if s.messages[i].LocalID == localID {
			s.messages[i].Status = status
		}
	}
}

func (s *recordingSurface) ClearInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputClears++
}

func (s *recordingSurface) ShowAuthEntry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authShown++
}

func (s *recordingSurface) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.messages...)
}

func (s *recordingSurface) Contents() []string {
	var out []string
	for _, e := range s.Messages() {
		out = append(out, e.Content)
	}
	return out
}

func (s *recordingSurface) Appends() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.appends...)
}

func (s *recordingSurface) LastDirectory() []DirectoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.directories) == 0 {
		return nil
	}
	return s.directories[len(s.directories)-1]
}

func (s *recordingSurface) Header() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

func (s *recordingSurface) InputEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputEnabled
}

func (s *recordingSurface) AuthShown() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authShown
}

func (s *recordingSurface) Replaces() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaces
}

type fakeAuth struct {
	mu        sync.Mutex
	users     []api.User
	listCalls int
	logoutErr error
	logouts   int
}

func (a *fakeAuth) ListUsers(context.Context) ([]api.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listCalls++
	return append([]api.User(nil), a.users...), nil
}

func (a *fakeAuth) Logout(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts++
	return a.logoutErr
}

func (a *fakeAuth) ListCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listCalls
}

type fakeStore struct {
	mu       sync.Mutex
	history  map[api.ID][]api.Message
	calls    []api.ID
	holds    map[api.ID]chan struct{}
	waiting  chan api.ID
	sends    []api.OutboundMessage
	sendErr  error
	sendGate chan struct{}
}

func newStore() *fakeStore {
	return &fakeStore{
		history: map[api.ID][]api.Message{},
		holds:   map[api.ID]chan struct{}{},
		waiting: make(chan api.ID, 16),
	}
}

func (s *fakeStore) History(ctx context.Context, partner api.ID) ([]api.Message, error) {
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return nil, ctx.Err()
	}
	s.calls = append(s.calls, partner)
	hold := s.holds[partner]
	s.mu.Unlock()

	if hold != nil {
		s.waiting <- partner
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Message(nil), s.history[partner]...), nil
}

func (s *fakeStore) Send(ctx context.Context, msg api.OutboundMessage) error {
	s.mu.Lock()
	s.sends = append(s.sends, msg)
	gate := s.sendGate
	err := s.sendErr
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *fakeStore) Hold(partner api.ID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.holds[partner] = ch
	return ch
}

func (s *fakeStore) SetHistory(partner api.ID, msgs ...api.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[partner] = msgs
}

func (s *fakeStore) Calls() []api.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.ID(nil), s.calls...)
}

func (s *fakeStore) Sends() []api.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.OutboundMessage(nil), s.sends...)
}

// fakeChannel ends its events on Close unless linger is set; a lingering
// channel keeps delivering until End, which simulates events racing a
// conversation switch.
type fakeChannel struct {
	partner api.ID
	events  chan api.Message
	linger  bool

	mu     sync.Mutex
	closed bool
	ended  bool
}

func (c *fakeChannel) Partner() api.ID            { return c.partner }
func (c *fakeChannel) Events() <-chan api.Message { return c.events }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if !c.linger {
		c.End()
	}
	return nil
}

func (c *fakeChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Deliver blocks until the controller has taken the event.
func (c *fakeChannel) Deliver(msg api.Message) {
	c.events <- msg
}

func (c *fakeChannel) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ended {
		c.ended = true
		close(c.events)
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	err      error
	linger   bool
}

func (d *fakeDialer) Dial(_ context.Context, partner api.ID) (live.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := &fakeChannel{partner: partner, events: make(chan api.Message), linger: d.linger}
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) Channels() []*fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeChannel(nil), d.channels...)
}

// Open counts channels the controller has not closed.
func (d *fakeDialer) Open() []*fakeChannel {
	var open []*fakeChannel
	for _, ch := range d.Channels() {
		if !ch.Closed() {
			open = append(open, ch)
		}
	}
	return open
}

func (d *fakeDialer) EndAll() {
	for _, ch := range d.Channels() {
		ch.End()
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []journal.Event
	err    error
}

func (r *fakeRecorder) Record(_ context.Context, ev journal.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *fakeRecorder) Kinds() []journal.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []journal.Kind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

var errBoom = errors.New("boom")
