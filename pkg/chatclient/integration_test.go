package chatclient_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/chatclient"
	"github.com/go-go-golems/palaver/pkg/chattest"
	"github.com/go-go-golems/palaver/pkg/live"
)

// screen is a minimal Surface that keeps the rendered message contents.
type screen struct {
	mu        sync.Mutex
	messages  []chatclient.Entry
	directory []chatclient.DirectoryEntry
	authShown bool
}

func (s *screen) SetDirectory(entries []chatclient.DirectoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directory = entries
}

func (s *screen) SetHeader(string)     {}
func (s *screen) SetInputEnabled(bool) {}
func (s *screen) ClearInput()          {}
func (s *screen) ClearMessages()       { s.ReplaceMessages(nil) }

func (s *screen) ShowAuthEntry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authShown = true
}

func (s *screen) ReplaceMessages(entries []chatclient.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]chatclient.Entry(nil), entries...)
}

func (s *screen) AppendMessage(entry chatclient.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, entry)
}

func (s *screen) UpdateMessageStatus(localID string, status chatclient.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].LocalID == localID {
			s.messages[i].Status = status
		}
	}
}

func (s *screen) contents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.messages {
		out = append(out, m.Content)
	}
	return out
}

func login(t *testing.T, srv *chattest.Server, user api.User) (*api.Client, api.Identity) {
	t.Helper()
	client, err := api.NewClient(srv.URL, api.WithToken(srv.TokenFor(user.ID)), api.WithTimeout(5*time.Second))
	require.NoError(t, err)
	self, err := api.IdentityFromToken(client.Token())
	require.NoError(t, err)
	return client, self
}

func TestChatClient_AgainstService(t *testing.T) {
	srv := chattest.New()
	defer srv.Close()
	alice := srv.AddUser("Alice", "", "")
	bob := srv.AddUser("Bob", "", "")
	srv.Seed(api.Message{SenderID: bob.ID, RecipientID: alice.ID, Content: "earlier"})

	aliceAPI, aliceID := login(t, srv, alice)
	bobAPI, _ := login(t, srv, bob)

	view := &screen{}
	c := chatclient.New(aliceID, aliceAPI, aliceAPI, live.NewWebsocketDialer(aliceAPI), view,
		chatclient.WithPollInterval(time.Hour))
	defer func() { require.NoError(t, c.Close()) }()
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	view.mu.Lock()
	require.Len(t, view.directory, 2)
	require.True(t, view.directory[0].Self)
	require.Equal(t, bob.ID, view.directory[1].ID)
	view.mu.Unlock()

	require.NoError(t, c.SelectConversation(ctx, bob.ID, bob.Name))
	require.Equal(t, []string{"earlier"}, view.contents())
	require.Eventually(t, func() bool { return srv.OpenConnections(bob.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	// bob writes through the service; the live channel pushes it to alice
	require.NoError(t, bobAPI.Send(ctx, api.OutboundMessage{RecipientID: alice.ID, Content: "live hello"}))
	require.Eventually(t, func() bool {
		got := view.contents()
		return len(got) == 2 && got[1] == "live hello"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.SendMessage(ctx, "reply"))
	require.Equal(t, []string{"earlier", "live hello", "reply"}, view.contents())
	require.Len(t, srv.Messages(), 3)

	require.NoError(t, c.LoadHistory(ctx, bob.ID))
	require.Equal(t, []string{"earlier", "live hello", "reply"}, view.contents())

	require.NoError(t, c.Logout(ctx))
	view.mu.Lock()
	require.True(t, view.authShown)
	view.mu.Unlock()
	require.Eventually(t, func() bool { return srv.OpenConnections(bob.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}
