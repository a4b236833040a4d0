package cmds

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/chattest"
	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/go-go-golems/palaver/pkg/journal"
)

type harness struct {
	srv         *chattest.Server
	sessionPath string
	journalPath string
	ann, bob    api.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := chattest.New()
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	return &harness{
		srv:         srv,
		sessionPath: filepath.Join(dir, "session.yaml"),
		journalPath: filepath.Join(dir, "journal.db"),
		ann:         srv.AddUser("Ann", "ann@example.com", "secret"),
		bob:         srv.AddUser("Bob", "bob@example.com", "hunter2"),
	}
}

func (h *harness) loginAs(t *testing.T, u api.User) {
	t.Helper()
	err := config.NewSessionFile(h.sessionPath).Save(config.Session{ServerURL: h.srv.URL, Token: h.srv.TokenFor(u.ID)})
	require.NoError(t, err)
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := h.runContext(t, context.Background(), &out, args...)
	return out.String(), err
}

func (h *harness) runContext(t *testing.T, ctx context.Context, out io.Writer, args ...string) error {
	t.Helper()
	root := &cobra.Command{
		Use:           "palaver",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env, err := NewEnv(cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(WithEnv(cmd.Context(), env))
			return nil
		},
	}
	config.AddFlags(root.PersistentFlags())
	root.AddCommand(
		NewUsersCommand(),
		NewHistoryCommand(),
		NewSendCommand(),
		NewTailCommand(),
		NewLogoutCommand(),
		NewJournalCommand(),
	)

	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{
		"--server-url", h.srv.URL,
		"--session-file", h.sessionPath,
		"--journal", h.journalPath,
		"--log-level", "error",
	}, args...))
	return root.ExecuteContext(ctx)
}

// syncBuffer lets a test read output while a command is still writing it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestUsersNeedsSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "users")
	require.ErrorIs(t, err, config.ErrNoSession)
}

func TestUsers(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t, h.ann)

	out, err := h.run(t, "users")
	require.NoError(t, err)
	require.Contains(t, out, "Ann")
	require.Contains(t, out, "Bob")

	out, err = h.run(t, "users", "-o", "json")
	require.NoError(t, err)
	var got []userRow
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, []userRow{
		{ID: h.ann.ID.String(), Name: "Ann", Self: true},
		{ID: h.bob.ID.String(), Name: "Bob"},
	}, got)
}

func TestHistoryAndSend(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t, h.ann)
	h.srv.Seed(api.Message{ID: "1", SenderID: h.bob.ID, RecipientID: h.ann.ID, Content: "hi ann", CreatedAt: "2024-05-01T10:00:00"})

	_, err := h.run(t, "send", h.bob.ID.String(), "hello", "bob")
	require.NoError(t, err)
	msgs := h.srv.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, api.Message{SenderID: h.ann.ID, RecipientID: h.bob.ID, Content: "hello bob"}, msgs[1])

	out, err := h.run(t, "history", h.bob.ID.String(), "-o", "yaml")
	require.NoError(t, err)
	var got []messageRow
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	require.Equal(t, "hi ann", got[0].Content)
	require.Equal(t, "2024-05-01T10:00:00", got[0].CreatedAt)
	require.False(t, got[0].Mine)
	require.True(t, got[1].Mine)

	out, err = h.run(t, "history", h.bob.ID.String(), "--last", "1")
	require.NoError(t, err)
	require.Contains(t, out, "hello bob")
	require.NotContains(t, out, "hi ann")
}

func TestSendRejectsBlankText(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t, h.ann)
	_, err := h.run(t, "send", h.bob.ID.String(), "  ")
	require.Error(t, err)
	require.Empty(t, h.srv.Messages())
}

func TestTailPrintsPushedMessages(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t, h.ann)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- h.runContext(t, ctx, &out, "tail", h.bob.ID.String()) }()

	require.Eventually(t, func() bool { return h.srv.OpenConnections(h.bob.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	h.srv.Push(h.bob.ID, api.Message{SenderID: h.bob.ID, RecipientID: h.ann.ID, Content: "are you there"})
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), h.bob.ID.String()+": are you there\n")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tail did not stop after cancel")
	}
}

func TestTailStopsWhenServerGoesAway(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t, h.ann)

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- h.runContext(t, context.Background(), &out, "tail", h.bob.ID.String()) }()

	require.Eventually(t, func() bool { return h.srv.OpenConnections(h.bob.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	h.srv.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tail did not stop after the server closed")
	}
	require.Empty(t, out.String())
}

func TestLogoutClearsSession(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t, h.ann)

	out, err := h.run(t, "logout")
	require.NoError(t, err)
	require.Contains(t, out, "logged out")
	_, err = config.NewSessionFile(h.sessionPath).Load()
	require.ErrorIs(t, err, config.ErrNoSession)

	out, err = h.run(t, "logout")
	require.NoError(t, err)
	require.Contains(t, out, "not logged in")
}

func TestLogoutFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.loginAs(t, h.ann)
	h.srv.Fail(chattest.RouteLogout, 500)

	_, err := h.run(t, "logout")
	require.Error(t, err)
	_, err = config.NewSessionFile(h.sessionPath).Load()
	require.NoError(t, err)
}

func TestJournal(t *testing.T) {
	h := newHarness(t)
	j, err := journal.Open(h.journalPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, journal.Event{Kind: journal.KindOutbound, PartnerID: "2", SenderID: "1", Content: "hello"}))
	require.NoError(t, j.Record(ctx, journal.Event{Kind: journal.KindInbound, PartnerID: "3", SenderID: "3", Content: "other"}))
	require.NoError(t, j.Close())

	out, err := h.run(t, "journal", "2", "-o", "json")
	require.NoError(t, err)
	var events []journal.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	require.Equal(t, "hello", events[0].Content)

	out, err = h.run(t, "journal", "activity")
	require.NoError(t, err)
	require.Contains(t, out, "2")
	require.Contains(t, out, "3")
}

func TestJournalDisabled(t *testing.T) {
	h := newHarness(t)
	h.journalPath = ""
	_, err := h.run(t, "journal")
	require.Error(t, err)
}

func TestWriteRowsUnknownFormat(t *testing.T) {
	cmd := &cobra.Command{}
	addOutputFlag(cmd)
	require.NoError(t, cmd.Flags().Set("output", "xml"))
	err := writeRows(cmd, io.Discard, rows{})
	require.ErrorContains(t, err, "unknown output format")
}
