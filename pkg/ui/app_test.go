package ui

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/palaver/pkg/api"
)

type fakeController struct {
	mu        sync.Mutex
	token     string
	startErr  error
	logoutErr error
	started   int
	closed    int
	selects   []api.ID
	sends     []string
	logouts   int
}

func (c *fakeController) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	return c.startErr
}

func (c *fakeController) SelectConversation(_ context.Context, partner api.ID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selects = append(c.selects, partner)
	return nil
}

func (c *fakeController) SendMessage(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, text)
	return nil
}

func (c *fakeController) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	return c.logoutErr
}

func (c *fakeController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

type controllerFactory struct {
	built     []*fakeController
	err       error
	startErr  error
	logoutErr error
}

func (f *controllerFactory) build(token string) (Controller, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeController{token: token, startErr: f.startErr, logoutErr: f.logoutErr}
	f.built = append(f.built, c)
	return c, nil
}

type fakeAuthenticator struct {
	token string
	err   error
}

func (a fakeAuthenticator) Login(context.Context, string, string) (string, error) {
	return a.token, a.err
}

type memoryTokens struct {
	saved   []string
	cleared int
}

func (m *memoryTokens) Save(token string) error {
	m.saved = append(m.saved, token)
	return nil
}

func (m *memoryTokens) Clear() error {
	m.cleared++
	return nil
}

func TestAppStartWithoutToken(t *testing.T) {
	factory := &controllerFactory{}
	app := NewApp(fakeAuthenticator{}, factory.build, &memoryTokens{}, "")

	require.ErrorIs(t, app.Start(context.Background()), ErrNotLoggedIn)
	require.Empty(t, factory.built)
	require.ErrorIs(t, app.Send(context.Background(), "hi"), ErrNotLoggedIn)
	require.ErrorIs(t, app.Select(context.Background(), "2", "Bob"), ErrNotLoggedIn)
	require.ErrorIs(t, app.Logout(context.Background()), ErrNotLoggedIn)
}

func TestAppStartDelegates(t *testing.T) {
	factory := &controllerFactory{}
	app := NewApp(fakeAuthenticator{}, factory.build, &memoryTokens{}, "tok")
	ctx := context.Background()

	require.NoError(t, app.Start(ctx))
	require.Len(t, factory.built, 1)
	ctrl := factory.built[0]
	require.Equal(t, "tok", ctrl.token)
	require.Equal(t, 1, ctrl.started)

	require.NoError(t, app.Select(ctx, "2", "Bob"))
	require.NoError(t, app.Send(ctx, "hi"))
	require.Equal(t, []api.ID{"2"}, ctrl.selects)
	require.Equal(t, []string{"hi"}, ctrl.sends)

	require.NoError(t, app.Close())
	require.Equal(t, 1, ctrl.closed)
}

func TestAppStartRejectedTokenIsForgotten(t *testing.T) {
	tokens := &memoryTokens{}
	factory := &controllerFactory{startErr: errors.Wrap(&api.StatusError{Code: 401}, "list users")}
	app := NewApp(fakeAuthenticator{}, factory.build, tokens, "stale")

	err := app.Start(context.Background())
	require.ErrorIs(t, err, api.ErrUnauthorized)
	require.False(t, app.LoggedIn())
	require.Equal(t, 1, tokens.cleared)
	require.Equal(t, 1, factory.built[0].closed)
	require.ErrorIs(t, app.Send(context.Background(), "hi"), ErrNotLoggedIn)
}

func TestAppStartOtherFailureKeepsToken(t *testing.T) {
	tokens := &memoryTokens{}
	factory := &controllerFactory{startErr: errors.New("connection refused")}
	app := NewApp(fakeAuthenticator{}, factory.build, tokens, "tok")

	require.Error(t, app.Start(context.Background()))
	require.True(t, app.LoggedIn())
	require.Zero(t, tokens.cleared)
}

func TestAppUnreadableTokenNeedsLogin(t *testing.T) {
	tokens := &memoryTokens{}
	factory := &controllerFactory{err: errors.New("access token has no subject")}
	app := NewApp(fakeAuthenticator{}, factory.build, tokens, "garbage")

	require.ErrorIs(t, app.Start(context.Background()), ErrNotLoggedIn)
	require.False(t, app.LoggedIn())
	require.Equal(t, 1, tokens.cleared)
}

func TestAppLoginReplacesController(t *testing.T) {
	tokens := &memoryTokens{}
	factory := &controllerFactory{}
	app := NewApp(fakeAuthenticator{token: "fresh"}, factory.build, tokens, "old")
	ctx := context.Background()

	require.NoError(t, app.Start(ctx))
	require.NoError(t, app.Login(ctx, "ann@example.com", "secret"))

	require.Equal(t, []string{"fresh"}, tokens.saved)
	require.Len(t, factory.built, 2)
	require.Equal(t, 1, factory.built[0].closed)
	require.Equal(t, "fresh", factory.built[1].token)
	require.Equal(t, 1, factory.built[1].started)
}

func TestAppLoginFailureStoresNothing(t *testing.T) {
	tokens := &memoryTokens{}
	factory := &controllerFactory{}
	app := NewApp(fakeAuthenticator{err: &api.StatusError{Code: 401}}, factory.build, tokens, "")

	require.ErrorIs(t, app.Login(context.Background(), "ann@example.com", "nope"), api.ErrUnauthorized)
	require.Empty(t, tokens.saved)
	require.Empty(t, factory.built)
}

func TestAppLogout(t *testing.T) {
	factory := &controllerFactory{logoutErr: errors.New("boom")}
	app := NewApp(fakeAuthenticator{}, factory.build, &memoryTokens{}, "tok")
	ctx := context.Background()
	require.NoError(t, app.Start(ctx))

	require.Error(t, app.Logout(ctx))
	require.True(t, app.LoggedIn())
	require.NoError(t, app.Send(ctx, "still here"))

	factory.built[0].mu.Lock()
	factory.built[0].logoutErr = nil
	factory.built[0].mu.Unlock()
	require.NoError(t, app.Logout(ctx))
	require.False(t, app.LoggedIn())
	require.Equal(t, 1, factory.built[0].closed)
	require.ErrorIs(t, app.Send(ctx, "gone"), ErrNotLoggedIn)
}
