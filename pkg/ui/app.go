package ui

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/api"
)

var ErrNotLoggedIn = errors.New("not logged in")

// Authenticator exchanges credentials for an access token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
}

// Controller is the part of chatclient.Client the app drives.
type Controller interface {
	Start(ctx context.Context) error
	SelectConversation(ctx context.Context, partner api.ID, name string) error
	SendMessage(ctx context.Context, text string) error
	Logout(ctx context.Context) error
	Close() error
}

// ControllerFactory builds a controller bound to the identity in token.
type ControllerFactory func(token string) (Controller, error)

// TokenStore persists the access token between runs.
type TokenStore interface {
	Save(token string) error
	Clear() error
}

// App implements Actions: it owns the current token and the controller built
// for it, and replaces both on login.
type App struct {
	auth    Authenticator
	factory ControllerFactory
	tokens  TokenStore

	mu    sync.Mutex
	token string
	ctrl  Controller
}

var _ Actions = &App{}

func NewApp(auth Authenticator, factory ControllerFactory, tokens TokenStore, token string) *App {
	return &App{auth: auth, factory: factory, tokens: tokens, token: token}
}

func (a *App) LoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token != ""
}

// Start builds a controller for the current token and starts it. A rejected
// token is forgotten so the next run asks for credentials.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	token := a.token
	previous := a.ctrl
	a.ctrl = nil
	a.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	if token == "" {
		return ErrNotLoggedIn
	}

	ctrl, err := a.factory(token)
	if err != nil {
		a.forget(token)
		return errors.Wrapf(ErrNotLoggedIn, "create chat client: %v", err)
	}

	a.mu.Lock()
	if a.token != token {
		a.mu.Unlock()
		_ = ctrl.Close()
		return ErrNotLoggedIn
	}
	a.ctrl = ctrl
	a.mu.Unlock()

	if err := ctrl.Start(ctx); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			a.mu.Lock()
			if a.ctrl == ctrl {
				a.ctrl = nil
			}
			a.mu.Unlock()
			_ = ctrl.Close()
			a.forget(token)
		}
		return err
	}
	return nil
}

func (a *App) forget(token string) {
	a.mu.Lock()
	if a.token != token {
		a.mu.Unlock()
		return
	}
	a.token = ""
	a.mu.Unlock()
	if a.tokens == nil {
		return
	}
	if err := a.tokens.Clear(); err != nil {
		log.Warn().Err(err).Msg("could not clear stored session")
	}
}

func (a *App) Login(ctx context.Context, email, password string) error {
	token, err := a.auth.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if a.tokens != nil {
		if err := a.tokens.Save(token); err != nil {
			log.Warn().Err(err).Msg("could not store session")
		}
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	return a.Start(ctx)
}

func (a *App) controller() (Controller, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctrl == nil {
		return nil, ErrNotLoggedIn
	}
	return a.ctrl, nil
}

func (a *App) Select(ctx context.Context, partner api.ID, label string) error {
	ctrl, err := a.controller()
	if err != nil {
		return err
	}
	return ctrl.SelectConversation(ctx, partner, label)
}

func (a *App) Send(ctx context.Context, text string) error {
	ctrl, err := a.controller()
	if err != nil {
		return err
	}
	return ctrl.SendMessage(ctx, text)
}

// Logout keeps the controller and token when the server refuses.
func (a *App) Logout(ctx context.Context) error {
	ctrl, err := a.controller()
	if err != nil {
		return err
	}
	if err := ctrl.Logout(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	if a.ctrl == ctrl {
		a.ctrl = nil
		a.token = ""
	}
	a.mu.Unlock()
	return ctrl.Close()
}

func (a *App) Close() error {
	a.mu.Lock()
	ctrl := a.ctrl
	a.ctrl = nil
	a.mu.Unlock()
	if ctrl == nil {
		return nil
	}
	return ctrl.Close()
}
