package cmds

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/go-go-golems/palaver/pkg/journal"
	"github.com/go-go-golems/palaver/pkg/live"
	"github.com/go-go-golems/palaver/pkg/logging"
	"github.com/go-go-golems/palaver/pkg/redisstream"
)

// AnnotationInteractive marks commands that own the terminal; their logs go
// to a file unless one is configured.
const AnnotationInteractive = "palaver/interactive"

// Env is what every command needs: the resolved settings and the session file.
type Env struct {
	Settings *config.Settings
	Session  *config.SessionFile

	logCloser io.Closer
}

type envKey struct{}

func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

func EnvFrom(ctx context.Context) (*Env, bool) {
	env, ok := ctx.Value(envKey{}).(*Env)
	return env, ok && env != nil
}

func mustEnv(cmd *cobra.Command) (*Env, error) {
	env, ok := EnvFrom(cmd.Context())
	if !ok {
		return nil, errors.New("command environment not initialized")
	}
	return env, nil
}

// NewEnv loads settings for cmd and sets up logging.
func NewEnv(cmd *cobra.Command) (*Env, error) {
	configFile, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(cmd.Flags(), configFile)
	if err != nil {
		return nil, err
	}
	settings, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	if cmd.Annotations[AnnotationInteractive] == "true" && settings.Logging.File == "" {
		settings.Logging.File = config.DefaultLogFile()
	}
	closer, err := logging.Init(settings.Logging)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("server_url", settings.ServerURL).
		Str("live_transport", settings.LiveTransport).
		Msg("settings loaded")

	return &Env{
		Settings:  settings,
		Session:   config.NewSessionFile(settings.SessionFile),
		logCloser: closer,
	}, nil
}

func (e *Env) Close() error {
	if e.logCloser == nil {
		return nil
	}
	return e.logCloser.Close()
}

// StoredToken returns the saved token for the configured server, or "" when
// there is none.
func (e *Env) StoredToken() (string, error) {
	s, err := e.Session.LoadFor(e.Settings.ServerURL)
	if err != nil {
		if errors.Is(err, config.ErrNoSession) {
			log.Debug().Err(err).Msg("no usable session")
			return "", nil
		}
		return "", err
	}
	return s.Token, nil
}

func (e *Env) NewClient(token string) (*api.Client, error) {
	options := []api.ClientOption{api.WithTimeout(e.Settings.HTTPTimeout)}
	if token != "" {
		options = append(options, api.WithToken(token))
	}
	return api.NewClient(e.Settings.ServerURL, options...)
}

// SessionClient is a client for the stored session and the identity in its
// token. It fails with config.ErrNoSession when nobody is logged in.
func (e *Env) SessionClient() (*api.Client, api.Identity, error) {
	token, err := e.StoredToken()
	if err != nil {
		return nil, api.Identity{}, err
	}
	if token == "" {
		return nil, api.Identity{}, config.ErrNoSession
	}
	self, err := api.IdentityFromToken(token)
	if err != nil {
		return nil, api.Identity{}, err
	}
	client, err := e.NewClient(token)
	if err != nil {
		return nil, api.Identity{}, err
	}
	return client, self, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewDialer returns the live channel dialer for the configured transport and
// a closer for whatever it holds open.
func (e *Env) NewDialer(ctx context.Context, client *api.Client) (live.Dialer, io.Closer, error) {
	switch e.Settings.LiveTransport {
	case config.TransportRedis:
		subscriber, err := redisstream.NewSubscriber(ctx, e.Settings.Redis)
		if err != nil {
			return nil, nil, err
		}
		topic := func(partner api.ID) string { return e.Settings.Redis.Topic(partner.String()) }
		return live.NewStreamDialer(subscriber, topic), subscriber, nil
	default:
		return live.NewWebsocketDialer(client, live.WithHandshakeTimeout(e.Settings.HTTPTimeout)), nopCloser{}, nil
	}
}

// OpenJournal returns nil when the journal is disabled.
func (e *Env) OpenJournal() (*journal.SQLiteJournal, error) {
	if e.Settings.Journal == "" {
		return nil, nil
	}
	return journal.Open(e.Settings.Journal)
}

// sessionTokens stores tokens issued by the configured server.
type sessionTokens struct {
	file      *config.SessionFile
	serverURL string
}

func (t sessionTokens) Save(token string) error {
	return t.file.Save(config.Session{ServerURL: t.serverURL, Token: token, SavedAt: time.Now().UTC()})
}

func (t sessionTokens) Clear() error {
	return t.file.Clear()
}
