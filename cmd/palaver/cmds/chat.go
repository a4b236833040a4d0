package cmds

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/chatclient"
	"github.com/go-go-golems/palaver/pkg/ui"
)

func NewChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "chat",
		Short:       "Open the interactive chat",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{AnnotationInteractive: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}
			fd := os.Stdout.Fd()
			if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
				return errors.New("chat needs a terminal, use users, history, send or tail instead")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, env)
		},
	}
}

// sessionController closes what the dialer holds open along with the client.
type sessionController struct {
	*chatclient.Client
	closer io.Closer
}

func (c *sessionController) Close() error {
	err := c.Client.Close()
	if cerr := c.closer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func runChat(ctx context.Context, env *Env) error {
	token, err := env.StoredToken()
	if err != nil {
		return err
	}

	j, err := env.OpenJournal()
	if err != nil {
		return err
	}
	if j != nil {
		defer func() { _ = j.Close() }()
	}

	anonymous, err := env.NewClient("")
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// set before the program runs; the factory is only called from its commands
	var surface *ui.ProgramSurface

	factory := func(token string) (ui.Controller, error) {
		self, err := api.IdentityFromToken(token)
		if err != nil {
			return nil, err
		}
		client, err := env.NewClient(token)
		if err != nil {
			return nil, err
		}
		dialer, closer, err := env.NewDialer(runCtx, client)
		if err != nil {
			return nil, err
		}
		options := []chatclient.Option{
			chatclient.WithPollInterval(env.Settings.PollInterval),
			chatclient.WithDirectoryInterval(env.Settings.DirectoryInterval),
			chatclient.WithSelfLabel(env.Settings.SelfLabel),
			chatclient.WithOnLogout(func() {
				if err := env.Session.Clear(); err != nil {
					log.Warn().Err(err).Msg("could not clear stored session")
				}
			}),
		}
		if j != nil {
			options = append(options, chatclient.WithRecorder(j))
		}
		log.Info().Str("self", self.ID.String()).Msg("starting chat client")
		return &sessionController{
			Client: chatclient.New(self, client, client, dialer, surface, options...),
			closer: closer,
		}, nil
	}

	app := ui.NewApp(anonymous, factory, sessionTokens{file: env.Session, serverURL: env.Settings.ServerURL}, token)
	model := ui.NewModel(runCtx, app, app.LoggedIn())
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(runCtx))
	surface = ui.NewProgramSurface(p)

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) && runCtx.Err() != nil {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-runCtx.Done()
		return app.Close()
	})
	return eg.Wait()
}
