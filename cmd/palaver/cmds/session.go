package cmds

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/config"
)

func NewLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}
			email, _ := cmd.Flags().GetString("email")

			prompt := &input.UI{
				Writer: cmd.ErrOrStderr(),
				Reader: cmd.InOrStdin(),
			}
			email, err = prompt.Ask("Email", &input.Options{
				Default:   email,
				Required:  true,
				Loop:      true,
				HideOrder: true,
				ValidateFunc: func(answer string) error {
					if _, err := mail.ParseAddress(strings.TrimSpace(answer)); err != nil {
						return errors.Errorf("%q is not an email address", answer)
					}
					return nil
				},
			})
			if err != nil {
				return errors.Wrap(err, "read email")
			}
			password, err := prompt.Ask("Password", &input.Options{
				Required:  true,
				Loop:      true,
				Mask:      true,
				HideOrder: true,
			})
			if err != nil {
				return errors.Wrap(err, "read password")
			}

			client, err := env.NewClient("")
			if err != nil {
				return err
			}
			token, err := client.Login(cmd.Context(), strings.TrimSpace(email), password)
			if err != nil {
				if errors.Is(err, api.ErrUnauthorized) {
					return errors.New("incorrect email or password")
				}
				return err
			}
			self, err := api.IdentityFromToken(token)
			if err != nil {
				return err
			}
			tokens := sessionTokens{file: env.Session, serverURL: env.Settings.ServerURL}
			if err := tokens.Save(token); err != nil {
				return err
			}
			log.Info().Str("user", self.ID.String()).Str("session_file", env.Session.Path()).Msg("logged in")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "logged in as user %s\n", self.ID)
			return nil
		},
	}
	cmd.Flags().String("email", "", "Email to log in with")
	return cmd
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}
			client, _, err := env.SessionClient()
			if err != nil {
				if errors.Is(err, config.ErrNoSession) {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
					return nil
				}
				return err
			}
			if err := client.Logout(cmd.Context()); err != nil {
				return err
			}
			if err := env.Session.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}
