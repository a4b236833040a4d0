package cmds

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/palaver/pkg/api"
)

type userRow struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Self bool   `json:"self" yaml:"self"`
}

func NewUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List the users you can chat with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}
			client, self, err := env.SessionClient()
			if err != nil {
				return err
			}
			users, err := client.ListUsers(cmd.Context())
			if err != nil {
				return err
			}

			value := lo.Map(users, func(u api.User, _ int) userRow {
				return userRow{ID: u.ID.String(), Name: u.Name, Self: u.ID == self.ID}
			})
			cells := lo.Map(value, func(u userRow, _ int) []string {
				marker := ""
				if u.Self {
					marker = "*"
				}
				return []string{u.ID, u.Name, marker}
			})
			return writeRows(cmd, cmd.OutOrStdout(), rows{headers: []string{"id", "name", "self"}, cells: cells, value: value})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

type messageRow struct {
	SenderID    string `json:"sender_id" yaml:"sender_id"`
	RecipientID string `json:"recipient_id,omitempty" yaml:"recipient_id,omitempty"`
	Mine        bool   `json:"mine" yaml:"mine"`
	Content     string `json:"content" yaml:"content"`
	CreatedAt   string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Print the conversation with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}
			client, self, err := env.SessionClient()
			if err != nil {
				return err
			}
			messages, err := client.History(cmd.Context(), api.ID(args[0]))
			if err != nil {
				return err
			}
			if limit, _ := cmd.Flags().GetInt("last"); limit > 0 && len(messages) > limit {
				messages = messages[len(messages)-limit:]
			}

			value := lo.Map(messages, func(m api.Message, _ int) messageRow {
				return messageRow{
					SenderID:    m.SenderID.String(),
					RecipientID: m.RecipientID.String(),
					Mine:        m.SenderID == self.ID,
					Content:     m.Content,
					CreatedAt:   m.CreatedAt,
				}
			})
			cells := lo.Map(value, func(m messageRow, _ int) []string {
				who := m.SenderID
				if m.Mine {
					who = "you"
				}
				return []string{who, m.Content}
			})
			return writeRows(cmd, cmd.OutOrStdout(), rows{headers: []string{"from", "content"}, cells: cells, value: value})
		},
	}
	cmd.Flags().Int("last", 0, "Only print the last N messages")
	addOutputFlag(cmd)
	return cmd
}

func NewSendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <user-id> <text>...",
		Short: "Send a message to a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}
			client, _, err := env.SessionClient()
			if err != nil {
				return err
			}
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return errors.New("message is empty")
			}
			return client.Send(cmd.Context(), api.OutboundMessage{RecipientID: api.ID(args[0]), Content: text})
		},
	}
}

func NewTailCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tail <user-id>",
		Short: "Print messages from a user's live channel as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := mustEnv(cmd)
			if err != nil {
				return err
			}
			client, _, err := env.SessionClient()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dialer, closer, err := env.NewDialer(ctx, client)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			ch, err := dialer.Dial(ctx, api.ID(args[0]))
			if err != nil {
				return err
			}
			defer func() { _ = ch.Close() }()

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case m, ok := <-ch.Events():
					if !ok {
						log.Info().Str("partner", args[0]).Msg("live channel ended")
						return nil
					}
					_, _ = fmt.Fprintf(out, "%s: %s\n", m.SenderID, m.Content)
				}
			}
		},
	}
}
