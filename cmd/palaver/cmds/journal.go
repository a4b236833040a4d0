package cmds

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/palaver/pkg/journal"
)

func openJournal(cmd *cobra.Command) (*journal.SQLiteJournal, error) {
	env, err := mustEnv(cmd)
	if err != nil {
		return nil, err
	}
	j, err := env.OpenJournal()
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, errors.New("the journal is disabled, set --journal to a file")
	}
	return j, nil
}

func NewJournalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal [user-id]",
		Short: "Show the local journal of chat activity, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			partner := ""
			if len(args) == 1 {
				partner = args[0]
			}
			limit, _ := cmd.Flags().GetInt("limit")
			events, err := j.List(cmd.Context(), partner, limit)
			if err != nil {
				return err
			}
			cells := lo.Map(events, func(e journal.Event, _ int) []string {
				return []string{
					e.CreatedAt.Local().Format(time.DateTime),
					string(e.Kind),
					e.PartnerID,
					e.SenderID,
					e.Content,
					e.Error,
				}
			})
			return writeRows(cmd, cmd.OutOrStdout(), rows{
				headers: []string{"at", "kind", "partner", "sender", "content", "error"},
				cells:   cells,
				value:   events,
			})
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum number of events, 0 for all")
	addOutputFlag(cmd)

	activity := &cobra.Command{
		Use:   "activity",
		Short: "Per-user totals of journaled events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			rollup, err := j.Activity(cmd.Context())
			if err != nil {
				return err
			}
			cells := lo.Map(rollup, func(a journal.Activity, _ int) []string {
				return []string{
					a.PartnerID,
					strconv.Itoa(a.Events),
					strconv.Itoa(a.Inbound),
					strconv.Itoa(a.Outbound),
					strconv.Itoa(a.Failed),
					a.LastSeen.Local().Format(time.DateTime),
				}
			})
			return writeRows(cmd, cmd.OutOrStdout(), rows{
				headers: []string{"partner", "events", "inbound", "outbound", "failed", "last seen"},
				cells:   cells,
				value:   rollup,
			})
		},
	}
	addOutputFlag(activity)
	cmd.AddCommand(activity)
	return cmd
}
