package main

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/palaver/cmd/palaver/cmds"
	"github.com/go-go-golems/palaver/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:           "palaver",
	Short:         "palaver is a terminal client for one-to-one chat",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// settings and logging can only be set up once flags are parsed
		env, err := cmds.NewEnv(cmd)
		if err != nil {
			return err
		}
		cmd.SetContext(cmds.WithEnv(cmd.Context(), env))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if env, ok := cmds.EnvFrom(cmd.Context()); ok {
			_ = env.Close()
		}
	},
}

func main() {
	config.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewLoginCommand(),
		cmds.NewLogoutCommand(),
		cmds.NewUsersCommand(),
		cmds.NewHistoryCommand(),
		cmds.NewSendCommand(),
		cmds.NewTailCommand(),
		cmds.NewJournalCommand(),
	)

	err := rootCmd.Execute()
	cobra.CheckErr(err)
}
