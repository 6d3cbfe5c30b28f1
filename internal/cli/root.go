package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskdesk/taskdesk/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the taskdesk command tree on rt
func NewRootCmd(rt *commands.Runtime) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "taskdesk",
		Short: "taskdesk - command line client for the taskdesk API",
		Long: `taskdesk CLI - Sign in to a taskdesk server and call its API.

The session is stored locally (file, OS keyring, Redis or SQLite, see
TASKDESK_SESSION_BACKEND) and expired access tokens are refreshed
transparently.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(rt.Out)
	rootCmd.SetErr(rt.Err)

	rootCmd.PersistentFlags().StringVarP(&rt.ServerAlias, "server", "s", "", "Server alias from taskdesk.json")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(rt.Out, "taskdesk version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewInitCmd(rt))
	rootCmd.AddCommand(commands.NewSelectServerCmd(rt))
	rootCmd.AddCommand(commands.NewLoginCmd(rt))
	rootCmd.AddCommand(commands.NewLogoutCmd(rt))
	rootCmd.AddCommand(commands.NewWhoamiCmd(rt))
	rootCmd.AddCommand(commands.NewStatusCmd(rt))
	rootCmd.AddCommand(commands.NewGetCmd(rt))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rt := commands.NewRuntime()
	if err := NewRootCmd(rt).Execute(); err != nil {
		fmt.Fprintf(rt.Err, "Error: %v\n", err)
		return err
	}
	return nil
}
