package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewWhoamiCmd creates the whoami command. It gates on the session guard the
// way a protected view does, then asks the server who we are.
func NewWhoamiCmd(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user of the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, server, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			decision, err := a.Guard.Check(cmd.Context())
			if err != nil {
				return err
			}
			if !decision.Authenticated {
				return fmt.Errorf("not logged in to %s. Please run 'taskdesk login' first", server.Alias)
			}

			user, err := a.Auth.Me(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to fetch current user: %w", explainSessionError(err))
			}

			fmt.Fprintf(rt.Out, "%s (%s)\n", user.Name, user.Email)
			if user.Role != "" {
				fmt.Fprintf(rt.Out, "  Role:   %s\n", user.Role)
			}
			fmt.Fprintf(rt.Out, "  Server: %s (%s)\n", server.Alias, server.URL)
			return nil
		},
	}
}
