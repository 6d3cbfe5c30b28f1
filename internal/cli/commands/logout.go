package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session on the selected server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, server, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			// The local session is gone either way
			if err := a.Auth.Logout(cmd.Context()); err != nil {
				fmt.Fprintf(rt.Err, "Warning: %v\n", err)
			}
			fmt.Fprintf(rt.Out, "✓ Logged out of %s\n", server.Alias)
			return nil
		},
	}
}
