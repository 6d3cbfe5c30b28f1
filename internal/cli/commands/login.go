package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdesk/taskdesk/internal/cli/userconfig"
	"github.com/taskdesk/taskdesk/internal/client"
)

// NewLoginCmd creates the login command
func NewLoginCmd(rt *Runtime) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with a taskdesk server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, rt, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set TASKDESK_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set TASKDESK_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(cmd *cobra.Command, rt *Runtime, email, password string) error {
	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = os.Getenv("TASKDESK_EMAIL")
	}
	if password == "" {
		password = os.Getenv("TASKDESK_PASSWORD")
	}

	a, server, err := rt.openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if email == "" {
		email = userconfig.LastEmail(server.URL)
	}
	if email == "" {
		return fmt.Errorf("email is required (use --email flag or TASKDESK_EMAIL env var)")
	}

	if password == "" {
		if rt.ReadPassword == nil {
			return fmt.Errorf("password is required in non-interactive mode (use --password flag or TASKDESK_PASSWORD env var)")
		}
		fmt.Fprint(rt.Out, "Password: ")
		p, err := rt.ReadPassword()
		fmt.Fprintln(rt.Out)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = p
	}

	fmt.Fprintf(rt.Out, "Logging in to %s (%s) as %s...\n", server.Alias, server.URL, email)

	user, err := a.Auth.Login(cmd.Context(), email, password)
	if err != nil {
		var verr *client.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("login failed: %s", verr.Error())
		}
		return fmt.Errorf("login failed: %w", err)
	}

	if err := userconfig.RememberEmail(server.URL, email); err != nil {
		fmt.Fprintf(rt.Err, "Warning: failed to save user config: %v\n", err)
	}

	fmt.Fprintln(rt.Out, "✓ Login successful!")
	if user != nil {
		fmt.Fprintf(rt.Out, "  User: %s (%s)\n", user.Name, user.Email)
		if user.Role != "" {
			fmt.Fprintf(rt.Out, "  Role: %s\n", user.Role)
		}
	}
	return nil
}
