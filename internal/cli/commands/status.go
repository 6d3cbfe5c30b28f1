package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskdesk/taskdesk/internal/session"
)

// NewStatusCmd creates the status command. It only looks at the local
// session and never contacts the server.
func NewStatusCmd(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the locally stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, server, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			cur := a.Store.Current()
			fmt.Fprintf(rt.Out, "Server: %s (%s)\n", server.Alias, server.URL)
			if !cur.Authenticated() {
				fmt.Fprintln(rt.Out, "Session: not logged in")
				return nil
			}

			fmt.Fprintln(rt.Out, "Session: logged in")
			if cur.User != nil {
				fmt.Fprintf(rt.Out, "  User: %s (%s)\n", cur.User.Name, cur.User.Email)
			}
			printTokenExpiry(rt, cur.AccessToken, time.Now())
			return nil
		},
	}
}

func printTokenExpiry(rt *Runtime, token string, now time.Time) {
	claims, ok := session.ParseClaims(token)
	if !ok || claims.ExpiresAt.IsZero() {
		fmt.Fprintln(rt.Out, "  Access token: opaque")
		return
	}
	if claims.Expired(now) {
		fmt.Fprintf(rt.Out, "  Access token: expired %s ago (refreshed on next request)\n", now.Sub(claims.ExpiresAt).Round(time.Second))
		return
	}
	fmt.Fprintf(rt.Out, "  Access token: valid for %s\n", claims.ExpiresAt.Sub(now).Round(time.Second))
}
