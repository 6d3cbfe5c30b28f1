package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskdesk/taskdesk/internal/client"
)

// NewGetCmd creates the get command
func NewGetCmd(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Perform an authenticated GET and print the response",
		Long: `Perform an authenticated GET against the selected server and print the
response body. An expired access token is refreshed transparently.

Examples:
  $ taskdesk get /api/projects
  $ taskdesk get /api/me`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}

			a, _, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.Client.Do(cmd.Context(), &client.Request{Method: http.MethodGet, Path: path})
			if err != nil {
				return explainSessionError(err)
			}

			var out bytes.Buffer
			if err := json.Indent(&out, resp.Body, "", "  "); err != nil {
				// Not JSON, print as is
				out.Reset()
				out.Write(resp.Body)
			}
			fmt.Fprintln(rt.Out, strings.TrimRight(out.String(), "\n"))
			return nil
		},
	}
}
