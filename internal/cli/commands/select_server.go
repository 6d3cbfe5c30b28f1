package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskdesk/taskdesk/internal/cli/config"
	"github.com/taskdesk/taskdesk/internal/cli/userconfig"
)

// NewSelectServerCmd creates the select-server command
func NewSelectServerCmd(rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select-server [url-or-alias]",
		Short: "Select the server to use for commands",
		Long: `Select the server to use for commands.

If no param is provided, an interactive prompt will be shown.

Examples:
  $ taskdesk select-server                          # Interactive selection
  $ taskdesk select-server https://api.taskdesk.io  # Select by URL
  $ taskdesk select-server production               # Select by alias`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var urlOrAlias string
			if len(args) > 0 {
				urlOrAlias = args[0]
			}
			return runSelectServer(rt, urlOrAlias)
		},
	}

	return cmd
}

func runSelectServer(rt *Runtime, urlOrAlias string) error {
	cfg, err := config.LoadFromCurrentDir()
	if err != nil {
		return fmt.Errorf("failed to load config: %w\nRun 'taskdesk init' to create a configuration file", err)
	}

	var server *config.Server
	if urlOrAlias != "" {
		server, err = cfg.GetServerByURLOrAlias(urlOrAlias)
	} else {
		server, err = rt.Prompt(cfg)
	}
	if err != nil {
		return err
	}

	if err := userconfig.SetSelectedServer(server.URL); err != nil {
		return fmt.Errorf("failed to save selected server: %w", err)
	}

	fmt.Fprintf(rt.Out, "Selected server: %s (%s)\n", server.Alias, server.URL)
	return nil
}
