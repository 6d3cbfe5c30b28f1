package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskdesk/taskdesk/internal/cli/config"
)

// NewInitCmd creates the init command
func NewInitCmd(rt *Runtime) *cobra.Command {
	var alias string

	cmd := &cobra.Command{
		Use:   "init <server-url>",
		Short: "Add a taskdesk server to ./taskdesk.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rt, args[0], alias)
		},
	}

	cmd.Flags().StringVar(&alias, "alias", "", "Name for the server (default: production, then server-N)")
	return cmd
}

func runInit(rt *Runtime, serverURL, alias string) error {
	server := config.Server{URL: strings.TrimRight(serverURL, "/"), Alias: alias}
	if err := server.Validate(); err != nil {
		return err
	}

	currentDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	configPath := filepath.Join(currentDir, config.ConfigFileName)

	cfg := &config.Config{Servers: []config.Server{}}
	isNewConfig := true
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load existing config: %w", err)
		}
		isNewConfig = false
		fmt.Fprintf(rt.Out, "Found existing %s\n", config.ConfigFileName)
	}

	if existing, err := cfg.GetServerByURLOrAlias(server.URL); err == nil {
		fmt.Fprintf(rt.Out, "Server %s already exists in %s as %s\n", server.URL, config.ConfigFileName, existing.Alias)
		return nil
	}

	if server.Alias == "" {
		if len(cfg.Servers) == 0 {
			server.Alias = "production"
		} else {
			server.Alias = fmt.Sprintf("server-%d", len(cfg.Servers)+1)
		}
	}
	if _, err := cfg.GetServerByAlias(server.Alias); err == nil {
		return fmt.Errorf("alias %q is already used in %s", server.Alias, config.ConfigFileName)
	}

	cfg.Servers = append(cfg.Servers, server)
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}

	if isNewConfig {
		fmt.Fprintf(rt.Out, "✓ Created ./%s with server %s (%s)\n", config.ConfigFileName, server.URL, server.Alias)
	} else {
		fmt.Fprintf(rt.Out, "✓ Added server %s (%s) to ./%s\n", server.URL, server.Alias, config.ConfigFileName)
	}

	fmt.Fprintln(rt.Out, "\nNext steps:")
	fmt.Fprintln(rt.Out, "  Run 'taskdesk login' to authenticate")
	return nil
}
