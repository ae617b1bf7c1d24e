package command

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/spf13/cobra"
)

const maskedSecret = "********"

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the global config file",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(session.ConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			shown := *cfg
			if shown.Server.SessionCookie != "" {
				shown.Server.SessionCookie = maskedSecret
			}
			if jsonMode(cmd) {
				return writeJSON(cmd, shown)
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(shown)
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := session.ConfigPath()
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := config.Default()
			cfg.Server.BaseURL, _ = cmd.Flags().GetString("base-url")
			cfg.Server.SessionCookie, _ = cmd.Flags().GetString("cookie")
			cfg.User.ID, _ = cmd.Flags().GetString("user-id")
			cfg.User.Username, _ = cmd.Flags().GetString("username")
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	cmd.Flags().String("base-url", config.Default().Server.BaseURL, "messaging server base URL")
	cmd.Flags().String("cookie", "", "session cookie sent with every request")
	cmd.Flags().String("user-id", "", "your user id")
	cmd.Flags().String("username", "", "your username")
	return cmd
}
