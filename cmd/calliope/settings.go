package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/calliope/internal/config"
	"github.com/zulandar/calliope/internal/db"
	"github.com/zulandar/calliope/internal/settings"
	"golang.org/x/term"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage stored settings and secrets",
		Long:  "Settings live in the database and override the config file. Use them to keep the bot token and other secrets out of calliope.yaml.",
	}

	cmd.AddCommand(newSettingsGetCmd())
	cmd.AddCommand(newSettingsSetCmd())
	cmd.AddCommand(newSettingsListCmd())
	cmd.AddCommand(newSettingsDeleteCmd())
	return cmd
}

func newSettingsGetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(configPath)
			if err != nil {
				return err
			}
			return settingsGet(cmd.OutOrStdout(), store, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Calliope config file")
	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	var (
		configPath string
		prompt     bool
	)

	cmd := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a setting",
		Long:  "Stores a key/value pair. With --prompt the value is read from the terminal without echo, keeping secrets out of shell history.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := resolveSetValue(cmd, args, prompt)
			if err != nil {
				return err
			}
			store, err := openStore(configPath)
			if err != nil {
				return err
			}
			return settingsSet(cmd.OutOrStdout(), store, args[0], value)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Calliope config file")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "read the value from the terminal without echo")
	return cmd
}

func newSettingsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all stored settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(configPath)
			if err != nil {
				return err
			}
			return settingsList(cmd.OutOrStdout(), store)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Calliope config file")
	return cmd
}

func newSettingsDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a stored setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(configPath)
			if err != nil {
				return err
			}
			return settingsDelete(cmd.OutOrStdout(), store, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Calliope config file")
	return cmd
}

// openStore loads the config and opens the settings store behind it.
func openStore(configPath string) (*settings.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg.DB.Driver, cfg.DB.Path, cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return settings.NewStore(gdb)
}

// resolveSetValue picks the value from the argument list or, with --prompt,
// reads it from the terminal without echo.
func resolveSetValue(cmd *cobra.Command, args []string, prompt bool) (string, error) {
	if prompt {
		if len(args) > 1 {
			return "", fmt.Errorf("settings: give either a value argument or --prompt, not both")
		}
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("settings: --prompt needs an interactive terminal")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Value for %s: ", args[0])
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("settings: read value: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	if len(args) < 2 {
		return "", fmt.Errorf("settings: a value argument is required (or use --prompt)")
	}
	return args[1], nil
}

func settingsGet(out io.Writer, store *settings.Store, key string) error {
	value, err := store.Get(key)
	if errors.Is(err, settings.ErrNotFound) {
		return fmt.Errorf("settings: %q is not set", key)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, value)
	return nil
}

func settingsSet(out io.Writer, store *settings.Store, key, value string) error {
	if err := store.Set(key, value); err != nil {
		return err
	}
	fmt.Fprintf(out, "Set %s\n", key)
	return nil
}

func settingsList(out io.Writer, store *settings.Store) error {
	rows, err := store.All()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No settings stored.")
		return nil
	}
	for _, row := range rows {
		fmt.Fprintf(out, "%s = %s\n", row.Key, maskSecret(row.Key, row.Value))
	}
	return nil
}

func settingsDelete(out io.Writer, store *settings.Store, key string) error {
	if err := store.Delete(key); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %s\n", key)
	return nil
}

// maskSecret hides the bulk of credential-looking values in listings.
func maskSecret(key, value string) string {
	lower := strings.ToLower(key)
	if !strings.Contains(lower, "token") && !strings.Contains(lower, "secret") && !strings.Contains(lower, "key") {
		return value
	}
	if len(value) <= 4 {
		return "****"
	}
	return value[:4] + strings.Repeat("*", len(value)-4)
}
