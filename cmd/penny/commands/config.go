package commands

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jholhewres/penny/pkg/penny/copilot"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `penny config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration and manage stored secrets",
		Long: `Inspect the effective configuration and manage the secrets kept in
the OS keyring.

Examples:
  penny config show
  penny config set-key api_key
  penny config delete-key discord_token`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			copilot.ResolveSecrets(cfg, newLogger(copilot.LoggingConfig{Level: "error", Format: "text"}, false, os.Stderr))

			cfg.API.APIKey = maskSecret(cfg.API.APIKey)
			cfg.Channels.Discord.Token = maskSecret(cfg.Channels.Discord.Token)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			if path == "" {
				path = "(defaults and environment)"
			}
			fmt.Printf("# source: %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-key <" + strings.Join(copilot.KeyringKeys, "|") + ">",
		Short:     "Store a secret in the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: copilot.KeyringKeys,
		RunE: func(_ *cobra.Command, args []string) error {
			key := args[0]
			if !slices.Contains(copilot.KeyringKeys, key) {
				return fmt.Errorf("unknown key %q, expected one of %s", key, strings.Join(copilot.KeyringKeys, ", "))
			}
			if !copilot.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available on this system")
			}

			value, err := readSecret(fmt.Sprintf("Enter %s: ", key))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := copilot.StoreKeyring(key, value); err != nil {
				return fmt.Errorf("storing %s: %w", key, err)
			}
			fmt.Printf("%s stored in the OS keyring.\n", key)
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete-key <" + strings.Join(copilot.KeyringKeys, "|") + ">",
		Short:     "Remove a secret from the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: copilot.KeyringKeys,
		RunE: func(_ *cobra.Command, args []string) error {
			if err := copilot.DeleteKeyring(args[0]); err != nil {
				return fmt.Errorf("deleting %s: %w", args[0], err)
			}
			fmt.Printf("%s removed from the OS keyring.\n", args[0])
			return nil
		},
	}
}

// readSecret prompts without echo on a terminal and reads one line from
// piped stdin otherwise.
func readSecret(prompt string) (string, error) {
	if copilot.IsInteractive() {
		value, err := copilot.ReadPassword(prompt)
		return strings.TrimSpace(value), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// maskSecret keeps the last four characters of a secret.
func maskSecret(s string) string {
	switch {
	case s == "" || copilot.IsEnvReference(s):
		return s
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
