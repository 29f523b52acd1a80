package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/jholhewres/penny/pkg/penny/copilot"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// envFile receives secrets when the OS keyring is unavailable or declined.
const envFile = ".env"

// newSetupCmd creates the `penny setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Asks for the API key, the Discord bot token and a few essentials,
then writes penny.yaml. Secrets go to the OS keyring when available and to
.env otherwise; they are never written to the config file.

Examples:
  penny setup
  penny setup --output ./configs/penny.yaml`,
		RunE: runSetup,
	}

	cmd.Flags().StringP("output", "o", "penny.yaml", "where to write the configuration")
	return cmd
}

// setupAnswers holds what the wizard collects.
type setupAnswers struct {
	APIKey       string
	BaseURL      string
	Model        string
	DiscordToken string
	ThreadName   string
	UseKeyring   bool
}

func runSetup(cmd *cobra.Command, _ []string) error {
	output, _ := cmd.Flags().GetString("output")
	cfg := copilot.DefaultConfig()

	answers := setupAnswers{
		Model:      cfg.API.Model,
		ThreadName: cfg.ThreadName,
		UseKeyring: copilot.KeyringAvailable(),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Penny setup").
				Description("Penny needs an OpenAI-compatible API key and a Discord bot token."),
			huh.NewInput().
				Title("API key").
				Description("Used for completions and images.").
				EchoMode(huh.EchoModePassword).
				Validate(required("an API key")).
				Value(&answers.APIKey),
			huh.NewInput().
				Title("API base URL").
				Description("Leave empty for api.openai.com.").
				Value(&answers.BaseURL),
			huh.NewInput().
				Title("Completion model").
				Value(&answers.Model),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				Description("Leave empty to use only the console.").
				EchoMode(huh.EchoModePassword).
				Value(&answers.DiscordToken),
			huh.NewInput().
				Title("Default thread name").
				Description("Threads keep this name until Penny picks a better one.").
				Validate(required("a thread name")).
				Value(&answers.ThreadName),
			huh.NewConfirm().
				Title("Store secrets in the OS keyring?").
				Description("Otherwise they are written to .env.").
				Value(&answers.UseKeyring),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return fmt.Errorf("setup form: %w", err)
	}

	applyAnswers(cfg, answers)

	if err := storeSecrets(answers); err != nil {
		return err
	}
	if err := copilot.SaveConfigToFile(cfg, output); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Configuration saved to %s.\n", output)
	fmt.Println("Start the bot with: penny serve")
	fmt.Println("Or try it locally:  penny console")
	return nil
}

// applyAnswers copies wizard answers into cfg. Secrets are written as env
// references; the values themselves live in the keyring or .env.
func applyAnswers(cfg *copilot.Config, a setupAnswers) {
	cfg.API.APIKey = "${OPENAI_API_KEY}"
	cfg.API.BaseURL = strings.TrimSpace(a.BaseURL)
	if m := strings.TrimSpace(a.Model); m != "" {
		cfg.API.Model = m
	}
	if a.DiscordToken != "" {
		cfg.Channels.Discord.Token = "${DISCORD_TOKEN}"
	}
	cfg.ThreadName = strings.TrimSpace(a.ThreadName)
}

// storeSecrets saves the secrets to the OS keyring, falling back to .env.
func storeSecrets(a setupAnswers) error {
	secrets := map[string]string{copilot.KeyringAPIKey: a.APIKey}
	if a.DiscordToken != "" {
		secrets[copilot.KeyringDiscordToken] = a.DiscordToken
	}

	if a.UseKeyring {
		stored := true
		for key, value := range secrets {
			if err := copilot.StoreKeyring(key, value); err != nil {
				fmt.Printf("   [!] Keyring unavailable (%v), falling back to %s\n", err, envFile)
				stored = false
				break
			}
		}
		if stored {
			fmt.Println("Secrets stored in the OS keyring.")
			return nil
		}
	}

	env, err := godotenv.Read(envFile)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", envFile, err)
	}
	if env == nil {
		env = make(map[string]string)
	}
	env["OPENAI_API_KEY"] = a.APIKey
	if a.DiscordToken != "" {
		env["DISCORD_TOKEN"] = a.DiscordToken
	}
	if err := godotenv.Write(env, envFile); err != nil {
		return fmt.Errorf("writing %s: %w", envFile, err)
	}
	if err := os.Chmod(envFile, 0o600); err != nil {
		return fmt.Errorf("restricting %s: %w", envFile, err)
	}
	fmt.Printf("Secrets written to %s.\n", envFile)
	return nil
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}
