package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jholhewres/penny/pkg/penny/channels/discord"
	"github.com/jholhewres/penny/pkg/penny/copilot"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the graceful stop of the assistant.
const shutdownTimeout = 10 * time.Second

// newServeCmd creates the `penny serve` command that runs the Discord bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start chatting",
		Long: `Start Penny as a Discord bot. She answers direct messages, every
message in the threads she created, and mentions anywhere else.

Credentials are read from the OS keyring, the environment
(OPENAI_API_KEY, DISCORD_TOKEN), a .env file or the config file.

Examples:
  penny serve
  penny serve --config ./penny.yaml -v`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	logger := newLogger(cfg.Logging, isVerbose(cmd), os.Stdout)
	if configPath != "" {
		logger.Info("config loaded", "path", configPath)
	}

	// ── Resolve secrets ──
	copilot.ResolveSecrets(cfg, logger)
	if cfg.Channels.Discord.Token == "" || copilot.IsEnvReference(cfg.Channels.Discord.Token) {
		return errors.New("no Discord token configured: run `penny setup` or set DISCORD_TOKEN")
	}

	// ── Create assistant ──
	assistant, err := copilot.New(cfg, logger)
	if err != nil {
		return err
	}

	dc := discord.New(cfg.Channels.Discord, logger)
	if err := assistant.ChannelManager().Register(dc); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := assistant.Start(ctx); err != nil {
		return err
	}

	// ── Wait for shutdown ──
	logger.Info("Penny running. Press Ctrl+C to stop.",
		"persona", cfg.Persona.Name,
		"thread_name", cfg.ThreadName,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		assistant.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
	}
	return nil
}
