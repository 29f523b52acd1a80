package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/jholhewres/penny/pkg/penny/channels"
	"github.com/jholhewres/penny/pkg/penny/channels/console"
	"github.com/jholhewres/penny/pkg/penny/copilot"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const consoleHelp = `Type a message to talk to Penny. Commands:
  /chat               start a fresh thread (thread mode only)
  /imagine <prompt>   generate an image into the media directory
  /reply <id> <text>  reply to an earlier message, starting a reply chain
  /delete <id>        delete a message
  /help               show this help
  /quit               leave`

// newConsoleCmd creates the `penny console` command: a local REPL that runs
// full turns against the generation service without Discord.
func newConsoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with Penny in the terminal",
		Long: `Chat with Penny locally. The console plays the part of Discord: it
holds one conversation, either a direct message or a thread Penny owns,
and runs every turn exactly as the bot would.

Examples:
  penny console
  penny console --dm
  penny console --media-dir ./images`,
		RunE: runConsole,
	}

	cmd.Flags().Bool("dm", false, "talk in a direct message instead of a thread")
	cmd.Flags().String("media-dir", "", "directory for generated images")
	return cmd
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	if dm, _ := cmd.Flags().GetBool("dm"); dm {
		cfg.Channels.Console.Kind = console.KindDM
	}
	if dir, _ := cmd.Flags().GetString("media-dir"); dir != "" {
		cfg.Channels.Console.MediaDir = dir
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	// Logs go to stderr, quiet unless asked for.
	logCfg := cfg.Logging
	logCfg.Format = "text"
	if !isVerbose(cmd) && logCfg.Level != "debug" {
		logCfg.Level = "warn"
	}
	logger := newLogger(logCfg, isVerbose(cmd), os.Stderr)

	copilot.ResolveSecrets(cfg, logger)

	assistant, err := copilot.New(cfg, logger)
	if err != nil {
		return err
	}

	con := console.New(cfg.Channels.Console, rl.Stdout(), logger)
	con.SetSelf(channels.User{ID: "penny", Username: cfg.Persona.Name, Bot: true})
	if err := assistant.ChannelManager().Register(con); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := assistant.Start(ctx); err != nil {
		return err
	}
	defer assistant.Stop()

	out := rl.Stdout()
	fmt.Fprintf(out, "%s %s\n", cfg.Persona.Name, describeChat(con.Chat()))
	fmt.Fprintln(out, "Type /help for commands.")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return readLoop(gctx, rl, con, out)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = rl.Close()
		return nil
	})

	return g.Wait()
}

// readLoop feeds REPL lines to the console gateway until /quit, EOF or
// cancellation.
func readLoop(ctx context.Context, rl *readline.Instance, con *console.Console, out io.Writer) error {
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		quit, err := dispatchLine(ctx, con, out, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// dispatchLine handles one REPL line and reports whether the user quit.
func dispatchLine(ctx context.Context, con *console.Console, out io.Writer, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		msg, err := con.Post(ctx, line, "")
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "(message %s)\n", msg.ID)
		return false, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(out, consoleHelp)
	case "chat":
		return false, con.Invoke(ctx, "chat", nil)
	case "imagine":
		return false, con.Invoke(ctx, "imagine", map[string]string{"prompt": rest})
	case "reply":
		id, text, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(text) == "" {
			return false, errors.New("usage: /reply <id> <text>")
		}
		msg, err := con.Post(ctx, strings.TrimSpace(text), id)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "(message %s, replying to %s)\n", msg.ID, id)
	case "delete":
		if rest == "" {
			return false, errors.New("usage: /delete <id>")
		}
		con.Delete(rest)
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", name)
	}
	return false, nil
}

func describeChat(chat channels.ChannelInfo) string {
	if chat.Kind == channels.KindDirectMessage {
		return "is in your direct messages."
	}
	return fmt.Sprintf("is in the thread %q.", chat.Name)
}

// historyFile keeps REPL history in the user's cache directory.
func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "penny")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return filepath.Join(dir, "console_history")
}
