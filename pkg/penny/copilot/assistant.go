// Package copilot implements the Penny assistant: it classifies incoming
// messages, rebuilds a bounded transcript from gateway history, asks the
// generation service to continue it, posts the reply and names the threads
// it owns.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jholhewres/penny/pkg/penny/channels"
)

// Assistant is the main orchestrator. It holds no conversation state; every
// turn is rebuilt from the gateway.
type Assistant struct {
	config     *Config
	channelMgr *channels.Manager
	llm        Generator

	history  *HistoryCollector
	renderer *Renderer
	prompts  *PromptAssembler
	namer    *ThreadNamer

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// loops tracks the dispatch loops, turns the per-event goroutines.
	loops sync.WaitGroup
	turns sync.WaitGroup

	// renaming holds the IDs of threads with a naming call in flight.
	renaming sync.Map
}

// Turn is everything one handled message needs, built fresh per event.
type Turn struct {
	ID      string
	Gateway channels.Gateway
	Self    channels.User
	Message *channels.Message
	Channel *channels.ChannelInfo
	Mode    Mode
	Logger  *slog.Logger
}

// New creates an assistant with a generation client built from cfg.API.
func New(cfg *Config, logger *slog.Logger) (*Assistant, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.normalize()

	prompts, err := NewPromptAssembler(cfg.Persona, cfg.Timezone, cfg.TimezoneLabel)
	if err != nil {
		return nil, err
	}

	logger = logger.With("component", "copilot")
	return &Assistant{
		config:     cfg,
		channelMgr: channels.NewManager(logger),
		llm:        NewLLMClient(cfg.API, logger),
		history:    NewHistoryCollector(cfg.HistoryLimit, logger),
		renderer:   NewRenderer(cfg.Persona.Name, logger),
		prompts:    prompts,
		namer:      NewThreadNamer(cfg.ThreadName, cfg.RenameAfterTurns),
		logger:     logger,
	}, nil
}

// SetGenerator replaces the generation client. Must be called before Start.
func (a *Assistant) SetGenerator(g Generator) {
	a.llm = g
}

// ChannelManager returns the channel manager for registering channels.
func (a *Assistant) ChannelManager() *channels.Manager {
	return a.channelMgr
}

// Config returns the assistant configuration.
func (a *Assistant) Config() *Config {
	return a.config
}

// Start connects the channels, publishes slash commands and begins
// dispatching events.
func (a *Assistant) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.logger.Info("starting Penny",
		"persona", a.config.Persona.Name,
		"model", a.config.API.Model,
		"thread_name", a.config.ThreadName,
	)

	if err := a.channelMgr.Start(a.ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	specs := CommandSpecs()
	for _, ch := range a.channelMgr.List() {
		cc, ok := ch.(channels.CommandChannel)
		if !ok || !ch.IsConnected() {
			continue
		}
		if err := cc.RegisterCommands(a.ctx, specs); err != nil {
			a.logger.Warn("failed to register commands", "channel", ch.Name(), "error", err)
		}
	}

	a.loops.Add(2)
	go func() {
		defer a.loops.Done()
		a.messageLoop()
	}()
	go func() {
		defer a.loops.Done()
		a.commandLoop()
	}()

	a.logger.Info("Penny started")
	return nil
}

// Stop cancels in-flight turns, disconnects the channels and waits for
// every goroutine to finish.
func (a *Assistant) Stop() {
	a.logger.Info("stopping Penny...")

	if a.cancel != nil {
		a.cancel()
	}
	a.channelMgr.Stop()
	a.loops.Wait()
	a.turns.Wait()

	a.logger.Info("Penny stopped")
}

func (a *Assistant) messageLoop() {
	for msg := range a.channelMgr.Messages() {
		a.turns.Add(1)
		go func(m *channels.IncomingMessage) {
			defer a.turns.Done()
			a.handleMessage(a.ctx, m)
		}(msg)
	}
}

func (a *Assistant) commandLoop() {
	for evt := range a.channelMgr.Commands() {
		a.turns.Add(1)
		go func(e *channels.CommandEvent) {
			defer a.turns.Done()
			a.handleCommand(a.ctx, e)
		}(evt)
	}
}

// handleMessage classifies one event and runs a turn for it. Failures end
// the turn; they never escape it.
func (a *Assistant) handleMessage(ctx context.Context, in *channels.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic in message handler",
				"channel", in.Channel, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if in == nil || in.Message == nil || in.Chat == nil {
		return
	}

	ch, ok := a.channelMgr.Channel(in.Channel)
	if !ok {
		a.logger.Warn("message from unknown channel", "channel", in.Channel)
		return
	}
	gw, ok := ch.(channels.Gateway)
	if !ok {
		a.logger.Debug("channel cannot host conversations", "channel", in.Channel)
		return
	}

	self := gw.Self()
	mode := Classify(in.Message, in.Chat, self.ID)
	if mode == ModeNone {
		a.logger.Debug("message not addressed to assistant",
			"channel", in.Channel, "chat_id", in.Chat.ID, "msg_id", in.Message.ID)
		return
	}

	id := uuid.NewString()
	turn := &Turn{
		ID:      id,
		Gateway: gw,
		Self:    self,
		Message: in.Message,
		Channel: in.Chat,
		Mode:    mode,
		Logger: a.logger.With(
			"turn_id", id,
			"channel", in.Channel,
			"chat_id", in.Chat.ID,
			"msg_id", in.Message.ID,
			"mode", mode.String(),
		),
	}
	a.runTurn(ctx, turn)
}

func (a *Assistant) runTurn(ctx context.Context, t *Turn) {
	start := time.Now()
	t.Logger.Info("turn started", "author", t.Message.Author.Username)

	if p, ok := t.Gateway.(channels.PresenceChannel); ok {
		if err := p.SendTyping(ctx, t.Channel.ID); err != nil {
			t.Logger.Debug("typing indicator failed", "error", err)
		}
	}

	history, err := a.history.Collect(ctx, t.Gateway, t.Message, t.Channel, t.Mode)
	if err != nil {
		t.Logger.Warn("history unavailable, dropping turn", "error", err)
		return
	}

	prompt := a.buildPrompt(ctx, t, history)

	text, err := a.llm.Complete(ctx, prompt.String(), a.config.Reply.withStop(StopSequence))
	if err != nil {
		t.Logger.Error("reply generation failed", "kind", ErrorKind(err).String(), "error", err)
		t.Logger.Debug("failed prompt", "prompt", prompt.String())
		return
	}
	if text == "" {
		t.Logger.Debug("empty reply, nothing sent")
		return
	}

	out := &channels.OutgoingMessage{Content: text}
	if t.Mode == ModeMentionReply {
		out.ReplyTo = t.Message.ID
	}
	if _, err := t.Gateway.Send(ctx, t.Channel.ID, out); err != nil {
		t.Logger.Error("failed to send reply", "error", err)
		return
	}

	t.Logger.Info("reply sent",
		"history", len(history),
		"reply_len", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if !a.namer.ShouldRename(t.Channel, t.Self.ID, len(history)+1) {
		return
	}
	// Concurrent turns in one thread all see the default name; only the
	// first one names it.
	if _, busy := a.renaming.LoadOrStore(t.Channel.ID, struct{}{}); busy {
		t.Logger.Debug("thread naming already in flight")
		return
	}
	defer a.renaming.Delete(t.Channel.ID)
	a.renameThread(ctx, t, prompt.WithResponse(text))
}

// buildPrompt renders history and assembles the reply prompt.
func (a *Assistant) buildPrompt(ctx context.Context, t *Turn, history []*channels.Message) *Prompt {
	lines := a.renderer.Render(ctx, t.Gateway, t.Self.ID, t.Channel, history)

	scene := Scene{
		Mode:      t.Mode,
		Channel:   t.Channel,
		Timestamp: t.Message.Timestamp,
	}
	if t.Mode == ModeDirectMessage {
		scene.UserLabel = a.renderer.UserLabel(ctx, t.Gateway, t.Self.ID, t.Channel, t.Message.Author)
	}
	return a.prompts.Assemble(scene, lines)
}

// renameThread asks for a thread name and applies it. A refused rename is
// apologised for in the thread.
func (a *Assistant) renameThread(ctx context.Context, t *Turn, prompt *Prompt) {
	naming := prompt.NamingPrompt()
	params := a.config.Naming
	for _, s := range namingStops {
		params = params.withStop(s)
	}

	raw, err := a.llm.Complete(ctx, naming, params)
	if err != nil {
		t.Logger.Error("thread name generation failed", "kind", ErrorKind(err).String(), "error", err)
		t.Logger.Debug("failed prompt", "prompt", naming)
		return
	}

	name := CleanName(raw)
	if name == "" {
		t.Logger.Debug("empty thread name, rename skipped")
		return
	}

	// The name may have changed while the completion ran.
	if current, err := t.Gateway.FetchChannel(ctx, t.Channel.ID); err == nil && current.Name != t.Channel.Name {
		t.Logger.Debug("thread renamed meanwhile, rename skipped", "name", current.Name)
		return
	}

	err = t.Gateway.RenameChannel(ctx, t.Channel.ID, name)
	switch {
	case err == nil:
		t.Logger.Info("thread renamed", "name", name)
	case errors.Is(err, channels.ErrPermissionDenied):
		t.Logger.Warn("not allowed to rename thread", "error", err)
		apology := &channels.OutgoingMessage{Content: "Apologies, I do not have permission to rename this thread."}
		if _, err := t.Gateway.Send(ctx, t.Channel.ID, apology); err != nil {
			t.Logger.Error("failed to send apology", "error", err)
		}
	default:
		t.Logger.Error("failed to rename thread", "error", err)
	}
}
