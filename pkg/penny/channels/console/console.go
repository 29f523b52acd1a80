// Package console implements an in-memory gateway driven from a terminal.
// It keeps one conversation (a direct message or a bot-owned thread) for the
// life of the process and writes everything the assistant posts to an
// io.Writer, so the full turn pipeline can run without Discord.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/penny/pkg/penny/channels"
)

// Kind selects the shape of the console conversation.
type Kind string

const (
	KindDM     Kind = "dm"
	KindThread Kind = "thread"
)

// Config holds console channel configuration.
type Config struct {
	// Username is the name the local user chats under.
	Username string `yaml:"username"`

	// Kind is "dm" or "thread".
	Kind Kind `yaml:"kind"`

	// ThreadName is the initial name of the thread in thread mode.
	ThreadName string `yaml:"thread_name"`

	// Topic is the thread topic in thread mode.
	Topic string `yaml:"topic"`

	// MediaDir is where uploaded files are written. Defaults to the OS temp dir.
	MediaDir string `yaml:"media_dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Username:   "you",
		Kind:       KindThread,
		ThreadName: "pennythread",
	}
}

const guildID = "console"

// Console is the in-memory gateway.
type Console struct {
	cfg    Config
	out    io.Writer
	logger *slog.Logger

	self channels.User
	user channels.User

	messages chan *channels.IncomingMessage
	commands chan *channels.CommandEvent

	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	nextID    atomic.Int64

	mu      sync.Mutex
	chat    channels.ChannelInfo
	history []*channels.Message
}

// New creates a console gateway that writes assistant output to out.
func New(cfg Config, out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = os.Stdout
	}
	if cfg.Username == "" {
		cfg.Username = "you"
	}
	c := &Console{
		cfg:      cfg,
		out:      out,
		logger:   logger.With("component", "console"),
		self:     channels.User{ID: "penny", Username: "Penny", Bot: true},
		user:     channels.User{ID: "user", Username: cfg.Username},
		messages: make(chan *channels.IncomingMessage, 16),
		commands: make(chan *channels.CommandEvent, 4),
	}
	c.chat = c.initialChat()
	return c
}

func (c *Console) initialChat() channels.ChannelInfo {
	if c.cfg.Kind == KindDM {
		u := c.user
		return channels.ChannelInfo{ID: "dm", Kind: channels.KindDirectMessage, Recipient: &u}
	}
	return channels.ChannelInfo{
		ID:       "thread-" + c.newID(),
		Name:     c.cfg.ThreadName,
		Topic:    c.cfg.Topic,
		Kind:     channels.KindGuildThread,
		GuildID:  guildID,
		OwnerID:  c.self.ID,
		ParentID: "parent",
	}
}

// SetSelf overrides the assistant account, e.g. to match the persona name.
func (c *Console) SetSelf(u channels.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = u
	if c.chat.Kind == channels.KindGuildThread {
		c.chat.OwnerID = u.ID
	}
}

// User returns the local user account.
func (c *Console) User() channels.User { return c.user }

// Chat returns a snapshot of the current conversation channel.
func (c *Console) Chat() channels.ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat
}

// ---------- Channel Interface ----------

func (c *Console) Name() string { return "console" }

func (c *Console) Connect(_ context.Context) error {
	c.connected.Store(true)
	c.logger.Info("Salutations! Logged in as "+c.Self().Username, "id", c.Self().ID)
	return nil
}

func (c *Console) Disconnect() error {
	c.connected.Store(false)
	return nil
}

func (c *Console) Self() channels.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Send appends the message to the conversation and prints it.
func (c *Console) Send(_ context.Context, to string, message *channels.OutgoingMessage) (*channels.Message, error) {
	if !c.connected.Load() {
		return nil, channels.ErrChannelDisconnected
	}
	if err := c.checkChannel(to); err != nil {
		return nil, err
	}
	msg := c.store(c.Self(), message.Content, message.ReplyTo)
	fmt.Fprintf(c.out, "<%s> %s\n", msg.Author.Username, msg.Content)
	return msg, nil
}

func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

func (c *Console) IsConnected() bool { return c.connected.Load() }

func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	c.mu.Lock()
	n := len(c.history)
	c.mu.Unlock()
	return channels.HealthStatus{
		Connected:     c.connected.Load(),
		LastMessageAt: lastAt,
		Details:       map[string]any{"messages": n},
	}
}

// ---------- Local input ----------

// Post records a message from the local user and emits it as an event.
// replyTo may name an earlier message ID to start a reply chain.
func (c *Console) Post(ctx context.Context, content, replyTo string) (*channels.Message, error) {
	if !c.connected.Load() {
		return nil, channels.ErrChannelDisconnected
	}
	var mentions []string
	self := c.Self()
	if strings.Contains(content, self.Mention()) || strings.Contains(strings.ToLower(content), "@"+strings.ToLower(self.Username)) {
		mentions = append(mentions, self.ID)
	}
	msg := c.store(c.user, content, replyTo, mentions...)
	chat := c.Chat()

	c.lastMsg.Store(time.Now())
	select {
	case c.messages <- &channels.IncomingMessage{Channel: c.Name(), Message: msg, Chat: &chat}:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delete removes a message from history; later lookups report it missing.
func (c *Console) Delete(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.history {
		if m.ID == messageID {
			c.history = append(c.history[:i], c.history[i+1:]...)
			return
		}
	}
}

// Invoke emits a slash-command invocation from the local user.
func (c *Console) Invoke(ctx context.Context, name string, options map[string]string) error {
	chat := c.Chat()
	evt := &channels.CommandEvent{
		Channel:   c.Name(),
		Name:      name,
		Options:   options,
		User:      c.user,
		Chat:      &chat,
		Responder: &responder{console: c},
	}
	select {
	case c.commands <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------- HistoryChannel Interface ----------

func (c *Console) FetchRecent(_ context.Context, channelID string, limit int) ([]*channels.Message, error) {
	if err := c.checkChannel(channelID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*channels.Message, 0, limit)
	for i := len(c.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.history[i])
	}
	return out, nil
}

func (c *Console) FetchMessage(_ context.Context, channelID, messageID string) (*channels.Message, error) {
	if err := c.checkChannel(channelID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.history {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("console: fetch message %s: %w", messageID, channels.ErrMessageNotFound)
}

func (c *Console) FetchChannel(_ context.Context, channelID string) (*channels.ChannelInfo, error) {
	if err := c.checkChannel(channelID); err != nil {
		return nil, err
	}
	chat := c.Chat()
	return &chat, nil
}

// ---------- DirectoryChannel Interface ----------

func (c *Console) Member(_ context.Context, guild, userID string) (*channels.Member, error) {
	if guild != guildID {
		return nil, channels.ErrMemberNotFound
	}
	switch self := c.Self(); userID {
	case self.ID:
		return &channels.Member{User: self}, nil
	case c.user.ID:
		return &channels.Member{User: c.user}, nil
	}
	return nil, channels.ErrMemberNotFound
}

// ---------- ThreadChannel Interface ----------

// CreateThread replaces the current conversation with a fresh thread.
func (c *Console) CreateThread(_ context.Context, parentID, name string) (*channels.ChannelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chat = channels.ChannelInfo{
		ID:       "thread-" + c.newID(),
		Name:     name,
		Kind:     channels.KindGuildThread,
		GuildID:  guildID,
		OwnerID:  c.self.ID,
		ParentID: parentID,
	}
	c.history = nil
	fmt.Fprintf(c.out, "* thread %q created\n", name)
	chat := c.chat
	return &chat, nil
}

func (c *Console) RenameChannel(_ context.Context, channelID, name string) error {
	if err := c.checkChannel(channelID); err != nil {
		return err
	}
	c.mu.Lock()
	c.chat.Name = name
	c.mu.Unlock()
	fmt.Fprintf(c.out, "* thread renamed to %q\n", name)
	return nil
}

// ---------- PresenceChannel / MediaChannel ----------

func (c *Console) SendTyping(_ context.Context, _ string) error {
	return nil
}

// SendMedia writes the file to MediaDir and prints its path.
func (c *Console) SendMedia(_ context.Context, to string, media *channels.MediaMessage) (*channels.Message, error) {
	if err := c.checkChannel(to); err != nil {
		return nil, err
	}
	path, err := c.writeMedia(media)
	if err != nil {
		return nil, err
	}
	msg := c.store(c.Self(), media.Caption, "")
	fmt.Fprintf(c.out, "<%s> %s [%s]\n", msg.Author.Username, media.Caption, path)
	return msg, nil
}

// ---------- CommandChannel Interface ----------

func (c *Console) RegisterCommands(_ context.Context, specs []channels.CommandSpec) error {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, "/"+s.Name)
	}
	c.logger.Debug("console commands available", "commands", strings.Join(names, " "))
	return nil
}

func (c *Console) Commands() <-chan *channels.CommandEvent { return c.commands }

// ---------- Helpers ----------

func (c *Console) newID() string {
	return strconv.FormatInt(c.nextID.Add(1), 10)
}

func (c *Console) checkChannel(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.chat.ID {
		return fmt.Errorf("console: %s: %w", id, channels.ErrChannelNotFound)
	}
	return nil
}

func (c *Console) store(author channels.User, content, replyTo string, mentions ...string) *channels.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := &channels.Message{
		ID:        c.newID(),
		ChannelID: c.chat.ID,
		GuildID:   c.chat.GuildID,
		Author:    author,
		Content:   content,
		Timestamp: time.Now(),
		Type:      channels.MessageDefault,
		Mentions:  mentions,
	}
	if replyTo != "" {
		msg.Reference = &channels.MessageReference{MessageID: replyTo, ChannelID: c.chat.ID}
	}
	c.history = append(c.history, msg)
	return msg
}

func (c *Console) writeMedia(media *channels.MediaMessage) (string, error) {
	dir := c.cfg.MediaDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := filepath.Base(media.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "file"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, media.Data, 0o600); err != nil {
		return "", fmt.Errorf("console: writing media: %w", err)
	}
	return path, nil
}

// responder answers console command invocations on the output writer.
type responder struct {
	console *Console
}

func (r *responder) Respond(_ context.Context, content string, ephemeral bool) error {
	prefix := ""
	if ephemeral {
		prefix = "(only you) "
	}
	fmt.Fprintf(r.console.out, "%s%s\n", prefix, content)
	return nil
}

func (r *responder) Defer(_ context.Context) error {
	fmt.Fprintf(r.console.out, "%s is thinking...\n", r.console.Self().Username)
	return nil
}

func (r *responder) FollowUp(ctx context.Context, content string, media *channels.MediaMessage) error {
	if media == nil {
		return r.Respond(ctx, content, false)
	}
	m := *media
	m.Caption = content
	_, err := r.console.SendMedia(ctx, r.console.Chat().ID, &m)
	return err
}

// Compile-time interface verification.
var (
	_ channels.Gateway          = (*Console)(nil)
	_ channels.PresenceChannel  = (*Console)(nil)
	_ channels.MediaChannel     = (*Console)(nil)
	_ channels.CommandChannel   = (*Console)(nil)
	_ channels.CommandResponder = (*responder)(nil)
)
