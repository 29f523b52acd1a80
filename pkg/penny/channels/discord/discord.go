// Package discord implements the Discord gateway for Penny using discordgo.
//
// Features:
//   - Message events for guild channels, threads and DMs
//   - History, single-message and channel lookups for transcript building
//   - Guild member lookups for display names
//   - Thread creation and renaming
//   - Typing indicators and file uploads
//   - Slash commands (see commands.go)
//   - Guild and channel allowlists
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/penny/pkg/penny/channels"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// IgnoreBots drops messages authored by other bots.
	IgnoreBots bool `yaml:"ignore_bots"`

	// SendTyping sends "typing..." indicators while a reply is generated.
	SendTyping bool `yaml:"send_typing"`

	// ThreadArchiveMinutes is the auto-archive duration of created threads.
	ThreadArchiveMinutes int `yaml:"thread_archive_minutes"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		IgnoreBots:           true,
		SendTyping:           true,
		ThreadArchiveMinutes: 1440,
	}
}

// Discord implements channels.Gateway, channels.PresenceChannel,
// channels.MediaChannel and channels.CommandChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the channel for incoming messages forwarded to the assistant.
	messages chan *channels.IncomingMessage

	// commands is the channel for slash-command invocations.
	commands chan *channels.CommandEvent

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	self channels.User

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
		commands: make(chan *channels.CommandEvent, 64),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	user := session.State.User
	d.mu.Lock()
	d.session = session
	d.self = toUser(user)
	d.mu.Unlock()
	d.connected.Store(true)

	d.logger.Info("Salutations! Logged in as "+user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if s := d.getSession(); s != nil {
		if err := s.Close(); err != nil {
			return fmt.Errorf("discord: closing gateway: %w", err)
		}
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Self returns the bot account.
func (d *Discord) Self() channels.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.self
}

// Send sends a text message, splitting it at Discord's length limit. The
// returned message carries the full content so callers can treat a split
// reply as one turn.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) (*channels.Message, error) {
	s := d.getSession()
	if s == nil {
		return nil, channels.ErrChannelDisconnected
	}

	var first *discordgo.Message
	for i, chunk := range splitDiscordMessage(message.Content, maxMessageLen) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo, ChannelID: to}
		}
		sent, err := s.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx))
		if err != nil {
			d.errorCount.Add(1)
			return nil, fmt.Errorf("discord: send: %w", classifyRESTError(err))
		}
		if first == nil {
			first = sent
		}
	}
	if first == nil {
		return nil, fmt.Errorf("discord: send: empty message")
	}

	out := toMessage(first)
	out.Content = message.Content
	return out, nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// ---------- HistoryChannel Interface ----------

// FetchRecent returns up to limit messages of a channel, newest first.
func (d *Discord) FetchRecent(ctx context.Context, channelID string, limit int) ([]*channels.Message, error) {
	s := d.getSession()
	if s == nil {
		return nil, channels.ErrChannelDisconnected
	}
	msgs, err := s.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetch history: %w", classifyRESTError(err))
	}
	out := make([]*channels.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return out, nil
}

// FetchMessage returns a single message.
func (d *Discord) FetchMessage(ctx context.Context, channelID, messageID string) (*channels.Message, error) {
	s := d.getSession()
	if s == nil {
		return nil, channels.ErrChannelDisconnected
	}
	m, err := s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		err = classifyRESTError(err)
		if errors.Is(err, channels.ErrChannelNotFound) {
			err = channels.ErrMessageNotFound
		}
		return nil, fmt.Errorf("discord: fetch message %s: %w", messageID, err)
	}
	return toMessage(m), nil
}

// FetchChannel returns channel metadata, preferring the state cache.
func (d *Discord) FetchChannel(ctx context.Context, channelID string) (*channels.ChannelInfo, error) {
	s := d.getSession()
	if s == nil {
		return nil, channels.ErrChannelDisconnected
	}
	ch, err := d.lookupChannel(ctx, s, channelID)
	if err != nil {
		return nil, err
	}
	return toChannelInfo(ch), nil
}

// ---------- DirectoryChannel Interface ----------

// Member returns a guild member, preferring the state cache.
func (d *Discord) Member(ctx context.Context, guildID, userID string) (*channels.Member, error) {
	s := d.getSession()
	if s == nil {
		return nil, channels.ErrChannelDisconnected
	}
	if guildID == "" {
		return nil, channels.ErrMemberNotFound
	}
	m, err := s.State.Member(guildID, userID)
	if err != nil {
		m, err = s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			err = classifyRESTError(err)
			if errors.Is(err, channels.ErrChannelNotFound) {
				err = channels.ErrMemberNotFound
			}
			return nil, fmt.Errorf("discord: fetch member: %w", err)
		}
	}
	return &channels.Member{User: toUser(m.User), Nick: m.Nick}, nil
}

// ---------- ThreadChannel Interface ----------

// CreateThread opens a public thread in parentID.
func (d *Discord) CreateThread(ctx context.Context, parentID, name string) (*channels.ChannelInfo, error) {
	s := d.getSession()
	if s == nil {
		return nil, channels.ErrChannelDisconnected
	}
	th, err := s.ThreadStartComplex(parentID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: d.cfg.ThreadArchiveMinutes,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: create thread: %w", classifyRESTError(err))
	}
	return toChannelInfo(th), nil
}

// RenameChannel changes a channel's name.
func (d *Discord) RenameChannel(ctx context.Context, channelID, name string) error {
	s := d.getSession()
	if s == nil {
		return channels.ErrChannelDisconnected
	}
	if _, err := s.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: rename channel: %w", classifyRESTError(err))
	}
	return nil
}

// ---------- PresenceChannel Interface ----------

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	s := d.getSession()
	if s == nil || !d.cfg.SendTyping {
		return nil
	}
	return s.ChannelTyping(to, discordgo.WithContext(ctx))
}

// ---------- MediaChannel Interface ----------

// SendMedia uploads a file to the channel.
func (d *Discord) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) (*channels.Message, error) {
	s := d.getSession()
	if s == nil {
		return nil, channels.ErrChannelDisconnected
	}
	if len(media.Data) == 0 {
		return nil, fmt.Errorf("discord: no media data")
	}
	sent, err := s.ChannelMessageSendComplex(to, &discordgo.MessageSend{
		Content: media.Caption,
		Files:   []*discordgo.File{toFile(media)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: send media: %w", classifyRESTError(err))
	}
	return toMessage(sent), nil
}

// ---------- Event Handlers ----------

// onMessageCreate handles incoming Discord messages. Addressing decisions
// belong to the assistant; only platform-level filters apply here.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	if d.cfg.IgnoreBots && m.Author.Bot && m.Author.ID != s.State.User.ID {
		return
	}
	if !d.allowed(m.GuildID, m.ChannelID) {
		return
	}

	ch, err := d.lookupChannel(d.ctx, s, m.ChannelID)
	if err != nil {
		d.errorCount.Add(1)
		d.logger.Warn("discord: channel lookup failed, dropping message",
			"channel_id", m.ChannelID, "msg_id", m.ID, "error", err)
		return
	}

	incoming := &channels.IncomingMessage{
		Channel: d.Name(),
		Message: toMessage(m.Message),
		Chat:    toChannelInfo(ch),
	}

	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", m.ID)
	}
}

// ---------- Helpers ----------

func (d *Discord) getSession() *discordgo.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

// allowed applies the guild and channel allowlists.
func (d *Discord) allowed(guildID, channelID string) bool {
	if len(d.cfg.AllowedGuilds) > 0 && guildID != "" && !contains(d.cfg.AllowedGuilds, guildID) {
		return false
	}
	if len(d.cfg.AllowedChannels) > 0 && !contains(d.cfg.AllowedChannels, channelID) {
		return false
	}
	return true
}

func (d *Discord) lookupChannel(ctx context.Context, s *discordgo.Session, channelID string) (*discordgo.Channel, error) {
	if ch, err := s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ch, err := s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetch channel: %w", classifyRESTError(err))
	}
	return ch, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// toUser converts a discordgo user.
func toUser(u *discordgo.User) channels.User {
	if u == nil {
		return channels.User{}
	}
	return channels.User{
		ID:         u.ID,
		Username:   u.Username,
		GlobalName: u.GlobalName,
		Bot:        u.Bot,
	}
}

// toMessage converts a discordgo message. Replies count as ordinary messages.
func toMessage(m *discordgo.Message) *channels.Message {
	out := &channels.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Author:    toUser(m.Author),
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Type:      channels.MessageSystem,
	}
	if m.Type == discordgo.MessageTypeDefault || m.Type == discordgo.MessageTypeReply {
		out.Type = channels.MessageDefault
	}
	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		out.Reference = &channels.MessageReference{MessageID: ref.MessageID, ChannelID: ref.ChannelID}
		if out.Reference.ChannelID == "" {
			out.Reference.ChannelID = m.ChannelID
		}
	}
	for _, u := range m.Mentions {
		if u != nil {
			out.Mentions = append(out.Mentions, u.ID)
		}
	}
	return out
}

// channelKind maps discordgo channel types onto the three variants.
func channelKind(t discordgo.ChannelType) channels.ChannelKind {
	switch t {
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		return channels.KindDirectMessage
	case discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return channels.KindGuildThread
	default:
		return channels.KindGuildText
	}
}

func toChannelInfo(ch *discordgo.Channel) *channels.ChannelInfo {
	info := &channels.ChannelInfo{
		ID:       ch.ID,
		Name:     ch.Name,
		Topic:    ch.Topic,
		Kind:     channelKind(ch.Type),
		GuildID:  ch.GuildID,
		OwnerID:  ch.OwnerID,
		ParentID: ch.ParentID,
	}
	if info.Kind == channels.KindDirectMessage && len(ch.Recipients) > 0 {
		u := toUser(ch.Recipients[0])
		info.Recipient = &u
	}
	return info
}

func toFile(media *channels.MediaMessage) *discordgo.File {
	name := media.Filename
	if name == "" {
		name = "file"
	}
	return &discordgo.File{
		Name:        name,
		ContentType: media.MimeType,
		Reader:      bytes.NewReader(media.Data),
	}
}

// classifyRESTError maps Discord HTTP failures onto the channels sentinels.
func classifyRESTError(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return err
	}
	switch restErr.Response.StatusCode {
	case http.StatusForbidden:
		return fmt.Errorf("%w: %v", channels.ErrPermissionDenied, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", channels.ErrChannelNotFound, err)
	default:
		return err
	}
}

// splitDiscordMessage splits a message into chunks respecting maxLen.
func splitDiscordMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		// Try to split at a newline.
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
			cutAt--
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var (
	_ channels.Gateway         = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
	_ channels.MediaChannel    = (*Discord)(nil)
	_ channels.CommandChannel  = (*Discord)(nil)
)
