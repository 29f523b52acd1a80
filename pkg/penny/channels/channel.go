// Package channels defines the interfaces and types Penny uses to talk to a
// messaging gateway. Each gateway (Discord, the local console) implements
// Channel plus whichever capability interfaces it supports, so the assistant
// never type-checks concrete SDK objects.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType separates ordinary chat messages from structural ones
// (joins, pins, thread-created notices, command stubs).
type MessageType string

const (
	MessageDefault MessageType = "default"
	MessageSystem  MessageType = "system"
)

// ChannelKind is the tag of the channel variant.
type ChannelKind string

const (
	KindDirectMessage ChannelKind = "dm"
	KindGuildText     ChannelKind = "guild_text"
	KindGuildThread   ChannelKind = "guild_thread"
)

// Channel defines the interface that every messaging gateway must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord", "console").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send posts a message and returns it as the platform stored it.
	Send(ctx context.Context, to string, message *OutgoingMessage) (*Message, error)

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus

	// Self returns the assistant's own account. Only valid after Connect.
	Self() User
}

// HistoryChannel exposes read access to past messages and channel metadata.
type HistoryChannel interface {
	Channel

	// FetchRecent returns up to limit messages, newest first.
	FetchRecent(ctx context.Context, channelID string, limit int) ([]*Message, error)

	// FetchMessage returns a single message or ErrMessageNotFound.
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)

	// FetchChannel returns channel metadata or ErrChannelNotFound.
	FetchChannel(ctx context.Context, channelID string) (*ChannelInfo, error)
}

// DirectoryChannel resolves guild members for display names.
type DirectoryChannel interface {
	Channel

	// Member returns the guild member for userID or ErrMemberNotFound.
	Member(ctx context.Context, guildID, userID string) (*Member, error)
}

// ThreadChannel creates and renames threads.
type ThreadChannel interface {
	Channel

	// CreateThread opens a public thread under parentID.
	CreateThread(ctx context.Context, parentID, name string) (*ChannelInfo, error)

	// RenameChannel changes the channel name. Returns ErrPermissionDenied
	// when the platform refuses.
	RenameChannel(ctx context.Context, channelID, name string) error
}

// PresenceChannel extends Channel with typing indicators.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the channel.
	SendTyping(ctx context.Context, to string) error
}

// MediaChannel extends Channel with file uploads.
type MediaChannel interface {
	Channel

	// SendMedia sends a file attachment to the channel.
	SendMedia(ctx context.Context, to string, media *MediaMessage) (*Message, error)
}

// CommandChannel extends Channel with slash commands.
type CommandChannel interface {
	Channel

	// RegisterCommands publishes the command set to the platform.
	RegisterCommands(ctx context.Context, specs []CommandSpec) error

	// Commands returns a Go channel that emits command invocations.
	Commands() <-chan *CommandEvent
}

// Gateway is everything a chat turn needs from a channel.
type Gateway interface {
	HistoryChannel
	DirectoryChannel
	ThreadChannel
}

// User is an account on the platform.
type User struct {
	ID         string
	Username   string
	GlobalName string
	Bot        bool
}

// Mention returns the platform mention token for the user.
func (u User) Mention() string { return "<@" + u.ID + ">" }

// Member is a user as seen inside one guild.
type Member struct {
	User User

	// Nick is the guild-specific nickname, empty when unset.
	Nick string
}

// MessageReference points at the message a reply answers.
type MessageReference struct {
	MessageID string
	ChannelID string
}

// Message is a chat message as delivered by a gateway. Read-only to the core.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Author    User
	Content   string
	Timestamp time.Time
	Type      MessageType

	// Reference is set when the message replies to another message.
	Reference *MessageReference

	// Mentions lists the IDs of users mentioned in the message.
	Mentions []string
}

// IsOrdinary reports whether the message is a regular chat message.
func (m *Message) IsOrdinary() bool { return m != nil && m.Type == MessageDefault }

// Mentioned reports whether userID is in the mention set.
func (m *Message) Mentioned(userID string) bool {
	for _, id := range m.Mentions {
		if id == userID {
			return true
		}
	}
	return false
}

// ChannelInfo describes where a message lives.
type ChannelInfo struct {
	ID      string
	Name    string
	Topic   string
	Kind    ChannelKind
	GuildID string

	// OwnerID is the creator of a thread; empty for other kinds.
	OwnerID string

	// ParentID is the parent text channel of a thread.
	ParentID string

	// Recipient is the other party of a direct-message channel.
	Recipient *User
}

// IsThread reports whether the channel is a guild thread.
func (c *ChannelInfo) IsThread() bool { return c != nil && c.Kind == KindGuildThread }

// OwnedBy reports whether the channel is a thread created by userID.
func (c *ChannelInfo) OwnedBy(userID string) bool {
	return c.IsThread() && c.OwnerID != "" && c.OwnerID == userID
}

// Mention returns the platform mention token for the channel.
func (c *ChannelInfo) Mention() string { return "<#" + c.ID + ">" }

// IncomingMessage is a message event received from a gateway.
type IncomingMessage struct {
	// Channel identifies the source gateway (e.g. "discord").
	Channel string

	// Message is the message that triggered the event.
	Message *Message

	// Chat is the channel the message was posted in.
	Chat *ChannelInfo
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string
}

// MediaMessage represents a file to be sent.
type MediaMessage struct {
	// Data is the raw file bytes.
	Data []byte

	// Filename is the name shown to users.
	Filename string

	// MimeType is the MIME type (e.g. "image/png").
	MimeType string

	// Caption is the text accompanying the file.
	Caption string

	// Description is the alt text of the attachment.
	Description string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrMessageNotFound     = errors.New("message not found")
	ErrChannelNotFound     = errors.New("channel not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrNotSupported        = errors.New("operation not supported by this channel")
)
