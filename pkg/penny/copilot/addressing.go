package copilot

import "github.com/jholhewres/penny/pkg/penny/channels"

// Mode is how a message addresses the assistant. It selects the history
// strategy of the turn.
type Mode int

const (
	// ModeNone means the message is not for the assistant.
	ModeNone Mode = iota

	// ModeDirectMessage is any message in a one-to-one channel.
	ModeDirectMessage

	// ModeOwnedThread is any message in a thread the assistant created.
	ModeOwnedThread

	// ModeMentionReply is an explicit mention anywhere else.
	ModeMentionReply
)

func (m Mode) String() string {
	switch m {
	case ModeDirectMessage:
		return "direct_message"
	case ModeOwnedThread:
		return "owned_thread"
	case ModeMentionReply:
		return "mention_reply"
	default:
		return "none"
	}
}

// usesWindow reports whether the mode reads recent channel history rather
// than a reply chain.
func (m Mode) usesWindow() bool {
	return m == ModeDirectMessage || m == ModeOwnedThread
}

// Classify decides whether msg, posted in ch, is addressed to the assistant
// whose account ID is selfID. The first matching rule wins.
func Classify(msg *channels.Message, ch *channels.ChannelInfo, selfID string) Mode {
	switch {
	case msg == nil || ch == nil:
		return ModeNone
	case msg.Author.ID == selfID:
		return ModeNone
	case !msg.IsOrdinary():
		return ModeNone
	case ch.Kind == channels.KindDirectMessage:
		return ModeDirectMessage
	case ch.OwnedBy(selfID):
		return ModeOwnedThread
	case msg.Mentioned(selfID):
		return ModeMentionReply
	default:
		return ModeNone
	}
}
