package channels

import "context"

// CommandOptionKind is the value type of a slash-command option.
type CommandOptionKind string

const (
	OptionString CommandOptionKind = "string"
)

// CommandOption describes one argument of a slash command.
type CommandOption struct {
	Name        string
	Description string
	Kind        CommandOptionKind
	Required    bool
}

// CommandSpec describes a slash command to publish on a gateway.
type CommandSpec struct {
	Name        string
	Description string
	Options     []CommandOption

	// GuildOnly hides the command from direct messages.
	GuildOnly bool
}

// CommandEvent is a slash-command invocation.
type CommandEvent struct {
	// Channel identifies the source gateway.
	Channel string

	// Name is the invoked command.
	Name string

	// Options holds the option values by name.
	Options map[string]string

	// User is the invoking user.
	User User

	// Chat is the channel the command was invoked in.
	Chat *ChannelInfo

	// Responder answers the invocation.
	Responder CommandResponder
}

// Option returns the named option value, or "" when absent.
func (e *CommandEvent) Option(name string) string {
	if e.Options == nil {
		return ""
	}
	return e.Options[name]
}

// CommandResponder answers a slash-command invocation.
type CommandResponder interface {
	// Respond sends the initial answer. Ephemeral answers are only visible
	// to the invoking user.
	Respond(ctx context.Context, content string, ephemeral bool) error

	// Defer acknowledges the invocation; a FollowUp must come later.
	Defer(ctx context.Context) error

	// FollowUp completes a deferred invocation, optionally with a file.
	FollowUp(ctx context.Context, content string, media *MediaMessage) error
}
