package copilot

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jholhewres/penny/pkg/penny/channels"
	"golang.org/x/text/unicode/norm"
)

// Transcript delimiters. A line is "<Label>\nBody"; lines are separated by a
// blank line. The reply stop sequence is derived from the same constants so
// the model stops before speaking as anyone else.
const (
	labelOpen  = "<"
	labelClose = ">"
	lineBreak  = "\n"
	turnBreak  = lineBreak + lineBreak
)

// StopSequence halts a completion at the start of the next speaker label.
const StopSequence = lineBreak + labelOpen

// fallbackLabel is used when an author has no usable name at all.
const fallbackLabel = "Someone"

// mentionPattern matches user, role and channel mention tokens.
var mentionPattern = regexp.MustCompile(`<(@!?|@&|#)([\w-]+)>`)

// RenderedLine is one message as it appears in a transcript.
type RenderedLine struct {
	Label string
	Body  string
}

func (l RenderedLine) String() string {
	return labelOpen + l.Label + labelClose + lineBreak + l.Body
}

// Transcript joins rendered lines with a blank line between each.
func Transcript(lines []RenderedLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.String()
	}
	return strings.Join(parts, turnBreak)
}

// Renderer turns messages into transcript lines.
type Renderer struct {
	persona string
	logger  *slog.Logger
}

// NewRenderer creates a renderer that labels the assistant's own messages
// with persona.
func NewRenderer(persona string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{persona: sanitizeLabel(persona), logger: logger}
}

// Render renders msgs, posted in ch, as seen by the assistant selfID.
// Display names are looked up through gw and memoised for this call only.
func (r *Renderer) Render(ctx context.Context, gw channels.Gateway, selfID string, ch *channels.ChannelInfo, msgs []*channels.Message) []RenderedLine {
	res := r.newResolver(gw, selfID, ch, msgs)

	lines := make([]RenderedLine, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, RenderedLine{
			Label: res.authorLabel(ctx, m.Author),
			Body:  res.cleanContent(ctx, m.Content),
		})
	}
	return lines
}

// UserLabel returns the label of u in ch without rendering a message.
func (r *Renderer) UserLabel(ctx context.Context, gw channels.Gateway, selfID string, ch *channels.ChannelInfo, u channels.User) string {
	return r.newResolver(gw, selfID, ch, nil).authorLabel(ctx, u)
}

func (r *Renderer) newResolver(gw channels.Gateway, selfID string, ch *channels.ChannelInfo, msgs []*channels.Message) *nameResolver {
	res := &nameResolver{
		gw:       gw,
		selfID:   selfID,
		persona:  r.persona,
		known:    make(map[string]channels.User),
		names:    make(map[string]string),
		channels: make(map[string]string),
		logger:   r.logger,
	}
	if ch != nil {
		res.guildID = ch.GuildID
		if ch.Recipient != nil {
			res.known[ch.Recipient.ID] = *ch.Recipient
		}
		if ch.Name != "" {
			res.channels[ch.ID] = ch.Name
		}
	}
	for _, m := range msgs {
		res.known[m.Author.ID] = m.Author
	}
	return res
}

// nameResolver resolves display names for a single render.
type nameResolver struct {
	gw      channels.Gateway
	selfID  string
	persona string
	guildID string
	logger  *slog.Logger

	known    map[string]channels.User
	names    map[string]string
	channels map[string]string
}

func (n *nameResolver) authorLabel(ctx context.Context, u channels.User) string {
	if u.ID != "" && u.ID == n.selfID {
		return n.persona
	}
	if label := sanitizeLabel(n.displayName(ctx, u)); label != "" {
		return label
	}
	if label := sanitizeLabel(u.Username); label != "" {
		return label
	}
	return fallbackLabel
}

// displayName is nickname, global name, username inside a guild when the
// member lookup succeeds, and the username otherwise.
func (n *nameResolver) displayName(ctx context.Context, u channels.User) string {
	if name, ok := n.names[u.ID]; ok {
		return name
	}

	name := u.Username
	if n.guildID != "" && n.gw != nil {
		m, err := n.gw.Member(ctx, n.guildID, u.ID)
		switch {
		case err == nil && m.Nick != "":
			name = m.Nick
		case err == nil && m.User.GlobalName != "":
			name = m.User.GlobalName
		case err == nil && m.User.Username != "":
			name = m.User.Username
		case err != nil:
			n.logger.Debug("member lookup failed, using username", "user_id", u.ID, "error", err)
		}
	}
	n.names[u.ID] = name
	return name
}

// cleanContent replaces mention tokens with readable names and trims.
func (n *nameResolver) cleanContent(ctx context.Context, content string) string {
	out := mentionPattern.ReplaceAllStringFunc(content, func(tok string) string {
		sub := mentionPattern.FindStringSubmatch(tok)
		kind, id := sub[1], sub[2]
		switch kind {
		case "@&":
			return "@role"
		case "#":
			return "#" + n.channelName(ctx, id)
		default:
			return "@" + n.mentionName(ctx, id)
		}
	})
	return strings.TrimSpace(out)
}

func (n *nameResolver) mentionName(ctx context.Context, id string) string {
	if id == n.selfID {
		return n.persona
	}
	u, ok := n.known[id]
	if !ok {
		u = channels.User{ID: id}
	}
	if name := sanitizeLabel(n.displayName(ctx, u)); name != "" {
		return name
	}
	return "unknown-user"
}

func (n *nameResolver) channelName(ctx context.Context, id string) string {
	if name, ok := n.channels[id]; ok {
		return name
	}
	name := "deleted-channel"
	if n.gw != nil {
		if info, err := n.gw.FetchChannel(ctx, id); err == nil && info.Name != "" {
			name = info.Name
		}
	}
	n.channels[id] = name
	return name
}

// sanitizeLabel normalises a display name so it cannot break the line
// format: NFKC, newlines folded to spaces, label delimiters removed.
func sanitizeLabel(s string) string {
	s = norm.NFKC.String(s)
	s = strings.NewReplacer(
		"\r\n", " ",
		"\n", " ",
		"\r", " ",
		labelOpen, "",
		labelClose, "",
	).Replace(s)
	return strings.TrimSpace(s)
}
