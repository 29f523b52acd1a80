package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
	"github.com/jholhewres/penny/pkg/penny/channels"
)

func TestToMessage(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "m2",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "hi <@bot>",
		Timestamp: ts,
		Type:      discordgo.MessageTypeReply,
		Author:    &discordgo.User{ID: "u1", Username: "alice", GlobalName: "Alice"},
		Mentions:  []*discordgo.User{{ID: "bot"}, nil},
		MessageReference: &discordgo.MessageReference{
			MessageID: "m1",
		},
	}

	got := toMessage(m)
	want := &channels.Message{
		ID:        "m2",
		ChannelID: "c1",
		GuildID:   "g1",
		Author:    channels.User{ID: "u1", Username: "alice", GlobalName: "Alice"},
		Content:   "hi <@bot>",
		Timestamp: ts,
		Type:      channels.MessageDefault,
		Reference: &channels.MessageReference{MessageID: "m1", ChannelID: "c1"},
		Mentions:  []string{"bot"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("toMessage mismatch (-want +got):\n%s", diff)
	}
}

func TestToMessageTypes(t *testing.T) {
	tests := []struct {
		typ  discordgo.MessageType
		want channels.MessageType
	}{
		{discordgo.MessageTypeDefault, channels.MessageDefault},
		{discordgo.MessageTypeReply, channels.MessageDefault},
		{discordgo.MessageTypeGuildMemberJoin, channels.MessageSystem},
		{discordgo.MessageTypeThreadCreated, channels.MessageSystem},
		{discordgo.MessageTypeChannelPinnedMessage, channels.MessageSystem},
	}
	for _, tt := range tests {
		got := toMessage(&discordgo.Message{Type: tt.typ}).Type
		if got != tt.want {
			t.Errorf("type %d: got %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestChannelKind(t *testing.T) {
	tests := []struct {
		typ  discordgo.ChannelType
		want channels.ChannelKind
	}{
		{discordgo.ChannelTypeDM, channels.KindDirectMessage},
		{discordgo.ChannelTypeGroupDM, channels.KindDirectMessage},
		{discordgo.ChannelTypeGuildText, channels.KindGuildText},
		{discordgo.ChannelTypeGuildNews, channels.KindGuildText},
		{discordgo.ChannelTypeGuildPublicThread, channels.KindGuildThread},
		{discordgo.ChannelTypeGuildPrivateThread, channels.KindGuildThread},
	}
	for _, tt := range tests {
		if got := channelKind(tt.typ); got != tt.want {
			t.Errorf("channelKind(%d) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestToChannelInfoDMRecipient(t *testing.T) {
	info := toChannelInfo(&discordgo.Channel{
		ID:         "dm1",
		Type:       discordgo.ChannelTypeDM,
		Recipients: []*discordgo.User{{ID: "u1", Username: "alice"}},
	})
	if info.Recipient == nil || info.Recipient.Username != "alice" {
		t.Fatalf("Recipient = %+v, want alice", info.Recipient)
	}

	thread := toChannelInfo(&discordgo.Channel{
		ID:       "t1",
		Name:     "pennythread",
		Type:     discordgo.ChannelTypeGuildPublicThread,
		OwnerID:  "bot",
		ParentID: "c1",
	})
	if !thread.OwnedBy("bot") {
		t.Error("thread should be owned by bot")
	}
	if thread.Recipient != nil {
		t.Error("thread should have no recipient")
	}
}

func TestClassifyRESTError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"forbidden", http.StatusForbidden, channels.ErrPermissionDenied},
		{"not found", http.StatusNotFound, channels.ErrChannelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyRESTError(&discordgo.RESTError{Response: &http.Response{StatusCode: tt.status}})
			if !errors.Is(err, tt.want) {
				t.Errorf("classifyRESTError(%d) = %v, want %v", tt.status, err, tt.want)
			}
		})
	}

	plain := errors.New("boom")
	if got := classifyRESTError(plain); got != plain {
		t.Errorf("non-REST error should pass through, got %v", got)
	}
}

func TestSplitDiscordMessage(t *testing.T) {
	if got := splitDiscordMessage("short", 2000); len(got) != 1 || got[0] != "short" {
		t.Errorf("short message split = %q", got)
	}

	long := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1500)
	chunks := splitDiscordMessage(long, 2000)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Error("first chunk should end at the newline")
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks do not reassemble the input")
	}

	runes := strings.Repeat("é", 1500) // 3000 bytes, no newlines
	for _, c := range splitDiscordMessage(runes, 2000) {
		if !utf8Valid(c) {
			t.Errorf("chunk splits a rune: %q", c[len(c)-2:])
		}
	}
}

func utf8Valid(s string) bool {
	return strings.ToValidUTF8(s, "�") == s
}

func TestToApplicationCommand(t *testing.T) {
	cmd := toApplicationCommand(channels.CommandSpec{
		Name:        "imagine",
		Description: "Generate an image from a text prompt.",
		GuildOnly:   true,
		Options: []channels.CommandOption{
			{Name: "prompt", Description: "The text prompt", Kind: channels.OptionString, Required: true},
		},
	})
	if cmd.DMPermission == nil || *cmd.DMPermission {
		t.Error("guild-only command should deny DMs")
	}
	if len(cmd.Options) != 1 || cmd.Options[0].Type != discordgo.ApplicationCommandOptionString || !cmd.Options[0].Required {
		t.Errorf("unexpected options: %+v", cmd.Options)
	}
}

func TestAllowed(t *testing.T) {
	d := New(Config{AllowedGuilds: []string{"g1"}, AllowedChannels: []string{"c1", "dm"}}, nil)
	tests := []struct {
		guild, channel string
		want           bool
	}{
		{"g1", "c1", true},
		{"g2", "c1", false},
		{"g1", "c2", false},
		{"", "dm", true},
	}
	for _, tt := range tests {
		if got := d.allowed(tt.guild, tt.channel); got != tt.want {
			t.Errorf("allowed(%q, %q) = %v, want %v", tt.guild, tt.channel, got, tt.want)
		}
	}
}

func TestDisconnectedOperations(t *testing.T) {
	d := New(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if _, err := d.Send(ctx, "c1", &channels.OutgoingMessage{Content: "x"}); !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Errorf("Send error = %v, want ErrChannelDisconnected", err)
	}
	if err := d.RenameChannel(ctx, "c1", "x"); !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Errorf("RenameChannel error = %v, want ErrChannelDisconnected", err)
	}
	if err := d.Connect(ctx); err == nil {
		t.Error("Connect without token should fail")
	}
}
