package copilot

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jholhewres/penny/pkg/penny/channels"
)

func TestShouldRename(t *testing.T) {
	namer := NewThreadNamer(DefaultThreadName, 5)
	thread := func(name, owner string) *channels.ChannelInfo {
		return &channels.ChannelInfo{ID: "t1", Name: name, Kind: channels.KindGuildThread, GuildID: "g1", OwnerID: owner}
	}

	tests := []struct {
		name    string
		ch      *channels.ChannelInfo
		history int
		want    bool
	}{
		{"default name past threshold", thread(DefaultThreadName, "bot"), 6, true},
		{"default name at threshold", thread(DefaultThreadName, "bot"), 5, false},
		{"already renamed", thread("Quantum Picnic", "bot"), 9, false},
		{"thread owned by someone else", thread(DefaultThreadName, "u-alice"), 9, false},
		{"text channel", &channels.ChannelInfo{ID: "c1", Name: DefaultThreadName, Kind: channels.KindGuildText}, 9, false},
		{"nil channel", nil, 9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := namer.ShouldRename(tt.ch, "bot", tt.history); got != tt.want {
				t.Errorf("ShouldRename() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Quantum Picnic", "Quantum Picnic"},
		{"  Quantum Picnic  ", "Quantum Picnic"},
		{`"Quantum Picnic"`, "Quantum Picnic"},
		{"“Quantum Picnic”", "Quantum Picnic"},
		{"Quantum Picnic\nand more", "Quantum Picnic"},
		{"", ""},
		{"   ", ""},
		{`""`, ""},
	}
	for _, tt := range tests {
		if got := CleanName(tt.raw); got != tt.want {
			t.Errorf("CleanName(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCleanNameTruncates(t *testing.T) {
	got := CleanName(strings.Repeat("é", 150))
	if n := utf8.RuneCountInString(got); n != maxThreadNameLen {
		t.Errorf("name has %d characters, want %d", n, maxThreadNameLen)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated name is not valid UTF-8")
	}
}
