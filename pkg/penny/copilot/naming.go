package copilot

import (
	"strings"
	"unicode/utf8"

	"github.com/jholhewres/penny/pkg/penny/channels"
)

// maxThreadNameLen is Discord's channel name limit, in characters.
const maxThreadNameLen = 100

// namingStops end a generated name at its closing quote or line end.
var namingStops = []string{`"`, lineBreak}

// ThreadNamer decides when a thread gets a generated name.
type ThreadNamer struct {
	defaultName string
	threshold   int
}

// NewThreadNamer creates a namer for threads still called defaultName once
// their history holds more than threshold messages.
func NewThreadNamer(defaultName string, threshold int) *ThreadNamer {
	return &ThreadNamer{defaultName: defaultName, threshold: threshold}
}

// ShouldRename reports whether ch should be renamed after a turn whose
// visible history, including the response just sent, has historyLen entries.
// Threads renamed away from the default are never touched again.
func (n *ThreadNamer) ShouldRename(ch *channels.ChannelInfo, selfID string, historyLen int) bool {
	return ch.OwnedBy(selfID) &&
		ch.Name == n.defaultName &&
		historyLen > n.threshold
}

// CleanName trims a generated name. An empty result means no rename.
func CleanName(raw string) string {
	name := strings.TrimSpace(raw)
	if i := strings.IndexAny(name, "\r\n"); i != -1 {
		name = name[:i]
	}
	name = strings.Trim(name, " \t\"'`“”‘’")
	if utf8.RuneCountInString(name) > maxThreadNameLen {
		name = string([]rune(name)[:maxThreadNameLen])
	}
	return strings.TrimSpace(name)
}
