package copilot

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/penny/pkg/penny/channels"
)

// timeLayout renders the preamble date line ("January 02, 2006 03:04:05 PM").
const timeLayout = "January 02, 2006 03:04:05 PM"

// namingSeparator and namingInstruction end a thread-naming prompt; the
// opening quote lets the closing one act as a stop sequence.
const (
	namingSeparator   = "---"
	namingInstruction = "Come up with a single short name for this thread."
	namingLead        = `This thread should be called: "`
)

// Scene is what the preamble describes about a turn.
type Scene struct {
	Mode    Mode
	Channel *channels.ChannelInfo

	// UserLabel names the other party of a direct message.
	UserLabel string

	// Timestamp is the trigger message's creation time.
	Timestamp time.Time
}

// Prompt is a completion request built fresh for one turn.
type Prompt struct {
	Preamble string
	Lines    []RenderedLine
	Persona  string
}

// String renders the reply prompt. It always ends with the persona label
// and an empty continuation line.
func (p *Prompt) String() string {
	var b strings.Builder
	b.WriteString(p.Preamble)
	b.WriteString(turnBreak)
	if len(p.Lines) > 0 {
		b.WriteString(Transcript(p.Lines))
		b.WriteString(turnBreak)
	}
	b.WriteString(labelOpen + p.Persona + labelClose + lineBreak)
	return b.String()
}

// WithResponse returns a copy of p whose transcript ends with the
// assistant's response.
func (p *Prompt) WithResponse(response string) *Prompt {
	lines := make([]RenderedLine, len(p.Lines), len(p.Lines)+1)
	copy(lines, p.Lines)
	lines = append(lines, RenderedLine{Label: p.Persona, Body: response})
	return &Prompt{Preamble: p.Preamble, Lines: lines, Persona: p.Persona}
}

// NamingPrompt renders the thread-naming prompt over the same preamble and
// transcript.
func (p *Prompt) NamingPrompt() string {
	var b strings.Builder
	b.WriteString(p.Preamble)
	b.WriteString(turnBreak)
	if len(p.Lines) > 0 {
		b.WriteString(Transcript(p.Lines))
		b.WriteString(turnBreak)
	}
	b.WriteString(namingSeparator)
	b.WriteString(turnBreak)
	b.WriteString(namingInstruction)
	b.WriteString(lineBreak)
	b.WriteString(namingLead)
	return b.String()
}

// PromptAssembler composes the preamble for a turn.
type PromptAssembler struct {
	persona   PersonaConfig
	loc       *time.Location
	zoneLabel string
}

// NewPromptAssembler loads the reference timezone and returns an assembler.
func NewPromptAssembler(persona PersonaConfig, timezone, zoneLabel string) (*PromptAssembler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	if zoneLabel == "" {
		zoneLabel = timezone
	}
	persona.Name = sanitizeLabel(persona.Name)
	return &PromptAssembler{persona: persona, loc: loc, zoneLabel: zoneLabel}, nil
}

// Assemble builds the prompt for scene over the rendered history.
func (a *PromptAssembler) Assemble(scene Scene, lines []RenderedLine) *Prompt {
	clauses := []string{
		a.sceneClause(scene),
		a.timeClause(scene.Timestamp),
		a.personaClause(),
	}
	return &Prompt{
		Preamble: strings.Join(clauses, " "),
		Lines:    lines,
		Persona:  a.persona.Name,
	}
}

func (a *PromptAssembler) sceneClause(scene Scene) string {
	if scene.Mode == ModeDirectMessage {
		return "The following is a conversation with " + scene.UserLabel + "."
	}

	var name, topic string
	if scene.Channel != nil {
		name, topic = scene.Channel.Name, strings.TrimSpace(scene.Channel.Topic)
	}
	clause := "The following is a conversation in a channel called " + name + "."
	if topic != "" {
		clause += " The topic is " + topic + "."
	}
	return clause
}

func (a *PromptAssembler) timeClause(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return "The date and time is " + ts.In(a.loc).Format(timeLayout) + " " + a.zoneLabel + "."
}

func (a *PromptAssembler) personaClause() string {
	p := a.persona
	return fmt.Sprintf("%s is a %s AI assistant. %s favorite greeting is '%s'.", p.Name, p.Traits, p.Pronoun, p.Greeting)
}
