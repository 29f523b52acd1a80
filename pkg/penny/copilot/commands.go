// Package copilot – commands.go implements the slash commands: /chat opens
// a thread the assistant owns, /imagine answers with a generated image.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"unicode"

	"github.com/jholhewres/penny/pkg/penny/channels"
	"github.com/jholhewres/penny/pkg/penny/media"
)

// maxImageNameLen bounds the generated attachment name, in runes.
const maxImageNameLen = 64

// CommandSpecs returns the slash commands the assistant publishes.
func CommandSpecs() []channels.CommandSpec {
	return []channels.CommandSpec{
		{
			Name:        "chat",
			Description: "Start a new chat thread with Penny.",
			GuildOnly:   true,
		},
		{
			Name:        "imagine",
			Description: "Generate an image from a text prompt.",
			Options: []channels.CommandOption{
				{Name: "prompt", Description: "What to imagine", Kind: channels.OptionString, Required: true},
			},
		},
	}
}

func (a *Assistant) handleCommand(ctx context.Context, evt *channels.CommandEvent) {
	logger := a.logger.With("channel", evt.Channel, "command", evt.Name, "user_id", evt.User.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in command handler", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	logger.Info("command received")

	var err error
	switch evt.Name {
	case "chat":
		err = a.cmdChat(ctx, evt, logger)
	case "imagine":
		err = a.cmdImagine(ctx, evt, logger)
	default:
		err = evt.Responder.Respond(ctx, "Apologies, I do not know that command.", true)
	}
	if err != nil {
		logger.Error("command failed", "error", err)
	}
}

// cmdChat creates a thread under the invoking channel (or its parent when
// invoked inside a thread) and greets the user there.
func (a *Assistant) cmdChat(ctx context.Context, evt *channels.CommandEvent, logger *slog.Logger) error {
	if evt.Chat == nil || evt.Chat.Kind == channels.KindDirectMessage {
		return evt.Responder.Respond(ctx, "Apologies, I can only start threads in a server channel.", true)
	}

	ch, ok := a.channelMgr.Channel(evt.Channel)
	if !ok {
		return fmt.Errorf("unknown channel %q", evt.Channel)
	}
	tc, ok := ch.(channels.ThreadChannel)
	if !ok {
		return evt.Responder.Respond(ctx, "Apologies, I cannot create threads here.", true)
	}

	parentID := evt.Chat.ID
	if evt.Chat.IsThread() && evt.Chat.ParentID != "" {
		parentID = evt.Chat.ParentID
	}

	thread, err := tc.CreateThread(ctx, parentID, a.config.ThreadName)
	if err != nil {
		logger.Warn("thread creation failed", "parent_id", parentID, "error", err)
		if errors.Is(err, channels.ErrPermissionDenied) {
			return evt.Responder.Respond(ctx, "Apologies, I do not have permission to create public threads in this channel.", true)
		}
		return evt.Responder.Respond(ctx, "Apologies, I could not create a chat thread in this channel.", true)
	}

	greeting := fmt.Sprintf("%s %s How may I be of assistance?", evt.User.Mention(), a.config.Persona.Greeting)
	if _, err := ch.Send(ctx, thread.ID, &channels.OutgoingMessage{Content: greeting}); err != nil {
		logger.Warn("failed to greet in new thread", "thread_id", thread.ID, "error", err)
	}

	logger.Info("chat thread created", "thread_id", thread.ID)
	return evt.Responder.Respond(ctx, "Thread created: "+thread.Mention(), true)
}

// cmdImagine generates an image for the prompt option and posts it as a
// follow-up to the deferred interaction.
func (a *Assistant) cmdImagine(ctx context.Context, evt *channels.CommandEvent, logger *slog.Logger) error {
	prompt := strings.TrimSpace(evt.Option("prompt"))
	if prompt == "" {
		return evt.Responder.Respond(ctx, "Apologies, I need a prompt to imagine something.", true)
	}

	if err := evt.Responder.Defer(ctx); err != nil {
		return err
	}

	data, err := a.llm.GenerateImage(ctx, prompt)
	if err != nil {
		logger.Error("image generation failed", "kind", ErrorKind(err).String(), "prompt", prompt, "error", err)
		return evt.Responder.FollowUp(ctx, "Apologies, I could not imagine that.", nil)
	}

	img, err := media.InspectImage(data)
	if err != nil {
		logger.Error("generated image rejected", "prompt", prompt, "error", err)
		return evt.Responder.FollowUp(ctx, "Apologies, I could not imagine that.", nil)
	}

	attachment := &channels.MediaMessage{
		Data:        data,
		Filename:    imageFilename(prompt, img.Extension),
		MimeType:    img.MimeType,
		Description: prompt,
	}
	err = evt.Responder.FollowUp(ctx, fmt.Sprintf("I'm imagining %s...", prompt), attachment)
	if errors.Is(err, channels.ErrPermissionDenied) {
		logger.Warn("not allowed to attach images", "error", err)
		return evt.Responder.FollowUp(ctx, "Apologies, I do not have permission to attach images in this channel.", nil)
	}
	return err
}

// imageFilename turns a prompt into a safe attachment name with extension
// ext: spaces become underscores and anything outside letters, digits, '-'
// and '_' is dropped.
func imageFilename(prompt, ext string) string {
	var b strings.Builder
	n := 0
	for _, r := range prompt {
		if n == maxImageNameLen {
			break
		}
		switch {
		case unicode.IsSpace(r):
			b.WriteRune('_')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			continue
		}
		n++
	}
	name := b.String()
	if strings.Trim(name, "_") == "" {
		name = "image"
	}
	return name + ext
}
