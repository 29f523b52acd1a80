// Package discord - commands.go publishes slash commands and turns
// application-command interactions into channels.CommandEvent values whose
// responder wraps the interaction (respond, defer, follow up).
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/penny/pkg/penny/channels"
)

// RegisterCommands overwrites the bot's global command set with specs.
func (d *Discord) RegisterCommands(ctx context.Context, specs []channels.CommandSpec) error {
	s := d.getSession()
	if s == nil {
		return channels.ErrChannelDisconnected
	}

	cmds := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, spec := range specs {
		cmds = append(cmds, toApplicationCommand(spec))
	}

	appID := s.State.User.ID
	if _, err := s.ApplicationCommandBulkOverwrite(appID, "", cmds, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: registering commands: %w", classifyRESTError(err))
	}
	d.logger.Info("discord: commands registered", "count", len(cmds))
	return nil
}

// Commands returns the slash-command invocation stream.
func (d *Discord) Commands() <-chan *channels.CommandEvent {
	return d.commands
}

// onInteractionCreate forwards application-command invocations.
func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	evt := &channels.CommandEvent{
		Channel:   d.Name(),
		Name:      data.Name,
		Options:   make(map[string]string, len(data.Options)),
		User:      interactionUser(i),
		Responder: &interactionResponder{session: s, interaction: i.Interaction},
	}
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			evt.Options[opt.Name] = opt.StringValue()
		}
	}

	ch, err := d.lookupChannel(d.ctx, s, i.ChannelID)
	if err != nil {
		d.logger.Warn("discord: channel lookup failed for command", "command", data.Name, "error", err)
		evt.Chat = &channels.ChannelInfo{ID: i.ChannelID, GuildID: i.GuildID, Kind: channels.KindGuildText}
		if i.GuildID == "" {
			evt.Chat.Kind = channels.KindDirectMessage
		}
	} else {
		evt.Chat = toChannelInfo(ch)
	}

	select {
	case d.commands <- evt:
	default:
		d.logger.Warn("discord: command buffer full, dropping invocation", "command", data.Name)
		_ = evt.Responder.Respond(d.ctx, "Apologies, I am too busy right now.", true)
	}
}

func interactionUser(i *discordgo.InteractionCreate) channels.User {
	if i.Member != nil && i.Member.User != nil {
		return toUser(i.Member.User)
	}
	return toUser(i.User)
}

func toApplicationCommand(spec channels.CommandSpec) *discordgo.ApplicationCommand {
	cmd := &discordgo.ApplicationCommand{
		Name:        spec.Name,
		Description: spec.Description,
	}
	if spec.GuildOnly {
		dm := false
		cmd.DMPermission = &dm
	}
	for _, opt := range spec.Options {
		cmd.Options = append(cmd.Options, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        opt.Name,
			Description: opt.Description,
			Required:    opt.Required,
		})
	}
	return cmd
}

// interactionResponder answers one interaction.
type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

func (r *interactionResponder) Respond(ctx context.Context, content string, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: interaction respond: %w", classifyRESTError(err))
	}
	return nil
}

func (r *interactionResponder) Defer(ctx context.Context) error {
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: interaction defer: %w", classifyRESTError(err))
	}
	return nil
}

func (r *interactionResponder) FollowUp(ctx context.Context, content string, media *channels.MediaMessage) error {
	params := &discordgo.WebhookParams{Content: content}
	if media != nil && len(media.Data) > 0 {
		params.Files = []*discordgo.File{toFile(media)}
	}
	if _, err := r.session.FollowupMessageCreate(r.interaction, true, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: interaction follow-up: %w", classifyRESTError(err))
	}
	return nil
}

var _ channels.CommandResponder = (*interactionResponder)(nil)
