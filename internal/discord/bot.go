// Package discord connects the bot to the chat platform through discordgo: gateway
// events, slash commands, replies and voice playback.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/commands"
	"github.com/book-expert/speakbot/internal/router"
	"github.com/bwmarrin/discordgo"
)

// Intents lists the gateway events the bot subscribes to.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// SessionShutdownTimeout bounds how long playback gets to leave voice channels
// before the gateway closes.
const SessionShutdownTimeout = 10 * time.Second

// ErrTokenEmpty is returned when no bot token is supplied.
var ErrTokenEmpty = errors.New("discord bot token is empty")

// NewSession creates a discordgo session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, ErrTokenEmpty
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	session.Identify.Intents = Intents

	return session, nil
}

// MessageRouter decides what to do with inbound messages.
type MessageRouter interface {
	Route(ctx context.Context, msg router.Message) router.Outcome
}

// Config holds the gateway adapter settings.
type Config struct {
	RegisterSlashCommands bool
	// GuildID scopes slash command registration to one guild; empty registers globally.
	GuildID string
}

// gateway is the part of *discordgo.Session closed on shutdown.
type gateway interface {
	Close() error
}

// Bot wires discordgo events to the router, the command handler and the playback sessions.
type Bot struct {
	session  *discordgo.Session
	cfg      Config
	messages MessageRouter
	handler  *commands.Handler
	sessions Sessions
	gateway  gateway
	log      *logger.Logger
	ctx      context.Context
}

// NewBot creates the gateway adapter.
func NewBot(
	session *discordgo.Session,
	cfg Config,
	messages MessageRouter,
	handler *commands.Handler,
	sessions Sessions,
	log *logger.Logger,
) *Bot {
	return &Bot{
		session:  session,
		cfg:      cfg,
		messages: messages,
		handler:  handler,
		sessions: sessions,
		gateway:  session,
		log:      log,
		ctx:      context.Background(),
	}
}

// Run opens the gateway connection and serves events until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInteractionCreate)
	b.session.AddHandler(b.onVoiceStateUpdate)

	err := b.session.Open()
	if err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	<-ctx.Done()

	return b.shutdown()
}

// shutdown leaves every voice channel while the gateway can still send the leave
// opcode, then closes the gateway.
func (b *Bot) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), SessionShutdownTimeout)
	defer cancel()

	err := b.sessions.Shutdown(shutdownCtx)
	if err != nil {
		b.log.Warn("Playback did not stop before the gateway closed: %v", err)
	}

	b.log.Info("Closing Discord session")

	err = b.gateway.Close()
	if err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}

	return nil
}

func (b *Bot) onReady(s *discordgo.Session, ready *discordgo.Ready) {
	if ready.User != nil {
		b.log.Info("Logged in as %s (%s) in %d guilds", ready.User.Username, ready.User.ID, len(ready.Guilds))
	}

	if !b.cfg.RegisterSlashCommands {
		return
	}

	appID := ""
	if ready.Application != nil {
		appID = ready.Application.ID
	} else if ready.User != nil {
		appID = ready.User.ID
	}

	registered, err := s.ApplicationCommandBulkOverwrite(appID, b.cfg.GuildID, SlashCommands())
	if err != nil {
		b.log.Error("Failed to register slash commands: %v", err)

		return
	}

	b.log.Info("Registered %d slash commands", len(registered))
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}

	selfID := selfUserID(s)
	if m.Author.ID == selfID {
		return
	}

	inVoiceChat := m.GuildID != "" && b.channelIsVoice(s, m.ChannelID)
	msg := toRouterMessage(m.Message, selfID, b.voiceChannelOf(s, m.GuildID, m.Author.ID), inVoiceChat)

	outcome := b.messages.Route(b.ctx, msg)
	if outcome == router.OutcomeEnqueued {
		b.log.Info("Queued auto-TTS for message %s from user %s in guild %s", m.ID, m.Author.ID, m.GuildID)
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	if !b.handler.Has(data.Name) {
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.log.Warn("Failed to acknowledge /%s: %v", data.Name, err)

		return
	}

	userID := interactionUserID(i.Interaction)
	interaction := i.Interaction

	inv := commands.Invocation{
		Form:           commands.FormSlash,
		Name:           data.Name,
		Args:           slashArgs(data.Options),
		GuildID:        i.GuildID,
		ChannelID:      i.ChannelID,
		UserID:         userID,
		VoiceChannelID: b.voiceChannelOf(s, i.GuildID, userID),
		FollowUp: func(content string) {
			_, followErr := s.FollowupMessageCreate(interaction, false, &discordgo.WebhookParams{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			})
			if followErr != nil {
				b.log.Warn("Failed to send follow-up for /%s: %v", data.Name, followErr)
			}
		},
	}

	reply := b.handler.Execute(b.ctx, inv)

	_, err = s.InteractionResponseEdit(interaction, &discordgo.WebhookEdit{Content: &reply})
	if err != nil {
		b.log.Warn("Failed to answer /%s: %v", data.Name, err)
	}
}

// voiceChannelOf returns the user's voice channel from the state cache, or "".
func (b *Bot) voiceChannelOf(s *discordgo.Session, guildID, userID string) string {
	if guildID == "" || userID == "" || s.State == nil {
		return ""
	}

	state, err := s.State.VoiceState(guildID, userID)
	if err != nil {
		return ""
	}

	return state.ChannelID
}

// channelIsVoice reports whether channelID is a voice channel, whose text chat
// triggers auto-TTS.
func (b *Bot) channelIsVoice(s *discordgo.Session, channelID string) bool {
	var (
		channel *discordgo.Channel
		err     error
	)

	if s.State != nil {
		channel, err = s.State.Channel(channelID)
	}

	if s.State == nil || err != nil {
		channel, err = s.Channel(channelID)
		if err != nil {
			b.log.Warn("Failed to look up channel %s: %v", channelID, err)

			return false
		}
	}

	return isVoiceChannel(channel)
}

// Responder posts plain text replies.
type Responder struct {
	session *discordgo.Session
}

// NewResponder creates a responder on session.
func NewResponder(session *discordgo.Session) *Responder {
	return &Responder{session: session}
}

// Send posts content to channelID.
func (r *Responder) Send(channelID, content string) error {
	_, err := r.session.ChannelMessageSend(channelID, content)
	if err != nil {
		return fmt.Errorf("send message to channel %s: %w", channelID, err)
	}

	return nil
}

func toRouterMessage(m *discordgo.Message, selfID, voiceChannelID string, channelIsVoice bool) router.Message {
	authorID := ""
	if m.Author != nil {
		authorID = m.Author.ID
	}

	return router.Message{
		ID:                   m.ID,
		AuthorID:             authorID,
		GuildID:              m.GuildID,
		ChannelID:            m.ChannelID,
		Text:                 m.Content,
		AuthorVoiceChannelID: voiceChannelID,
		ChannelIsVoice:       channelIsVoice,
		FromSelf:             authorID != "" && authorID == selfID,
	}
}

func isVoiceChannel(channel *discordgo.Channel) bool {
	if channel == nil {
		return false
	}

	return channel.Type == discordgo.ChannelTypeGuildVoice || channel.Type == discordgo.ChannelTypeGuildStageVoice
}

func selfUserID(s *discordgo.Session) string {
	if s.State == nil || s.State.User == nil {
		return ""
	}

	return s.State.User.ID
}

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}

	if i.User != nil {
		return i.User.ID
	}

	return ""
}
