package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Sessions is the playback side's view of per-guild voice connections.
type Sessions interface {
	Connected(guildID string) bool
	Leave(guildID string)
	Shutdown(ctx context.Context) error
}

// shouldLeave decides, from the guild's cached voice states, whether the bot should
// leave its voice channel: it was moved out of voice or nobody else is left.
func shouldLeave(states []*discordgo.VoiceState, selfID string) bool {
	channelID := ""

	for _, state := range states {
		if state.UserID == selfID {
			channelID = state.ChannelID

			break
		}
	}

	if channelID == "" {
		return true
	}

	for _, state := range states {
		if state.ChannelID != channelID || state.UserID == selfID {
			continue
		}

		if state.Member != nil && state.Member.User != nil && state.Member.User.Bot {
			continue
		}

		return false
	}

	return true
}

// onVoiceStateUpdate tells the playback side to leave when the bot's channel
// empties or the bot was disconnected by someone else.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, update *discordgo.VoiceStateUpdate) {
	if update.VoiceState == nil || update.GuildID == "" || s.State == nil || s.State.User == nil {
		return
	}

	// Disconnects the manager made itself have already cleared its connection.
	if !b.sessions.Connected(update.GuildID) {
		return
	}

	selfID := s.State.User.ID

	relevant := update.UserID == selfID
	if !relevant && update.BeforeUpdate != nil {
		relevant = b.inBotChannel(s, update.GuildID, selfID, update.BeforeUpdate.ChannelID)
	}

	if !relevant {
		return
	}

	guild, err := s.State.Guild(update.GuildID)
	if err != nil {
		return
	}

	s.State.RLock()
	leave := shouldLeave(guild.VoiceStates, selfID)
	s.State.RUnlock()

	if leave {
		b.log.Info("Voice channel in guild %s is empty or was closed; leaving", update.GuildID)
		b.sessions.Leave(update.GuildID)
	}
}

func (b *Bot) inBotChannel(s *discordgo.Session, guildID, selfID, channelID string) bool {
	if channelID == "" {
		return false
	}

	state, err := s.State.VoiceState(guildID, selfID)
	if err != nil {
		return false
	}

	return state.ChannelID == channelID
}
