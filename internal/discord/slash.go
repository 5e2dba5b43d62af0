package discord

import (
	"fmt"

	"github.com/book-expert/speakbot/internal/commands"
	"github.com/bwmarrin/discordgo"
)

// SlashCommands describes the slash form of every command.
func SlashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        commands.NameListVoices,
			Description: "Show available ElevenLabs voices",
		},
		{
			Name:        commands.NameSetVoice,
			Description: "Set your ElevenLabs voice",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "voice_name_or_id",
					Description: "The name or ID of the voice to set",
					Required:    true,
				},
			},
		},
		{
			Name:        commands.NameMyVoice,
			Description: "Show your currently selected ElevenLabs voice",
		},
		{
			Name:        commands.NameTTS,
			Description: "Speak a message in your voice channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message",
					Description: "The message to speak",
					Required:    true,
				},
			},
		},
		{
			Name:        commands.NameSetTTS,
			Description: "Set a TTS text channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Messages posted here are spoken",
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
						discordgo.ChannelTypeGuildVoice,
					},
					Required: true,
				},
			},
		},
		{
			Name:        commands.NameHelp,
			Description: "Show available bot commands",
		},
	}
}

// slashArgs flattens the first option into the argument text a command expects.
func slashArgs(options []*discordgo.ApplicationCommandInteractionDataOption) string {
	if len(options) == 0 || options[0] == nil {
		return ""
	}

	option := options[0]

	switch option.Type {
	case discordgo.ApplicationCommandOptionString:
		return option.StringValue()
	case discordgo.ApplicationCommandOptionChannel:
		return option.ChannelValue(nil).ID
	default:
		return fmt.Sprint(option.Value)
	}
}
