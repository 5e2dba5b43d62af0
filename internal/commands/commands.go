// Package commands implements the bot's command surface. Prefix commands and slash
// commands share one Handler, so both forms have the same side effects.
package commands

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/core"
)

// Command names.
const (
	NameListVoices = "listvoices"
	NameSetVoice   = "setvoice"
	NameMyVoice    = "myvoice"
	NameTTS        = "tts"
	NameSetTTS     = "settts"
	NameHelp       = "help"
)

// Replies.
const (
	msgVoicesUnavailable = "Error fetching voices. Please try again later."
	msgInvalidVoice      = "Invalid voice name or ID. Use `%slistvoices` to see available options."
	msgVoiceSet          = "✅ Your voice has been set to `%s`."
	msgVoiceSaveFailed   = "Could not save your voice. Please try again later."
	msgMyVoice           = "🎙️ Your Selected Voice\n**Name:** `%s`\n**ID:** `%s`"
	msgUnknownVoiceName  = "Unknown"
	msgNotInVoice        = "You must be in a voice channel to use this command."
	msgPlaying           = "Playing TTS..."
	msgPlaybackFailed    = "⚠️ Your TTS message could not be played."
	msgChannelSet        = "✅ TTS messages will now be spoken from <#%s> (saved on restart)."
	msgChannelSaveFailed = "Could not save the TTS channel. Please try again later."
	msgGuildOnly         = "This command only works in a server."
	msgUsage             = "Usage: `%s%s %s`"
	voicesHeader         = "🎙️ Available Voices"
	truncatedFooter      = "...and %d more"
)

// MaxReplyLength is the longest reply the chat platform accepts.
const MaxReplyLength = 2000

var channelRefPattern = regexp.MustCompile(`^(?:<#(\d+)>|(\d+))$`)

// Form tells which surface invoked a command.
type Form int

const (
	// FormPrefix is a chat message such as "w!tts hello".
	FormPrefix Form = iota
	// FormSlash is a registered slash command.
	FormSlash
)

// Invocation is one command call.
type Invocation struct {
	Form    Form
	Name    string
	Args    string
	GuildID string
	// ChannelID is where the command was issued.
	ChannelID string
	UserID    string
	// VoiceChannelID is the caller's current voice channel, empty when not in voice.
	VoiceChannelID string
	// FollowUp, when set, delivers messages after the reply has been sent.
	FollowUp func(content string)
}

// Settings is the part of the settings store the commands use.
type Settings interface {
	UserVoice(userID string) string
	SetUserVoice(userID, voiceID string) error
	SetTTSChannel(guildID, channelID string) error
}

// Enqueuer accepts playback requests.
type Enqueuer interface {
	Enqueue(req core.PlaybackRequest)
}

// Handler executes commands.
type Handler struct {
	settings Settings
	voices   core.VoiceCatalog
	enqueuer Enqueuer
	prefix   string
	log      *logger.Logger
}

// NewHandler creates a command handler. prefix is the prefix-command marker, e.g. "w!".
func NewHandler(settings Settings, voices core.VoiceCatalog, enqueuer Enqueuer, prefix string, log *logger.Logger) *Handler {
	return &Handler{
		settings: settings,
		voices:   voices,
		enqueuer: enqueuer,
		prefix:   prefix,
		log:      log,
	}
}

// Prefix returns the prefix-command marker.
func (h *Handler) Prefix() string {
	return h.prefix
}

// Has reports whether name is a known command.
func (h *Handler) Has(name string) bool {
	switch strings.ToLower(name) {
	case NameListVoices, NameSetVoice, NameMyVoice, NameTTS, NameSetTTS, NameHelp:
		return true
	default:
		return false
	}
}

// Execute runs the command and returns the reply text.
func (h *Handler) Execute(ctx context.Context, inv Invocation) string {
	args := strings.TrimSpace(inv.Args)

	switch strings.ToLower(inv.Name) {
	case NameListVoices:
		return h.listVoices(ctx, inv)
	case NameSetVoice:
		return h.setVoice(ctx, inv, args)
	case NameMyVoice:
		return h.myVoice(ctx, inv)
	case NameTTS:
		return h.speak(inv, args)
	case NameSetTTS:
		return h.setTTSChannel(inv, args)
	default:
		return h.help(inv.Form)
	}
}

func (h *Handler) listVoices(ctx context.Context, inv Invocation) string {
	voices, err := h.voices.ListVoices(ctx)
	if err != nil {
		h.log.Warn("Listing voices for user %s failed: %v", inv.UserID, err)

		return msgVoicesUnavailable
	}

	if len(voices) == 0 {
		return msgVoicesUnavailable
	}

	names := sortedNames(voices)
	lines := make([]string, 0, len(names)+1)
	lines = append(lines, voicesHeader)

	for _, name := range names {
		lines = append(lines, fmt.Sprintf("**%s** - `%s`", name, voices[name]))
	}

	return joinWithinLimit(lines, MaxReplyLength)
}

func (h *Handler) setVoice(ctx context.Context, inv Invocation, choice string) string {
	if choice == "" {
		return h.usage(inv.Form, NameSetVoice, "<name>")
	}

	voices, err := h.voices.ListVoices(ctx)
	if err != nil {
		h.log.Warn("Listing voices for user %s failed: %v", inv.UserID, err)

		return msgVoicesUnavailable
	}

	voiceID, ok := resolveVoice(voices, choice)
	if !ok {
		return fmt.Sprintf(msgInvalidVoice, h.marker(inv.Form))
	}

	err = h.settings.SetUserVoice(inv.UserID, voiceID)
	if err != nil {
		h.log.Error("Saving voice %s for user %s failed: %v", voiceID, inv.UserID, err)

		return msgVoiceSaveFailed
	}

	h.log.Info("User %s selected voice %s", inv.UserID, voiceID)

	return fmt.Sprintf(msgVoiceSet, choice)
}

func (h *Handler) myVoice(ctx context.Context, inv Invocation) string {
	voiceID := h.settings.UserVoice(inv.UserID)
	name := msgUnknownVoiceName

	voices, err := h.voices.ListVoices(ctx)
	if err != nil {
		h.log.Warn("Listing voices for user %s failed: %v", inv.UserID, err)
	}

	for _, candidate := range sortedNames(voices) {
		if voices[candidate] == voiceID {
			name = candidate

			break
		}
	}

	return fmt.Sprintf(msgMyVoice, name, voiceID)
}

func (h *Handler) speak(inv Invocation, text string) string {
	if inv.GuildID == "" {
		return msgGuildOnly
	}

	if inv.VoiceChannelID == "" {
		return msgNotInVoice
	}

	if text == "" {
		return h.usage(inv.Form, NameTTS, "<message>")
	}

	req := core.NewPlaybackRequest(inv.GuildID, inv.VoiceChannelID, inv.UserID, text)

	followUp := inv.FollowUp
	if followUp != nil {
		req.OnDone = func(err error) {
			if err != nil {
				followUp(msgPlaybackFailed)
			}
		}
	}

	h.enqueuer.Enqueue(req)

	return msgPlaying
}

func (h *Handler) setTTSChannel(inv Invocation, ref string) string {
	if inv.GuildID == "" {
		return msgGuildOnly
	}

	channelID, ok := ParseChannelRef(ref)
	if !ok {
		return h.usage(inv.Form, NameSetTTS, "#channel")
	}

	err := h.settings.SetTTSChannel(inv.GuildID, channelID)
	if err != nil {
		h.log.Error("Saving TTS channel %s for guild %s failed: %v", channelID, inv.GuildID, err)

		return msgChannelSaveFailed
	}

	h.log.Info("Guild %s now speaks messages from channel %s", inv.GuildID, channelID)

	return fmt.Sprintf(msgChannelSet, channelID)
}

func (h *Handler) help(form Form) string {
	marker := h.marker(form)

	var b strings.Builder

	b.WriteString("📢 TTS Bot Commands\n\n🔊 Voice Commands\n")
	fmt.Fprintf(&b, "**`%stts <message>`** - Speak a message in voice chat.\n", marker)
	fmt.Fprintf(&b, "**`%ssettts #channel`** - Set a TTS text channel.\n\n", marker)
	b.WriteString("🗣️ Voice Selection\n")
	fmt.Fprintf(&b, "**`%slistvoices`** - Show available voices.\n", marker)
	fmt.Fprintf(&b, "**`%ssetvoice <name>`** - Set your ElevenLabs voice.\n", marker)
	fmt.Fprintf(&b, "**`%smyvoice`** - Show your selected voice.", marker)

	if form == FormPrefix {
		b.WriteString("\n\nUse /help for slash command help.")
	}

	return b.String()
}

func (h *Handler) usage(form Form, name, args string) string {
	return fmt.Sprintf(msgUsage, h.marker(form), name, args)
}

func (h *Handler) marker(form Form) string {
	if form == FormSlash {
		return "/"
	}

	return h.prefix
}

// ParseChannelRef accepts a channel mention such as "<#123>" or a bare channel ID.
func ParseChannelRef(ref string) (string, bool) {
	match := channelRefPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if match == nil {
		return "", false
	}

	if match[1] != "" {
		return match[1], true
	}

	return match[2], true
}

// resolveVoice matches choice against voice names first and voice IDs second.
func resolveVoice(voices map[string]string, choice string) (string, bool) {
	if voiceID, ok := voices[choice]; ok {
		return voiceID, true
	}

	for _, voiceID := range voices {
		if voiceID == choice {
			return voiceID, true
		}
	}

	return "", false
}

func sortedNames(voices map[string]string) []string {
	names := make([]string, 0, len(voices))
	for name := range voices {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// joinWithinLimit joins lines with newlines. When the result would exceed limit bytes
// the list is cut short and a footer counts the omitted lines.
func joinWithinLimit(lines []string, limit int) string {
	joined := strings.Join(lines, "\n")
	if len(joined) <= limit {
		return joined
	}

	reserve := len(fmt.Sprintf("\n"+truncatedFooter, len(lines)))

	var b strings.Builder

	kept := 0

	for _, line := range lines {
		if b.Len()+1+len(line)+reserve > limit {
			break
		}

		if kept > 0 {
			b.WriteByte('\n')
		}

		b.WriteString(line)

		kept++
	}

	fmt.Fprintf(&b, "\n"+truncatedFooter, len(lines)-kept)

	return b.String()
}
