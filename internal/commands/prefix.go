package commands

import (
	"context"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/router"
)

// Responder posts messages to a chat channel.
type Responder interface {
	Send(channelID, content string) error
}

// PrefixDispatcher runs prefix commands found in chat messages.
type PrefixDispatcher struct {
	handler   *Handler
	responder Responder
	log       *logger.Logger
}

// NewPrefixDispatcher creates a dispatcher that replies through responder.
func NewPrefixDispatcher(handler *Handler, responder Responder, log *logger.Logger) *PrefixDispatcher {
	return &PrefixDispatcher{handler: handler, responder: responder, log: log}
}

// Dispatch executes msg when it is a known prefix command. Unknown commands are
// left for the router.
func (d *PrefixDispatcher) Dispatch(ctx context.Context, msg router.Message) bool {
	name, args, ok := ParsePrefix(d.handler.Prefix(), msg.Text)
	if !ok || !d.handler.Has(name) {
		return false
	}

	inv := Invocation{
		Form:           FormPrefix,
		Name:           name,
		Args:           args,
		GuildID:        msg.GuildID,
		ChannelID:      msg.ChannelID,
		UserID:         msg.AuthorID,
		VoiceChannelID: msg.AuthorVoiceChannelID,
		FollowUp: func(content string) {
			d.send(msg.ChannelID, content)
		},
	}

	d.send(msg.ChannelID, d.handler.Execute(ctx, inv))

	return true
}

func (d *PrefixDispatcher) send(channelID, content string) {
	err := d.responder.Send(channelID, content)
	if err != nil {
		d.log.Warn("Failed to reply in channel %s: %v", channelID, err)
	}
}

// ParsePrefix splits "w!name args" into name and args.
func ParsePrefix(prefix, text string) (name, args string, ok bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", "", false
	}

	rest := strings.TrimPrefix(text, prefix)

	name, args, _ = strings.Cut(rest, " ")
	if i := strings.IndexAny(name, "\n\t"); i >= 0 {
		args = name[i:] + " " + args
		name = name[:i]
	}

	if name == "" {
		return "", "", false
	}

	return strings.ToLower(name), strings.TrimSpace(args), true
}
