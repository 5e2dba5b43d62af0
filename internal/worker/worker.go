// Package worker accepts speak requests from other services over NATS.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/core"
	"github.com/nats-io/nats.go"
)

var (
	// ErrSubjectEmpty indicates that no subject was configured.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrGuildIDEmpty indicates that the request names no guild.
	ErrGuildIDEmpty = errors.New("guild_id cannot be empty")
	// ErrChannelIDEmpty indicates that the request names no voice channel.
	ErrChannelIDEmpty = errors.New("channel_id cannot be empty")
	// ErrUserIDEmpty indicates that the request names no user whose voice to use.
	ErrUserIDEmpty = errors.New("user_id cannot be empty")
	// ErrTextEmpty indicates that there is nothing to speak.
	ErrTextEmpty = errors.New("text cannot be empty")
)

// SpeakRequest asks the bot to speak text in a voice channel with a user's voice.
type SpeakRequest struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
}

// SpeakReply answers a SpeakRequest sent with a reply subject.
type SpeakReply struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Enqueuer accepts playback requests.
type Enqueuer interface {
	Enqueue(req core.PlaybackRequest)
}

// NatsWorker listens for speak requests on a NATS subject and queues them for playback.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	enqueuer       Enqueuer
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(natsConnection *nats.Conn, subject string, enqueuer Enqueuer, log *logger.Logger) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		enqueuer:       enqueuer,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for speak requests on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	request, err := parseAndValidateRequest(msg.Data)
	if err != nil {
		w.log.Warn("Rejected speak request on %s: %v", msg.Subject, err)
		w.reply(msg, SpeakReply{RequestID: "", Error: err.Error()})

		return
	}

	playback := core.NewPlaybackRequest(request.GuildID, request.ChannelID, request.UserID, request.Text)
	playback.OnDone = func(err error) {
		if err != nil {
			w.log.Error("Speak request %s for guild %s failed: %v", playback.ID, request.GuildID, err)
		}
	}

	w.enqueuer.Enqueue(playback)

	w.log.Info("Queued speak request %s for guild %s channel %s", playback.ID, request.GuildID, request.ChannelID)
	w.reply(msg, SpeakReply{RequestID: playback.ID, Error: ""})
}

// reply responds when the sender asked for one.
func (w *NatsWorker) reply(msg *nats.Msg, reply SpeakReply) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal speak reply: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish speak reply: %v", err)
	}
}

func parseAndValidateRequest(data []byte) (*SpeakRequest, error) {
	var request SpeakRequest

	err := json.Unmarshal(data, &request)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal speak request: %w", err)
	}

	switch {
	case request.GuildID == "":
		return nil, ErrGuildIDEmpty
	case request.ChannelID == "":
		return nil, ErrChannelIDEmpty
	case request.UserID == "":
		return nil, ErrUserIDEmpty
	case strings.TrimSpace(request.Text) == "":
		return nil, ErrTextEmpty
	}

	return &request, nil
}
