package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/core"
	"github.com/bwmarrin/discordgo"
)

// DefaultFrameTimeout bounds how long one Opus frame may wait for the sender.
const DefaultFrameTimeout = 5 * time.Second

// silenceFrameCount trailing silence frames stop the client from interpolating
// after the last real frame.
const silenceFrameCount = 5

var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

var (
	// ErrSendStalled is returned when the voice connection stops accepting frames.
	ErrSendStalled = errors.New("voice connection stopped accepting audio")
	// ErrVoiceNotReady is returned when a joined connection has no audio channel.
	ErrVoiceNotReady = errors.New("voice connection is not ready")
	// ErrGatewayClosed is returned when a voice channel is left while the gateway
	// connection is down; the voice sockets are closed without notifying Discord.
	ErrGatewayClosed = errors.New("discord gateway is not connected")
)

// voiceLink is the part of *discordgo.VoiceConnection a connection drives.
type voiceLink interface {
	Speaking(speaking bool) error
	Disconnect() error
	Close()
}

// gatewayReady reports whether the gateway socket can carry the voice leave opcode.
type gatewayReady func() bool

func sessionReady(session *discordgo.Session) gatewayReady {
	return func() bool {
		session.RLock()
		defer session.RUnlock()

		return session.DataReady
	}
}

// joinFunc joins a voice channel. On failure it may still return the half-joined link,
// which must be disconnected.
type joinFunc func(guildID, channelID string) (voiceLink, chan<- []byte, error)

func sessionJoin(session *discordgo.Session) joinFunc {
	return func(guildID, channelID string) (voiceLink, chan<- []byte, error) {
		vc, err := session.ChannelVoiceJoin(guildID, channelID, false, true)
		if vc == nil {
			return nil, nil, err
		}

		return vc, vc.OpusSend, err
	}
}

// VoiceConnector joins voice channels through a discordgo session.
type VoiceConnector struct {
	join         joinFunc
	ready        gatewayReady
	framer       Framer
	frameTimeout time.Duration
	log          *logger.Logger
}

// NewVoiceConnector creates a connector. A zero frameTimeout selects DefaultFrameTimeout.
func NewVoiceConnector(session *discordgo.Session, framer Framer, frameTimeout time.Duration, log *logger.Logger) *VoiceConnector {
	if frameTimeout <= 0 {
		frameTimeout = DefaultFrameTimeout
	}

	return &VoiceConnector{
		join:         sessionJoin(session),
		ready:        sessionReady(session),
		framer:       framer,
		frameTimeout: frameTimeout,
		log:          log,
	}
}

// Connect joins channelID in guildID, self-deafened. A join that fails halfway is
// disconnected so the bot does not linger in the channel.
func (c *VoiceConnector) Connect(ctx context.Context, guildID, channelID string) (core.VoiceConnection, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	link, send, err := c.join(guildID, channelID)
	if err != nil {
		if link != nil {
			c.leave(guildID, link)
		}

		return nil, fmt.Errorf("join voice channel: %w", err)
	}

	if send == nil {
		c.leave(guildID, link)

		return nil, ErrVoiceNotReady
	}

	return newVoiceConnection(link, c.ready, send, channelID, c.framer, c.frameTimeout, c.log), nil
}

func (c *VoiceConnector) leave(guildID string, link voiceLink) {
	err := disconnectLink(link, c.ready)
	if err != nil {
		c.log.Warn("Failed to leave half-joined voice channel in guild %s: %v", guildID, err)
	}
}

// voiceConnection plays audio over one joined channel.
type voiceConnection struct {
	link         voiceLink
	ready        gatewayReady
	send         chan<- []byte
	channelID    string
	framer       Framer
	frameTimeout time.Duration
	log          *logger.Logger
}

func newVoiceConnection(
	link voiceLink,
	ready gatewayReady,
	send chan<- []byte,
	channelID string,
	framer Framer,
	frameTimeout time.Duration,
	log *logger.Logger,
) *voiceConnection {
	return &voiceConnection{
		link:         link,
		ready:        ready,
		send:         send,
		channelID:    channelID,
		framer:       framer,
		frameTimeout: frameTimeout,
		log:          log,
	}
}

func (v *voiceConnection) ChannelID() string {
	return v.channelID
}

// Play sends every frame of audio and returns once the last one has been handed to
// the sender.
func (v *voiceConnection) Play(ctx context.Context, audio []byte) error {
	frames, err := v.framer.Frames(ctx, audio)
	if err != nil {
		return fmt.Errorf("prepare audio: %w", err)
	}

	err = v.link.Speaking(true)
	if err != nil {
		return fmt.Errorf("start speaking: %w", err)
	}

	defer func() {
		stopErr := v.link.Speaking(false)
		if stopErr != nil {
			v.log.Warn("Failed to clear speaking state in channel %s: %v", v.channelID, stopErr)
		}
	}()

	timer := time.NewTimer(v.frameTimeout)
	defer timer.Stop()

	for _, frame := range frames {
		err = v.sendFrame(ctx, timer, frame)
		if err != nil {
			return err
		}
	}

	for range silenceFrameCount {
		err = v.sendFrame(ctx, timer, silenceFrame)
		if err != nil {
			return err
		}
	}

	return nil
}

func (v *voiceConnection) sendFrame(ctx context.Context, timer *time.Timer, frame []byte) error {
	timer.Reset(v.frameTimeout)

	select {
	case v.send <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrSendStalled
	}
}

func (v *voiceConnection) Disconnect() error {
	return disconnectLink(v.link, v.ready)
}

// disconnectLink leaves the channel. discordgo writes the leave opcode on the gateway
// socket, which is nil while the gateway is closed or reconnecting, so in that state
// only the voice sockets are closed.
func disconnectLink(link voiceLink, ready gatewayReady) error {
	if !ready() {
		link.Close()

		return ErrGatewayClosed
	}

	return link.Disconnect()
}
