// Package core defines the interfaces and value types shared by the bot's components.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// AudioResource is a handle to synthesized audio held in an ObjectStore.
// The holder must call Release exactly once.
type AudioResource interface {
	Key() string
	Load(ctx context.Context) ([]byte, error)
	Release(ctx context.Context) error
}

// Synthesizer turns a user's text into a stored audio resource using that user's voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, userID, text string) (AudioResource, error)
}

// VoiceCatalog lists the voices offered by the synthesis provider, keyed by display name.
type VoiceCatalog interface {
	ListVoices(ctx context.Context) (map[string]string, error)
}

// VoiceConnector opens voice connections on the chat platform.
type VoiceConnector interface {
	Connect(ctx context.Context, guildID, channelID string) (VoiceConnection, error)
}

// VoiceConnection is a live connection to one voice channel.
type VoiceConnection interface {
	ChannelID() string
	// Play streams audio and returns once playback has completed or failed.
	Play(ctx context.Context, audio []byte) error
	Disconnect() error
}

// PlaybackRequest asks for text to be spoken in a guild's voice channel.
type PlaybackRequest struct {
	ID          string
	GuildID     string
	ChannelID   string
	UserID      string
	Text        string
	RequestedAt time.Time
	// OnDone, when set, receives the outcome of the request (nil on success).
	OnDone func(err error)
}

// NewPlaybackRequest builds a request with a fresh ID and the current time.
func NewPlaybackRequest(guildID, channelID, userID, text string) PlaybackRequest {
	return PlaybackRequest{
		ID:          uuid.NewString(),
		GuildID:     guildID,
		ChannelID:   channelID,
		UserID:      userID,
		Text:        text,
		RequestedAt: time.Now(),
		OnDone:      nil,
	}
}
