package playback

import (
	"errors"
	"fmt"
)

// ErrClosed is reported for requests that arrive after Shutdown or are still queued
// when it runs.
var ErrClosed = errors.New("playback manager is shut down")

// ConnectionError reports that the voice channel could not be joined.
type ConnectionError struct {
	GuildID   string
	ChannelID string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("voice connection to channel %s in guild %s failed: %v", e.ChannelID, e.GuildID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PlaybackError reports that audio failed while loading or streaming.
type PlaybackError struct {
	GuildID string
	Key     string
	Err     error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback of %s in guild %s failed: %v", e.Key, e.GuildID, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}
