package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultFFmpegPath is used when no ffmpeg binary is configured.
const DefaultFFmpegPath = "ffmpeg"

var errFFmpegOutputEmpty = errors.New("ffmpeg produced no output")

// Transcoder converts audio into Ogg Opus suitable for a voice channel.
type Transcoder struct {
	ffmpegPath string
}

// NewTranscoder creates a transcoder that runs the ffmpeg binary at ffmpegPath.
func NewTranscoder(ffmpegPath string) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}

	return &Transcoder{ffmpegPath: ffmpegPath}
}

// ToOggOpus transcodes audio in any container ffmpeg understands into 48 kHz
// stereo Ogg Opus with 20 ms frames.
func (t *Transcoder) ToOggOpus(ctx context.Context, audio []byte) ([]byte, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-c:a", "libopus",
		"-b:a", "64k",
		"-ar", "48000",
		"-ac", "2",
		"-frame_duration", "20",
		"-f", "ogg",
		"pipe:1",
	}

	// #nosec G204 -- the binary path comes from configuration and the arguments are fixed
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdin = bytes.NewReader(audio)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	if stdout.Len() == 0 {
		return nil, errFFmpegOutputEmpty
	}

	return stdout.Bytes(), nil
}

// Framer turns synthesized audio into the Opus packets a voice connection sends.
type Framer interface {
	Frames(ctx context.Context, audio []byte) ([][]byte, error)
}

// OpusFramer demuxes Ogg Opus directly and transcodes anything else first.
type OpusFramer struct {
	transcoder *Transcoder
}

// NewOpusFramer creates a framer. transcoder may be nil when only Ogg Opus audio is expected.
func NewOpusFramer(transcoder *Transcoder) *OpusFramer {
	return &OpusFramer{transcoder: transcoder}
}

// Frames returns the audio as Opus packets.
func (f *OpusFramer) Frames(ctx context.Context, audio []byte) ([][]byte, error) {
	if IsOgg(audio) {
		return OpusPackets(audio)
	}

	if f.transcoder == nil {
		return nil, ErrNotOgg
	}

	converted, err := f.transcoder.ToOggOpus(ctx, audio)
	if err != nil {
		return nil, err
	}

	return OpusPackets(converted)
}
