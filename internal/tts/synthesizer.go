package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/core"
	"github.com/google/uuid"
)

var (
	// ErrNilDependency indicates that a required collaborator was not provided.
	ErrNilDependency = errors.New("synthesizer dependency cannot be nil")
	// ErrAlreadyReleased is returned by a second Release of the same audio.
	ErrAlreadyReleased = errors.New("audio resource already released")
)

// SynthesisError reports that speech could not be produced for one request.
type SynthesisError struct {
	Reason string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err == nil {
		return "synthesis failed: " + e.Reason
	}

	return fmt.Sprintf("synthesis failed: %s: %v", e.Reason, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// VoiceResolver returns the voice a user has chosen.
type VoiceResolver interface {
	UserVoice(userID string) string
}

// SynthesizerConfig holds the per-call synthesis parameters.
type SynthesizerConfig struct {
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	OutputFormat    string
	Timeout         time.Duration
}

// Synthesizer implements core.Synthesizer and core.VoiceCatalog.
type Synthesizer struct {
	client *HTTPClient
	voices VoiceResolver
	store  core.ObjectStore
	config SynthesizerConfig
	log    *logger.Logger
}

// NewSynthesizer wires the HTTP client, the voice preferences and the audio store.
func NewSynthesizer(
	client *HTTPClient,
	voices VoiceResolver,
	store core.ObjectStore,
	cfg SynthesizerConfig,
	log *logger.Logger,
) (*Synthesizer, error) {
	if client == nil || voices == nil || store == nil || log == nil {
		return nil, ErrNilDependency
	}

	return &Synthesizer{
		client: client,
		voices: voices,
		store:  store,
		config: cfg,
		log:    log,
	}, nil
}

// Synthesize speaks text in the user's voice and stores the audio under a key that is
// unique to this call. Nothing is stored when the service call fails.
func (s *Synthesizer) Synthesize(ctx context.Context, userID, text string) (core.AudioResource, error) {
	voiceID := s.voices.UserVoice(userID)

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	audioData, err := s.client.GenerateSpeech(ctx, voiceID, s.config.OutputFormat, SpeechRequest{
		Text:    text,
		ModelID: s.config.ModelID,
		VoiceSettings: VoiceSettings{
			Stability:       s.config.Stability,
			SimilarityBoost: s.config.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, &SynthesisError{Reason: "voice " + voiceID, Err: err}
	}

	key := uuid.NewString() + extensionFor(s.config.OutputFormat)

	err = s.store.Upload(ctx, key, audioData)
	if err != nil {
		return nil, &SynthesisError{Reason: "store audio", Err: err}
	}

	s.log.Info("Synthesized %d bytes for user %s as %s", len(audioData), userID, key)

	return &storedAudio{
		key:      key,
		store:    s.store,
		released: atomic.Bool{},
	}, nil
}

// ListVoices maps voice display names to voice IDs.
func (s *Synthesizer) ListVoices(ctx context.Context) (map[string]string, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	voices, err := s.client.ListVoices(ctx)
	if err != nil {
		return nil, &SynthesisError{Reason: "list voices", Err: err}
	}

	byName := make(map[string]string, len(voices))
	for _, voice := range voices {
		byName[voice.Name] = voice.VoiceID
	}

	return byName, nil
}

// extensionFor maps an output format such as "mp3_44100_128" to a file extension.
func extensionFor(outputFormat string) string {
	codec, _, _ := strings.Cut(outputFormat, "_")

	switch codec {
	case "", "mp3":
		return ".mp3"
	case "opus":
		return ".ogg"
	default:
		return "." + codec
	}
}

type storedAudio struct {
	key      string
	store    core.ObjectStore
	released atomic.Bool
}

func (a *storedAudio) Key() string {
	return a.key
}

func (a *storedAudio) Load(ctx context.Context) ([]byte, error) {
	if a.released.Load() {
		return nil, ErrAlreadyReleased
	}

	data, err := a.store.Download(ctx, a.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load audio '%s': %w", a.key, err)
	}

	return data, nil
}

func (a *storedAudio) Release(ctx context.Context) error {
	if !a.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}

	err := a.store.Delete(ctx, a.key)
	if err != nil {
		return fmt.Errorf("failed to release audio '%s': %w", a.key, err)
	}

	return nil
}
