// Package config provides the configuration structure for the speakbot service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// Audio storage backends.
const (
	AudioBackendFile = "file"
	AudioBackendNATS = "nats"
)

// Default values.
const (
	DefaultCommandPrefix   = "w!"
	DefaultBaseURL         = "https://api.elevenlabs.io"
	DefaultModelID         = "eleven_monolingual_v1"
	DefaultVoiceID         = "21m00Tcm4TlvDq8ikWAM"
	DefaultStability       = 0.5
	DefaultSimilarity      = 0.5
	DefaultOutputFormat    = "opus_48000_64"
	DefaultTimeoutSeconds  = 30
	DefaultIdleSeconds     = 300
	DefaultPlaySeconds     = 120
	DefaultFFmpegPath      = "ffmpeg"
	DefaultSettingsPath    = "server_settings.json"
	DefaultAudioBucket     = "SPEAKBOT_AUDIO"
	DefaultSpeakSubject    = "speakbot.speak"
	defaultLogsDirFallback = "logs"
)

var (
	// ErrDiscordTokenMissing indicates that no bot token was supplied.
	ErrDiscordTokenMissing = errors.New("discord token is required (DISCORD_TOKEN)")
	// ErrAPIKeyMissing indicates that no ElevenLabs API key was supplied.
	ErrAPIKeyMissing = errors.New("elevenlabs api key is required (ELEVENLABS_API_KEY)")
	// ErrUnknownAudioBackend indicates an unsupported storage.audio_backend value.
	ErrUnknownAudioBackend = errors.New("unknown audio backend")
	// ErrNATSURLMissing indicates the NATS backend was selected without a NATS URL.
	ErrNATSURLMissing = errors.New("nats url is required for the nats audio backend")
	// ErrNegativeDuration indicates a negative timeout setting.
	ErrNegativeDuration = errors.New("durations must not be negative")
)

// DiscordConfig holds the chat gateway settings.
type DiscordConfig struct {
	CommandPrefix         string `toml:"command_prefix"`
	RegisterSlashCommands bool   `toml:"register_slash_commands"`
	GuildID               string `toml:"guild_id"`
}

// ElevenLabsConfig holds the speech synthesis provider settings.
type ElevenLabsConfig struct {
	BaseURL         string  `toml:"base_url"`
	ModelID         string  `toml:"model_id"`
	DefaultVoiceID  string  `toml:"default_voice_id"`
	Stability       float64 `toml:"stability"`
	SimilarityBoost float64 `toml:"similarity_boost"`
	OutputFormat    string  `toml:"output_format"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
}

// PlaybackConfig holds the voice playback settings.
type PlaybackConfig struct {
	IdleTimeoutSeconds int    `toml:"idle_timeout_seconds"`
	PlayTimeoutSeconds int    `toml:"play_timeout_seconds"`
	FFmpegPath         string `toml:"ffmpeg_path"`
}

// StorageConfig holds the persisted settings file and the audio store location.
type StorageConfig struct {
	SettingsPath string `toml:"settings_path"`
	AudioBackend string `toml:"audio_backend"`
	AudioDir     string `toml:"audio_dir"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"                       env:"NATS_URL"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	SpeakSubject           string `toml:"speak_subject"`
}

// LimitsConfig holds abuse limits.
type LimitsConfig struct {
	UserMessagesPerMinute int `toml:"user_messages_per_minute"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Secrets are read from the environment only.
type Secrets struct {
	DiscordToken     string `env:"DISCORD_TOKEN"`
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`
}

// Config is the root configuration structure.
type Config struct {
	Discord    DiscordConfig    `toml:"discord"`
	ElevenLabs ElevenLabsConfig `toml:"elevenlabs"`
	Playback   PlaybackConfig   `toml:"playback"`
	Storage    StorageConfig    `toml:"storage"`
	NATS       NATSConfig       `toml:"nats"`
	Limits     LimitsConfig     `toml:"limits"`
	Paths      PathsConfig      `toml:"paths"`
	Secrets    Secrets          `toml:"-"`
}

// Load loads the configuration through the central configurator, then applies
// environment secrets and defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from a TOML file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	err := env.Parse(&cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from environment: %w", err)
	}

	err = env.Parse(&cfg.NATS)
	if err != nil {
		return nil, fmt.Errorf("failed to read nats settings from environment: %w", err)
	}

	cfg.ApplyDefaults()

	return cfg, nil
}

// ApplyDefaults fills unset values. A zero idle or play timeout keeps its
// default; use a negative value in the file to mean "disabled" for idle.
func (c *Config) ApplyDefaults() {
	setString(&c.Discord.CommandPrefix, DefaultCommandPrefix)

	setString(&c.ElevenLabs.BaseURL, DefaultBaseURL)
	setString(&c.ElevenLabs.ModelID, DefaultModelID)
	setString(&c.ElevenLabs.DefaultVoiceID, DefaultVoiceID)
	setString(&c.ElevenLabs.OutputFormat, DefaultOutputFormat)

	if c.ElevenLabs.Stability == 0 {
		c.ElevenLabs.Stability = DefaultStability
	}

	if c.ElevenLabs.SimilarityBoost == 0 {
		c.ElevenLabs.SimilarityBoost = DefaultSimilarity
	}

	if c.ElevenLabs.TimeoutSeconds == 0 {
		c.ElevenLabs.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Playback.IdleTimeoutSeconds == 0 {
		c.Playback.IdleTimeoutSeconds = DefaultIdleSeconds
	}

	if c.Playback.PlayTimeoutSeconds == 0 {
		c.Playback.PlayTimeoutSeconds = DefaultPlaySeconds
	}

	setString(&c.Playback.FFmpegPath, DefaultFFmpegPath)
	setString(&c.Storage.SettingsPath, DefaultSettingsPath)
	setString(&c.Storage.AudioBackend, AudioBackendFile)
	setString(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)
	setString(&c.NATS.SpeakSubject, DefaultSpeakSubject)
	setString(&c.Paths.BaseLogsDir, defaultLogsDirFallback)
}

// Validate checks that the configuration can start the bot.
func (c *Config) Validate() error {
	if c.Secrets.DiscordToken == "" {
		return ErrDiscordTokenMissing
	}

	return c.ValidateSynthesis()
}

// ValidateSynthesis checks only what is needed to talk to the synthesis provider.
func (c *Config) ValidateSynthesis() error {
	if c.Secrets.ElevenLabsAPIKey == "" {
		return ErrAPIKeyMissing
	}

	switch c.Storage.AudioBackend {
	case AudioBackendFile:
	case AudioBackendNATS:
		if c.NATS.URL == "" {
			return ErrNATSURLMissing
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAudioBackend, c.Storage.AudioBackend)
	}

	if c.ElevenLabs.TimeoutSeconds < 0 || c.Playback.PlayTimeoutSeconds < 0 {
		return ErrNegativeDuration
	}

	return nil
}

// IdleTimeout returns how long an idle voice connection is kept; zero disables the timer.
func (c *Config) IdleTimeout() time.Duration {
	if c.Playback.IdleTimeoutSeconds < 0 {
		return 0
	}

	return time.Duration(c.Playback.IdleTimeoutSeconds) * time.Second
}

// PlayTimeout bounds a single playback.
func (c *Config) PlayTimeout() time.Duration {
	return time.Duration(c.Playback.PlayTimeoutSeconds) * time.Second
}

// SynthesisTimeout bounds a single request to the synthesis provider.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.ElevenLabs.TimeoutSeconds) * time.Second
}

func setString(target *string, fallback string) {
	if *target == "" {
		*target = fallback
	}
}
