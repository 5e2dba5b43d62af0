package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/commands"
	"github.com/book-expert/speakbot/internal/config"
	"github.com/book-expert/speakbot/internal/core"
	"github.com/book-expert/speakbot/internal/discord"
	"github.com/book-expert/speakbot/internal/objectstore"
	"github.com/book-expert/speakbot/internal/playback"
	"github.com/book-expert/speakbot/internal/router"
	"github.com/book-expert/speakbot/internal/settings"
	"github.com/book-expert/speakbot/internal/tts"
	"github.com/book-expert/speakbot/internal/tts/text"
	"github.com/book-expert/speakbot/internal/worker"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	bootstrapLogName = "speakbot-bootstrap.log"
	serviceLogName   = "speakbot.log"
	shutdownTimeout  = 15 * time.Second
)

func setupLogger(logPath, name string) (*logger.Logger, error) {
	log, err := logger.New(logPath, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func closeLogger(log *logger.Logger) {
	closeErr := log.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
	}
}

// loadConfig reads path when given and otherwise lets the configurator find project.toml.
func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(log)
	}

	if err != nil {
		log.Error("Failed to load configuration: %v", err)

		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Info("Configuration loaded successfully.")

	return cfg, nil
}

// connectNATS returns nil when no NATS URL is configured.
func connectNATS(cfg *config.Config, log *logger.Logger) (*nats.Conn, error) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("speakbot"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	log.Info("Connected to NATS at %s", cfg.NATS.URL)

	return natsConnection, nil
}

// newAudioStore builds the store that holds synthesized audio until it has played.
func newAudioStore(cfg *config.Config, natsConnection *nats.Conn) (core.ObjectStore, error) {
	switch cfg.Storage.AudioBackend {
	case config.AudioBackendNATS:
		if natsConnection == nil {
			return nil, config.ErrNATSURLMissing
		}

		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		store, err := objectstore.NewNats(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio bucket: %w", err)
		}

		return store, nil
	case config.AudioBackendFile:
		store, err := objectstore.NewFile(cfg.Storage.AudioDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio directory: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownAudioBackend, cfg.Storage.AudioBackend)
	}
}

func run(ctx context.Context, configPath string) error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer closeLogger(bootstrapLog)

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load and validate configuration
	cfg, err := loadConfig(configPath, bootstrapLog)
	if err != nil {
		return err
	}

	err = cfg.Validate()
	if err != nil {
		bootstrapLog.Error("Invalid configuration: %v", err)

		return fmt.Errorf("invalid configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer closeLogger(log)

	// 4. Storage
	natsConnection, err := connectNATS(cfg, log)
	if err != nil {
		return err
	}

	if natsConnection != nil {
		defer natsConnection.Close()
	}

	audioStore, err := newAudioStore(cfg, natsConnection)
	if err != nil {
		return err
	}

	settingsStore, err := settings.New(cfg.Storage.SettingsPath, cfg.ElevenLabs.DefaultVoiceID, log)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}

	// 5. Synthesis and playback
	client := tts.NewHTTPClient(cfg.ElevenLabs.BaseURL, cfg.Secrets.ElevenLabsAPIKey, cfg.SynthesisTimeout())

	synthesizer, err := tts.NewSynthesizer(client, settingsStore, audioStore, tts.SynthesizerConfig{
		ModelID:         cfg.ElevenLabs.ModelID,
		Stability:       cfg.ElevenLabs.Stability,
		SimilarityBoost: cfg.ElevenLabs.SimilarityBoost,
		OutputFormat:    cfg.ElevenLabs.OutputFormat,
		Timeout:         cfg.SynthesisTimeout(),
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}

	session, err := discord.NewSession(cfg.Secrets.DiscordToken)
	if err != nil {
		return err
	}

	framer := discord.NewOpusFramer(discord.NewTranscoder(cfg.Playback.FFmpegPath))
	connector := discord.NewVoiceConnector(session, framer, discord.DefaultFrameTimeout, log)

	manager := playback.NewManager(synthesizer, connector, playback.Config{
		IdleTimeout: cfg.IdleTimeout(),
		PlayTimeout: cfg.PlayTimeout(),
	}, log)

	// 6. Commands and routing
	handler := commands.NewHandler(settingsStore, synthesizer, manager, cfg.Discord.CommandPrefix, log)
	dispatcher := commands.NewPrefixDispatcher(handler, discord.NewResponder(session), log)
	normalizer := text.NewNormalizer()

	messageRouter := router.New(dispatcher, settingsStore, manager, log,
		router.WithNormalizer(normalizer.Normalize),
		router.WithUserRateLimit(cfg.Limits.UserMessagesPerMinute),
	)

	bot := discord.NewBot(session, discord.Config{
		RegisterSlashCommands: cfg.Discord.RegisterSlashCommands,
		GuildID:               cfg.Discord.GuildID,
	}, messageRouter, handler, manager, log)

	log.System("Speakbot initialized. Command prefix %q, %d guilds with a TTS channel.",
		cfg.Discord.CommandPrefix, len(settingsStore.TTSChannels()))

	var intake *worker.NatsWorker

	if natsConnection != nil {
		intake, err = worker.NewNatsWorker(natsConnection, cfg.NATS.SpeakSubject, manager, log)
		if err != nil {
			return fmt.Errorf("failed to create speak worker: %w", err)
		}
	}

	// 7. Serve until a signal arrives or a component fails
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return bot.Run(groupCtx)
	})

	if intake != nil {
		group.Go(func() error {
			return intake.Run(groupCtx)
		})
	}

	runErr := group.Wait()

	// The bot already stopped playback before closing the gateway; this covers a
	// gateway that never opened.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := manager.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Error("Playback shutdown did not finish: %v", shutdownErr)
	}

	if runErr != nil {
		log.Error("Speakbot stopped with error: %v", runErr)

		return runErr
	}

	log.System("Speakbot stopped.")

	return nil
}
