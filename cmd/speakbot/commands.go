package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/book-expert/speakbot/internal/tts"
	"github.com/spf13/cobra"
)

// Flag names and descriptions.
const (
	flagConfig     = "config"
	flagConfigDesc = "Path to a TOML config file (defaults to the project.toml found by the configurator)"
)

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "speakbot",
		Short:         "Speak Discord chat messages in voice channels",
		Long:          "speakbot reads chat messages aloud in Discord voice channels using ElevenLabs voices.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	root.PersistentFlags().StringVar(&configPath, flagConfig, "", flagConfigDesc)
	root.AddCommand(newVoicesCommand(&configPath))

	return root
}

func newVoicesCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices available to the configured ElevenLabs account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogName)
			if err != nil {
				return err
			}

			defer closeLogger(bootstrapLog)

			cfg, err := loadConfig(*configPath, bootstrapLog)
			if err != nil {
				return err
			}

			err = cfg.ValidateSynthesis()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			client := tts.NewHTTPClient(cfg.ElevenLabs.BaseURL, cfg.Secrets.ElevenLabsAPIKey, cfg.SynthesisTimeout())

			voices, err := client.ListVoices(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list voices: %w", err)
			}

			sort.Slice(voices, func(i, j int) bool { return voices[i].Name < voices[j].Name })

			out := cmd.OutOrStdout()
			for _, voice := range voices {
				fmt.Fprintf(out, "%s\t%s\n", voice.Name, voice.VoiceID)
			}

			return nil
		},
	}
}
