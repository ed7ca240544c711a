package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/onetagger/internal/autotag"
	"github.com/franz/onetagger/internal/platforms"
	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

var (
	afPath         string
	afConfig       string
	afClientID     string
	afClientSecret string

	audiofeaturesCmd = &cobra.Command{
		Use:   "audiofeatures",
		Short: "Write Spotify audio-features values into local files",
		Long: `Resolves each file to its Spotify track (by ISRC when present),
fetches the audio-features analysis and writes the selected property
values into the configured tag frames.`,
		RunE: runAudioFeatures,
	}
)

func init() {
	rootCmd.AddCommand(audiofeaturesCmd)
	audiofeaturesCmd.Flags().StringVar(&afPath, "path", "", "path to music files (overrides config)")
	audiofeaturesCmd.Flags().StringVar(&afConfig, "config", "", "path to the JSON config file")
	audiofeaturesCmd.Flags().StringVar(&afClientID, "client-id", "", "Spotify client id")
	audiofeaturesCmd.Flags().StringVar(&afClientSecret, "client-secret", "", "Spotify client secret")
	audiofeaturesCmd.MarkFlagRequired("config")
}

func runAudioFeatures(cmd *cobra.Command, args []string) error {
	setupLogging()

	data, err := os.ReadFile(afConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed reading config file: %v\n", err)
		os.Exit(exitUserError)
	}
	config, err := autotag.ParseAudioFeaturesConfig(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUserError)
	}
	if afPath != "" {
		config.Path = afPath
	}
	if config.Path == "" {
		fmt.Fprintln(os.Stderr, "Error: no path given (use --path or the config's path key)")
		os.Exit(exitUserError)
	}

	spotify, err := platforms.SpotifyCachedToken(afClientID, afClientSecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Spotify unauthorized, run authorize-spotify first: %v\n", err)
		os.Exit(exitUserError)
	}

	files, err := autotag.FileList(config.Path, config.IncludeSubfolders)
	if err != nil {
		return fmt.Errorf("collect files: %w", err)
	}
	util.InfoLog("Fetching audio features for %d files", len(files))

	af := autotag.NewAudioFeatures(config, spotify)
	go af.Run(files)

	start := time.Now()
	counts := map[tagger.TaggingState]int{}
	for status := range af.Statuses() {
		counts[status.State]++
		if status.State == tagger.StateError {
			util.WarnLog("Failed %s: %s", status.FilePath, status.Message)
		}
	}

	util.SuccessLog("Audio features finished in %s: %d ok, %d no match, %d errors",
		time.Since(start).Round(time.Millisecond),
		counts[tagger.StateOk], counts[tagger.StateNoMatch], counts[tagger.StateError])
	return nil
}
