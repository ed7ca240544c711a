package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/franz/onetagger/internal/autotag"
	"github.com/franz/onetagger/internal/custom"
	"github.com/franz/onetagger/internal/platforms"
	"github.com/franz/onetagger/internal/report"
	"github.com/franz/onetagger/internal/store"
	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

var (
	autotaggerPath   string
	autotaggerConfig string

	autotaggerCmd = &cobra.Command{
		Use:   "autotagger",
		Short: "Tag a folder of audio files from online metadata providers",
		Long: `Runs the autotagging pipeline: every file is probed, matched
against the enabled platforms in priority order, and the winning track's
fields are written back into the file's tag.`,
		RunE: runAutotagger,
	}
)

func init() {
	rootCmd.AddCommand(autotaggerCmd)
	autotaggerCmd.Flags().StringVar(&autotaggerPath, "path", "", "path to music files (overrides config)")
	autotaggerCmd.Flags().StringVar(&autotaggerConfig, "config", "", "path to the JSON config file")
	autotaggerCmd.MarkFlagRequired("config")
}

func runAutotagger(cmd *cobra.Command, args []string) error {
	setupLogging()

	data, err := os.ReadFile(autotaggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed reading config file: %v\n", err)
		os.Exit(exitUserError)
	}
	config, err := tagger.ParseConfig(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUserError)
	}
	if autotaggerPath != "" {
		config.Path = autotaggerPath
	}
	if config.Path == "" {
		fmt.Fprintln(os.Stderr, "Error: no path given (use --path or the config's path key)")
		os.Exit(exitUserError)
	}

	files, err := autotag.FileList(config.Path, config.IncludeSubfolders)
	if err != nil {
		return fmt.Errorf("collect files: %w", err)
	}
	if len(files) == 0 {
		util.WarnLog("No supported audio files under %s", config.Path)
		return nil
	}
	util.InfoLog("Tagging %s files from %s on platforms: %s",
		humanize.Comma(int64(len(files))), config.Path, strings.Join(config.Platforms, ", "))

	registry := platforms.NewRegistry()
	custom.LoadAll(registry)

	runID := uuid.NewString()

	// Best effort history and event stream; the run proceeds without them
	history, err := store.Open("")
	if err != nil {
		util.WarnLog("Tagging history unavailable: %v", err)
		history = nil
	} else {
		defer history.Close()
		if err := history.BeginRun(runID, config.Path, strings.Join(config.Platforms, ",")); err != nil {
			util.WarnLog("Failed to record run: %v", err)
		}
	}

	var events *report.EventLogger
	if dir, err := util.DataFolder(); err == nil {
		if events, err = report.NewEventLogger(dir, runID); err != nil {
			util.WarnLog("Event log unavailable: %v", err)
		} else {
			defer events.Close()
		}
	}

	var bar *progressbar.ProgressBar
	if util.StderrIsTerminal() {
		bar = progressbar.Default(int64(len(files)), "tagging")
	}

	tg := autotag.NewTagger(config, registry)
	go tg.Run(files)

	start := time.Now()
	counts := map[tagger.TaggingState]int{}
	for status := range tg.Statuses() {
		counts[status.State]++
		if bar != nil {
			bar.Add(1)
		}
		if events != nil {
			events.LogStatus(status)
		}
		if history != nil {
			history.RecordStatus(runID, status)
		}
		switch status.State {
		case tagger.StateOk:
			util.DebugLog("OK %s (%s, %.3f)", status.FilePath, status.UsedPlatform, deref(status.Accuracy))
		case tagger.StateError:
			util.WarnLog("Failed %s: %s", status.FilePath, status.Message)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	util.SuccessLog("Tagging finished in %s: %d ok, %d no match, %d skipped, %d errors",
		time.Since(start).Round(time.Millisecond),
		counts[tagger.StateOk], counts[tagger.StateNoMatch],
		counts[tagger.StateSkipped], counts[tagger.StateError])
	if events != nil {
		util.InfoLog("Status stream: %s", events.Path())
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
