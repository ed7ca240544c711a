package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/onetagger/internal/autotag"
	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

// Exit codes: 0 success, 1 user error, 2 runtime error
const (
	exitUserError    = 1
	exitRuntimeError = 2
)

var (
	// Version is set at build time
	Version = "dev"

	printAutotaggerConfig    bool
	printAudioFeaturesConfig bool

	rootCmd = &cobra.Command{
		Use:   "onetagger",
		Short: "Automatic metadata tagger for local audio libraries",
		Long: `onetagger identifies local audio files against online music
metadata providers and writes the matched fields back into each file's
native tag format.`,
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printAutotaggerConfig {
				return printJSON(tagger.DefaultConfig())
			}
			if printAudioFeaturesConfig {
				return printJSON(autotag.DefaultAudioFeaturesConfig())
			}
			return cmd.Help()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")
	rootCmd.Flags().BoolVar(&printAutotaggerConfig, "autotagger-config", false,
		"print the default autotagger JSON config and exit")
	rootCmd.Flags().BoolVar(&printAudioFeaturesConfig, "audiofeatures-config", false,
		"print the default audio features JSON config and exit")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	viper.SetEnvPrefix("ONETAGGER")
	viper.AutomaticEnv()
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// setupLogging applies the shared flags and the log-file tee
func setupLogging() {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
	util.Setup()

	// Migrates pre-v2 settings files as a side effect
	if _, err := util.LoadSettings(); err != nil {
		util.WarnLog("Settings unreadable: %v", err)
	}
}

func main() {
	defer util.CloseLogFile()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitRuntimeError)
	}
}
