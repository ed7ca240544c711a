package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/franz/onetagger/internal/platforms"
	"github.com/franz/onetagger/internal/util"
)

var (
	authClientID     string
	authClientSecret string
	authExpose       bool
	authPrompt       bool

	authorizeSpotifyCmd = &cobra.Command{
		Use:   "authorize-spotify",
		Short: "Authorize Spotify and cache the token",
		Long: `Runs the Spotify OAuth code grant. By default a local callback
listener waits for the redirect; --prompt instead asks for the redirected
URL to be pasted. Credentials fall back to CLIENT_ID / CLIENT_SECRET from
a .env file when the flags are absent.`,
		RunE: runAuthorizeSpotify,
	}
)

func init() {
	rootCmd.AddCommand(authorizeSpotifyCmd)
	authorizeSpotifyCmd.Flags().StringVar(&authClientID, "client-id", "", "Spotify client id")
	authorizeSpotifyCmd.Flags().StringVar(&authClientSecret, "client-secret", "", "Spotify client secret")
	authorizeSpotifyCmd.Flags().BoolVar(&authExpose, "expose", false, "bind the callback listener on 0.0.0.0")
	authorizeSpotifyCmd.Flags().BoolVar(&authPrompt, "prompt", false, "no listener, paste the redirected URL instead")
}

func runAuthorizeSpotify(cmd *cobra.Command, args []string) error {
	setupLogging()

	// .env fallback for the credentials
	if authClientID == "" || authClientSecret == "" {
		if err := godotenv.Load(); err == nil {
			if authClientID == "" {
				authClientID = os.Getenv("CLIENT_ID")
			}
			if authClientSecret == "" {
				authClientSecret = os.Getenv("CLIENT_SECRET")
			}
		}
	}
	if authClientID == "" || authClientSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: missing --client-id / --client-secret")
		os.Exit(exitUserError)
	}

	authURL, _, redirectURI := platforms.SpotifyAuthURL(authClientID, authExpose)
	fmt.Printf("\nPlease go to the following URL and authorize the app:\n%s\n", authURL)

	if authPrompt {
		fmt.Print("\nEnter the URL you were redirected to and press enter: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read redirected url: %w", err)
		}
		if _, err := platforms.SpotifyAuthCode(authClientID, authClientSecret, redirectURI, line); err != nil {
			return fmt.Errorf("spotify authentication failed: %w", err)
		}
	} else {
		if _, err := platforms.SpotifyAuthServer(authClientID, authClientSecret, redirectURI, authExpose); err != nil {
			return fmt.Errorf("spotify authentication failed: %w", err)
		}
	}

	util.SuccessLog("Successfully authorized Spotify")
	return nil
}
