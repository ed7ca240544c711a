package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/franz/onetagger/internal/custom"
	"github.com/franz/onetagger/internal/platforms"
	"github.com/franz/onetagger/internal/util"
)

var (
	platformsCmd = &cobra.Command{
		Use:   "platforms",
		Short: "List available platforms and manage downloadable plugins",
	}

	platformsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered platforms, plugins included",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			registry := platforms.NewRegistry()
			custom.LoadAll(registry)
			for _, id := range registry.IDs() {
				builder, err := registry.Get(id)
				if err != nil {
					continue
				}
				info := builder.Info()
				fmt.Printf("%-14s %s\n", info.ID, info.Description)
			}
			return nil
		},
	}

	platformsInstallCmd = &cobra.Command{
		Use:   "install <id>",
		Short: "Download and install a platform plugin from the remote manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			manifest, err := custom.FetchManifest()
			if err != nil {
				return fmt.Errorf("fetch manifest: %w", err)
			}
			for _, entry := range manifest.Platforms {
				if entry.ID == args[0] {
					if err := custom.InstallPlatform(entry); err != nil {
						return fmt.Errorf("install %s: %w", entry.ID, err)
					}
					util.SuccessLog("Installed %s@%s", entry.ID, entry.Version)
					return nil
				}
			}
			fmt.Fprintf(os.Stderr, "Error: platform %q not in the manifest\n", args[0])
			os.Exit(exitUserError)
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(platformsCmd)
	platformsCmd.AddCommand(platformsListCmd)
	platformsCmd.AddCommand(platformsInstallCmd)
}
