package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/lanview/camnode/internal/config"
	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/updater"
	"github.com/spf13/cobra"
)

// CreateUpdateCmd creates the update command.
func CreateUpdateCmd() *cobra.Command {
	var settingsPath string
	var checkOnly bool
	var rollback bool
	var repository string
	var prerelease bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the binary from GitHub releases",
		Long: `Without flags this downloads and applies the newest release, backing up ` +
			`the running binary first so --rollback can restore it.`,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(config.LoadLoggingConfig(settingsPath))

			svc, err := updater.NewService(&updater.Options{
				Repository: repository,
				Prerelease: prerelease,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "updater unavailable: %v\n", err)
				os.Exit(1)
			}
			if !svc.IsEnabled() {
				fmt.Fprintf(os.Stderr, "updates disabled: %s\n", svc.DisabledReason())
				os.Exit(1)
			}

			ctx := context.Background()
			switch {
			case rollback:
				if rbErr := svc.Rollback(ctx); rbErr != nil {
					fmt.Fprintf(os.Stderr, "rollback failed: %v\n", rbErr)
					os.Exit(1)
				}
				fmt.Println("previous binary restored")

			case checkOnly:
				info, checkErr := svc.CheckForUpdate(ctx)
				if checkErr != nil {
					fmt.Fprintf(os.Stderr, "check failed: %v\n", checkErr)
					os.Exit(1)
				}
				if !info.UpdateAvailable {
					fmt.Printf("already up to date (%s)\n", info.CurrentVersion)
					return
				}
				fmt.Printf("update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
				if info.ReleaseURL != "" {
					fmt.Println(info.ReleaseURL)
				}

			default:
				info, checkErr := svc.CheckForUpdate(ctx)
				if checkErr != nil {
					fmt.Fprintf(os.Stderr, "check failed: %v\n", checkErr)
					os.Exit(1)
				}
				if !info.UpdateAvailable {
					fmt.Printf("already up to date (%s)\n", info.CurrentVersion)
					return
				}
				fmt.Printf("applying %s -> %s\n", info.CurrentVersion, info.LatestVersion)
				if applyErr := svc.ApplyUpdate(ctx); applyErr != nil {
					fmt.Fprintf(os.Stderr, "update failed: %v\n", applyErr)
					os.Exit(1)
				}
				fmt.Println("update applied, restarting")
			}
		},
	}

	cmd.Flags().StringVar(&settingsPath, "config", "camnode.toml", "Settings file supplying [logging] levels")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether a newer release exists")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Restore the backed-up previous binary")
	cmd.Flags().StringVar(&repository, "repository", "lanview/camnode", "GitHub repository for release downloads")
	cmd.Flags().BoolVar(&prerelease, "prerelease", false, "Include prereleases")

	return cmd
}
