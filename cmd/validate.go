package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/streams"
	"github.com/lanview/camnode/internal/streams/store"
	"github.com/spf13/cobra"
)

// CreateValidateCmd creates the validate command.
func CreateValidateCmd() *cobra.Command {
	var cataloguePath string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the stream catalogue offline",
		Long: `Loads the YAML catalogue through the same path the server uses and ` +
			`reports schema or invariant violations without touching any worker.`,
		Run: func(_ *cobra.Command, _ []string) {
			// Keep the report clean, only warnings and errors
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			list, err := store.New(cataloguePath).Load()
			if err != nil {
				fmt.Fprintf(os.Stderr, "catalogue invalid: %v\n", err)
				os.Exit(1)
			}

			if !quiet {
				sorted := make([]streams.Stream, len(list))
				copy(sorted, list)
				sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
				for _, s := range sorted {
					fmt.Printf("%3d  %-30s %-12s %s\n", s.Order, s.Name, s.Status, streams.MaskURL(s.RTSPURL))
				}
			}
			fmt.Printf("catalogue ok: %d stream(s) in %s\n", len(list), cataloguePath)
		},
	}

	cmd.Flags().StringVar(&cataloguePath, "catalogue", store.DefaultPath, "Path to the stream catalogue")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the summary line")

	return cmd
}
