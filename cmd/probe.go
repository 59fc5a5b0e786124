package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lanview/camnode/internal/config"
	"github.com/lanview/camnode/internal/gpu"
	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/streams"
	"github.com/spf13/cobra"
)

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var settingsPath string
	var timeout time.Duration
	var backendOverride string
	var software bool

	cmd := &cobra.Command{
		Use:   "probe <rtsp-url>",
		Short: "Check that a camera answers",
		Long: `Asks FFmpeg to decode a single frame from the source and discard it, ` +
			`using the same flag set a worker would get for the detected GPU backend.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			logging.Initialize(config.LoadLoggingConfig(settingsPath))

			rtspURL := args[0]
			if err := streams.ValidateRTSPURL(rtspURL); err != nil {
				fmt.Fprintf(os.Stderr, "bad url: %v\n", err)
				os.Exit(1)
			}

			backend := gpu.DetectBackend()
			if backendOverride != "" {
				backend = gpu.Backend(strings.ToLower(backendOverride))
			}
			registry := gpu.NewRegistry(backend)

			params := registry.DefaultParams()
			if software {
				params = registry.SoftwareParams()
			}

			fmt.Printf("probing %s (backend %s, timeout %s)\n",
				streams.MaskURL(rtspURL), registry.Backend(), timeout)

			prober := &streams.FFmpegProber{Timeout: timeout}
			if err := prober.Probe(context.Background(), rtspURL, params); err != nil {
				fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("ok: source answered with a frame")
		},
	}

	cmd.Flags().StringVar(&settingsPath, "config", "camnode.toml", "Settings file supplying [logging] levels")
	cmd.Flags().DurationVar(&timeout, "timeout", streams.DefaultProbeTimeout, "How long to wait for a frame")
	cmd.Flags().StringVar(&backendOverride, "backend", "", "Force the GPU backend (none, nvidia, amd, intel)")
	cmd.Flags().BoolVar(&software, "software", false, "Probe without hardware acceleration flags")

	return cmd
}
