package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/lanview/camnode/cmd"
	"github.com/lanview/camnode/internal/api"
	"github.com/lanview/camnode/internal/config"
	"github.com/lanview/camnode/internal/events"
	"github.com/lanview/camnode/internal/gpu"
	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/streams"
	"github.com/lanview/camnode/internal/streams/store"
	"github.com/lanview/camnode/internal/updater"
	"github.com/lanview/camnode/internal/version"
	"github.com/spf13/cobra"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to settings file" short:"c" default:"camnode.toml"`

	// Server settings
	Port int    `help:"Port to listen on" short:"p" default:"8000" toml:"server.port" env:"PORT" envAlias:"APP_PORT"`
	Host string `help:"Interface to bind" default:"0.0.0.0" toml:"server.host" env:"HOST"`

	// Catalogue settings
	CataloguePath string `help:"Stream catalogue file" default:"/app/config/config.yml" toml:"catalogue.path" env:"CATALOGUE_PATH"`

	// Worker settings
	MaxRunning   int    `help:"Concurrent FFmpeg worker cap" default:"4" toml:"workers.max_running" env:"MAX_RUNNING"`
	ProbeTimeout string `help:"Connectivity probe timeout" default:"2s" toml:"workers.probe_timeout" env:"PROBE_TIMEOUT"`

	// GPU settings
	GPUBackend  string `help:"Force the GPU backend (none, nvidia, amd, intel)" default:"" toml:"gpu.backend" env:"GPU_BACKEND"`
	GPURequired bool   `help:"Report degraded health when no GPU backend is available" default:"false" toml:"gpu.required" env:"GPU_REQUIRED"`

	// HTTP settings
	CORSOrigins    string `help:"Comma-separated allowed CORS origins" default:"*" toml:"http.cors_origins" env:"CORS_ORIGINS"`
	RateLimitRPS   int    `help:"Sustained mutating requests per second per client" default:"5" toml:"http.rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int    `help:"Mutating request burst per client" default:"10" toml:"http.rate_limit_burst" env:"RATE_LIMIT_BURST"`
	StaticDir      string `help:"Serve the dashboard from this directory instead of the embedded build" default:"" toml:"http.static_dir" env:"STATIC_DIR"`

	// Update settings
	UpdatesEnabled   bool   `help:"Enable the self-update endpoints" default:"true" toml:"updates.enabled" env:"UPDATES_ENABLED"`
	UpdateRepository string `help:"GitHub repository for release downloads" default:"lanview/camnode" toml:"updates.repository" env:"UPDATE_REPOSITORY"`
	UpdatePrerelease bool   `help:"Include prereleases when checking for updates" default:"false" toml:"updates.prerelease" env:"UPDATE_PRERELEASE"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingRegistry string `help:"Registry logging level" default:"info" toml:"logging.registry" env:"LOGGING_REGISTRY"`
	LoggingWorker   string `help:"Worker logging level" default:"info" toml:"logging.worker" env:"LOGGING_WORKER"`
	LoggingPipeline string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingHub      string `help:"Hub logging level" default:"info" toml:"logging.hub" env:"LOGGING_HUB"`
	LoggingFFmpeg   string `help:"FFmpeg logging level" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingUpdater  string `help:"Updater logging level" default:"info" toml:"logging.updater" env:"LOGGING_UPDATER"`

	// CI settings
	DryRun bool `help:"Print version info and exit without binding" default:"false" env:"DRY_RUN" envAlias:"CI_DRY_RUN"`
}

func main() {
	var root *cobra.Command

	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, root); loadErr != nil {
			slog.Warn("Failed to load settings", "error", loadErr)
		}

		// CI smoke runs verify the binary works without binding a port
		if opts.DryRun {
			info := version.Get()
			fmt.Printf("camnode %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
			os.Exit(0)
		}

		// Initialize logging system
		loggingConfig := logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"api":      opts.LoggingAPI,
				"registry": opts.LoggingRegistry,
				"worker":   opts.LoggingWorker,
				"pipeline": opts.LoggingPipeline,
				"hub":      opts.LoggingHub,
				"ffmpeg":   opts.LoggingFFmpeg,
				"updater":  opts.LoggingUpdater,
			},
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")
		info := version.Get()
		logger.Info("Starting camnode", "version", info.Version, "commit", info.GitCommit)

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Mirror every log record onto the bus so /api/system/logs can
		// stream it.
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Timestamp:  entry.Timestamp.UTC().Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		// Resolve the GPU backend: explicit flag wins over detection.
		backend := gpu.DetectBackend()
		if opts.GPUBackend != "" {
			forced := gpu.Backend(strings.ToLower(opts.GPUBackend))
			switch forced {
			case gpu.BackendNone, gpu.BackendNvidia, gpu.BackendAMD, gpu.BackendIntel:
				backend = forced
			default:
				logger.Warn("Unknown GPU backend override, keeping detected value",
					"override", opts.GPUBackend, "detected", string(backend))
			}
		}
		gpuRegistry := gpu.NewRegistry(backend)

		probeTimeout := streams.DefaultProbeTimeout
		if parsed, parseErr := time.ParseDuration(opts.ProbeTimeout); parseErr == nil && parsed > 0 {
			probeTimeout = parsed
		}

		// Create the stream registry over the YAML catalogue
		catalogueStore := store.New(opts.CataloguePath)
		registry := streams.NewRegistry(streams.Options{
			Store:      catalogueStore,
			GPU:        gpuRegistry,
			Bus:        eventBus,
			Prober:     &streams.FFmpegProber{Timeout: probeTimeout},
			MaxRunning: opts.MaxRunning,
		})

		// Self-update service, nil when the endpoints are switched off
		var updateService updater.Service
		if opts.UpdatesEnabled {
			svc, updErr := updater.NewService(&updater.Options{
				Repository: opts.UpdateRepository,
				Prerelease: opts.UpdatePrerelease,
			})
			if updErr != nil {
				logger.Warn("Update service unavailable", "error", updErr)
			} else {
				updateService = svc
			}
		}

		server := api.NewServer(registry, gpuRegistry, eventBus, api.Options{
			CORSOrigins:    splitOrigins(opts.CORSOrigins),
			RateLimitRPS:   float64(opts.RateLimitRPS),
			RateLimitBurst: opts.RateLimitBurst,
			GPURequired:    opts.GPURequired,
			StaticDir:      opts.StaticDir,
			UpdateService:  updateService,
		})

		// Pick up outside edits to the catalogue file. The registry
		// ignores reloads that match its in-memory state, so saves it
		// wrote itself settle without a restart storm.
		catalogueWatcher := config.NewFileWatcher(opts.CataloguePath, func(string) ([]streams.Stream, error) {
			return catalogueStore.Load()
		})
		catalogueWatcher.OnReload(func(list []streams.Stream) {
			registry.AdoptCatalogue(list)
		})

		hooks.OnStart(func() {
			if watchErr := catalogueWatcher.Start(); watchErr != nil {
				logger.Warn("Catalogue watcher unavailable", "error", watchErr, "path", opts.CataloguePath)
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			logger.Info("Starting HTTP server", "addr", addr)
			if startErr := server.Start(addr); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Stop all FFmpeg workers after the HTTP server stops
			// accepting new requests
			registry.StopAll()

			if stopErr := catalogueWatcher.Stop(); stopErr != nil {
				logger.Error("Error stopping catalogue watcher", "error", stopErr)
			}
		})
	})

	root = cli.Root()

	// Add validate command
	root.AddCommand(cmd.CreateValidateCmd())

	// Add probe command
	root.AddCommand(cmd.CreateProbeCmd())

	// Add update command
	root.AddCommand(cmd.CreateUpdateCmd())

	// Add service command
	root.AddCommand(cmd.CreateServiceCmd())

	// Run the CLI
	cli.Run()
}

// splitOrigins turns the comma-separated CORS flag into a list,
// dropping empty entries.
func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
