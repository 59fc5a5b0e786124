package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanview/camnode/internal/api/models"
	"github.com/lanview/camnode/internal/events"
	"github.com/lanview/camnode/internal/gpu"
	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/pipeline"
	"github.com/lanview/camnode/internal/streams"
	"github.com/lanview/camnode/internal/updater"
	"github.com/lanview/camnode/internal/version"
	"github.com/lanview/camnode/ui"
)

// shutdownGrace bounds how long in-flight requests may outlive Stop.
const shutdownGrace = 5 * time.Second

// StreamService is the registry surface the API layer consumes.
type StreamService interface {
	CatalogueLoaded() bool
	List() []streams.Stream
	Get(id string) (streams.Stream, error)
	StatusOf(id string) (streams.StreamStatus, error)
	Create(ctx context.Context, params streams.CreateParams) (streams.Stream, bool, error)
	Update(ctx context.Context, id string, patch streams.UpdateParams) (streams.Stream, bool, error)
	Delete(ctx context.Context, id string) error
	Reorder(ids []string) error
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Subscribe(id string) (<-chan pipeline.Frame, func(), error)
}

// Options configures the API server.
type Options struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	GPURequired    bool
	StaticDir      string
	UpdateService  updater.Service
}

// Server is the HTTP control plane: the huma-registered JSON API plus
// the raw MJPEG, score and Prometheus mounts.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	handler    http.Handler
	httpServer *http.Server
	service    StreamService
	gpu        *gpu.Registry
	bus        *events.Bus
	limiter    *RateLimiter
	options    Options
	logger     *slog.Logger
}

// NewServer creates the API server with Huma v2 on Go 1.22+ native
// routing and wires middleware, raw mounts and the dashboard fallback.
func NewServer(service StreamService, gpuReg *gpu.Registry, bus *events.Bus, opts Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	if len(opts.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = opts.CORSOrigins
	}

	// Add CORS preflight handler for all OPTIONS requests
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("Camnode API", version.String())
	config.Info.Description = "LAN camera manager: FFmpeg supervision, MJPEG fan-out and catalogue control"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		service: service,
		gpu:     gpuReg,
		bus:     bus,
		limiter: NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	// CORS first so throttled responses still carry the headers, then
	// logging, then the mutation rate limit.
	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	api.UseMiddleware(server.limiter.Middleware())

	// Raw mounts bypass huma: the Prometheus exposition and the two
	// long-lived per-stream pipes, which stream past any JSON schema.
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/streams/{id}/mjpeg", server.handleMJPEG)
	mux.HandleFunc("GET /api/streams/{id}/scores", server.handleScores)

	server.registerRoutes()

	// Serve the dashboard at root, but only for non-API paths.
	if frontendHandler, err := ui.Handler(opts.StaticDir); err == nil {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api") {
				server.writeRawError(w, r, streams.NewStreamError(streams.ErrCodeNotFound, "no such endpoint", nil))
				return
			}
			frontendHandler.ServeHTTP(w, r)
		})
	}

	server.handler = RequestIDHandler(mux)
	return server
}

// Start starts the HTTP server on the specified address and blocks
// until the listener closes.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting camnode API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.handler,
	}

	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server. Long-lived MJPEG and SSE
// connections are cut when the grace period runs out.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	// Health endpoint: catalogue and GPU readiness
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health",
		Description: "Readiness of the control plane, the catalogue and the GPU backend",
		Tags:        []string{"system"},
		Errors:      []int{503},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		list := s.service.List()
		entries := make([]models.HealthStreamEntry, 0, len(list))
		for _, st := range list {
			entries = append(entries, models.HealthStreamEntry{ID: st.ID, Status: string(st.Status)})
		}

		resp := &models.HealthResponse{Status: http.StatusOK}
		resp.Body = models.HealthData{
			Status:     "ok",
			Streams:    entries,
			GPUBackend: string(s.gpu.Backend()),
		}
		if !s.service.CatalogueLoaded() || (s.options.GPURequired && s.gpu.Backend() == gpu.BackendNone) {
			resp.Status = http.StatusServiceUnavailable
			resp.Body.Status = "degraded"
		}
		return resp, nil
	})

	// Stream endpoints
	s.registerStreamRoutes()

	// System endpoints
	s.registerSystemRoutes()
}
