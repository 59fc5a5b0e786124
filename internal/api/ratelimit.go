package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/time/rate"

	"github.com/lanview/camnode/internal/streams"
)

// Rate limit defaults for the mutating API surface.
const (
	DefaultRateLimitRPS   = 5
	DefaultRateLimitBurst = 10

	limiterCleanupInterval = 5 * time.Minute
)

// RateLimiter applies a per-client token bucket to mutating API calls.
// Reads, the frame endpoints and the operational surfaces stay exempt
// so a throttled dashboard can still watch its streams.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu          sync.Mutex
	perClient   map[string]*rate.Limiter
	lastCleanup time.Time
}

// NewRateLimiter creates a limiter allowing rps sustained mutating
// requests per client with the given burst. Non-positive values fall
// back to the defaults.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = DefaultRateLimitRPS
	}
	if burst <= 0 {
		burst = DefaultRateLimitBurst
	}
	return &RateLimiter{
		rps:         rate.Limit(rps),
		burst:       burst,
		perClient:   make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether one more mutating request from the client fits
// its bucket.
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	lim, ok := rl.perClient[clientIP]
	if !ok {
		lim = rate.NewLimiter(rl.rps, rl.burst)
		rl.perClient[clientIP] = lim
	}
	if time.Since(rl.lastCleanup) >= limiterCleanupInterval {
		// Drop all buckets so one-off clients do not accumulate forever.
		// The current client's fresh bucket still answers this request.
		rl.perClient = map[string]*rate.Limiter{clientIP: lim}
		rl.lastCleanup = time.Now()
	}
	rl.mu.Unlock()

	return lim.Allow()
}

// Middleware enforces the limiter on POST/PUT/PATCH/DELETE under /api/.
func (rl *RateLimiter) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		switch ctx.Method() {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next(ctx)
			return
		}
		if !strings.HasPrefix(ctx.URL().Path, "/api/") {
			next(ctx)
			return
		}
		if !rl.Allow(clientIPFromContext(ctx)) {
			ctx.SetHeader("Retry-After", "1")
			writeMiddlewareError(ctx, &ErrorResponse{
				Code:      streams.ErrCodeRateLimited,
				Message:   "too many requests",
				RequestID: RequestID(ctx.Context()),
				status:    http.StatusTooManyRequests,
			})
			return
		}
		next(ctx)
	}
}
