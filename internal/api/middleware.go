package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/metrics"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDHandler wraps the whole mux so every route, including the
// raw MJPEG and SSE mounts, gets an id and the X-Request-Id response
// header.
func RequestIDHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestID returns the id assigned by RequestIDHandler, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ClientIP resolves the originating client address, honoring proxy
// headers before falling back to the socket address.
func ClientIP(remoteAddr, forwardedFor, realIP string) string {
	if forwardedFor != "" {
		// X-Forwarded-For can list several hops; the first is the client.
		first := forwardedFor
		if idx := strings.Index(first, ","); idx >= 0 {
			first = first[:idx]
		}
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func clientIPFromContext(ctx huma.Context) string {
	return ClientIP(ctx.RemoteAddr(), ctx.Header("X-Forwarded-For"), ctx.Header("X-Real-IP"))
}

// HTTPLoggingMiddleware logs API requests with a level chosen from the
// response status, and feeds the HTTP request metrics.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	method := ctx.Method()
	path := ctx.URL().Path
	query := ctx.URL().RawQuery

	logAttrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("client_ip", clientIPFromContext(ctx)),
		slog.String("request_id", RequestID(ctx.Context())),
	}

	if query != "" {
		logAttrs = append(logAttrs, slog.String("query", query))
	}

	if ua := ctx.Header("User-Agent"); ua != "" {
		logAttrs = append(logAttrs, slog.String("user_agent", ua))
	}

	next(ctx)

	duration := time.Since(start)
	status := ctx.Status()

	// The operation path template keeps metric label cardinality bounded.
	route := path
	if op := ctx.Operation(); op != nil && op.Path != "" {
		route = op.Path
	}
	metrics.IncHTTPRequest(method, route, strconv.Itoa(status))
	metrics.ObserveHTTPDuration(route, duration.Seconds())

	logAttrs = append(logAttrs,
		slog.Int("status", status),
		slog.Duration("duration", duration),
	)

	message := "HTTP request completed"
	switch {
	case method == http.MethodOptions:
		logger.LogAttrs(ctx.Context(), slog.LevelDebug, message, logAttrs...)
	case status >= 500:
		logger.LogAttrs(ctx.Context(), slog.LevelError, message, logAttrs...)
	case status >= 400:
		logger.LogAttrs(ctx.Context(), slog.LevelWarn, message, logAttrs...)
	default:
		logger.LogAttrs(ctx.Context(), slog.LevelInfo, message, logAttrs...)
	}
}
