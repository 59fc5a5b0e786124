// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to an in-memory ring buffer consumed by the logs SSE endpoint
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"worker":   "debug",  // Per-module overrides
//			"pipeline": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("streams")
//	logger.Info("Catalogue loaded", "count", n)
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("worker").With("stream_id", id)
//	logger.Info("Worker started")  // Includes stream_id in all logs
//
// # Viewing Logs
//
// When running as a systemd service or on a system with journald:
//
//	journalctl -t camnode              # All camnode logs
//	journalctl -t camnode -f           # Follow live
//	journalctl -t camnode -p err       # Errors only
//
// Filter by structured fields:
//
//	journalctl -t camnode MODULE=worker
//	journalctl -t camnode STREAM_ID=58c0f4e8
//
// # Configuration
//
// Log levels can be set globally or per-module; module-specific levels
// override the global level for that module only. Any key in the
// [logging] table other than level and format pins one module's level.
//
//	[logging]
//	level = "info"
//	format = "text"
//	worker = "debug"
//	api = "warn"
package logging
