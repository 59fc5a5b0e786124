package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/lanview/camnode/internal/api/models"
	"github.com/lanview/camnode/internal/events"
	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/streams"
	"github.com/lanview/camnode/internal/updater"
	"github.com/lanview/camnode/internal/version"
)

// registerSystemRoutes registers the version, log streaming and
// self-update endpoints.
func (s *Server) registerSystemRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/system/version",
		Summary:     "Version",
		Description: "Application version and build information",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerLogRoutes()
	s.registerUpdateRoutes()
}

// registerLogRoutes registers the log streaming SSE endpoint.
func (s *Server) registerLogRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/system/logs",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends buffered history first, then streams new records.",
		Tags:        []string{"system"},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, input *struct {
		Module string `query:"module" doc:"Only stream records from this module"`
	}, send sse.Sender) {
		// Replay the ring buffer before going live.
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadAll() {
				if input.Module != "" && entry.Module != input.Module {
					continue
				}
				event := events.LogEntryEvent{
					Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
					Level:      entry.Level,
					Module:     entry.Module,
					Message:    entry.Message,
					Attributes: entry.Attributes,
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}

		eventCh := make(chan any, 100) // Larger buffer for logs
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.bus, eventCh)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				entry, ok := ev.(events.LogEntryEvent)
				if !ok {
					continue
				}
				if input.Module != "" && entry.Module != input.Module {
					continue
				}
				if err := send.Data(entry); err != nil {
					return
				}
			}
		}
	})
}

// registerUpdateRoutes registers the self-update endpoints. Without a
// wired update service the routes are absent.
func (s *Server) registerUpdateRoutes() {
	svc := s.options.UpdateService
	if svc == nil {
		return
	}
	if !svc.IsEnabled() {
		s.registerDisabledUpdateRoutes(svc.DisabledReason())
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-update-status",
		Method:      http.MethodGet,
		Path:        "/api/system/update",
		Summary:     "Update Status",
		Description: "Current updater state. With check=true, queries the release feed first.",
		Tags:        []string{"system"},
		Errors:      []int{500},
	}, func(ctx context.Context, input *struct {
		Check bool `query:"check" doc:"Query the release feed before reporting"`
	}) (*models.UpdateStatusResponse, error) {
		var info *updater.UpdateInfo
		if input.Check {
			checked, err := svc.CheckForUpdate(ctx)
			if err != nil {
				return nil, s.mapUpdateError(ctx, err)
			}
			info = checked
		}

		status := svc.GetStatus(ctx)
		body := models.UpdateStatusData{
			State:           string(status.State),
			CurrentVersion:  status.CurrentVersion,
			TargetVersion:   status.TargetVersion,
			Progress:        status.Progress,
			Error:           status.Error,
			LastChecked:     status.LastChecked,
			BackupAvailable: status.BackupAvailable,
			BackupVersion:   status.BackupVersion,
		}
		if info != nil {
			body.UpdateAvailable = info.UpdateAvailable
			body.LatestVersion = info.LatestVersion
			body.ReleaseNotes = info.ReleaseNotes
			body.ReleaseURL = info.ReleaseURL
		}
		return &models.UpdateStatusResponse{Body: body}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "apply-update",
		Method:        http.MethodPost,
		Path:          "/api/system/update/apply",
		Summary:       "Apply Update",
		Description:   "Download and apply the available update. Will trigger a restart.",
		Tags:          []string{"system"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{400, 409, 429, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateApplyResponse, error) {
		if err := svc.ApplyUpdate(ctx); err != nil {
			return nil, s.mapUpdateError(ctx, err)
		}
		return &models.UpdateApplyResponse{
			Body: models.UpdateApplyData{Message: "Update applied, restarting..."},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "rollback-update",
		Method:        http.MethodPost,
		Path:          "/api/system/update/rollback",
		Summary:       "Rollback Update",
		Description:   "Revert to the previously backed up version. Will trigger a restart.",
		Tags:          []string{"system"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{404, 409, 429, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateRollbackResponse, error) {
		if err := svc.Rollback(ctx); err != nil {
			return nil, s.mapUpdateError(ctx, err)
		}
		return &models.UpdateRollbackResponse{
			Body: models.UpdateRollbackData{Message: "Rollback complete, restarting..."},
		}, nil
	})
}

// registerDisabledUpdateRoutes keeps the update surface discoverable
// when self-update cannot run, answering 503 with the reason.
func (s *Server) registerDisabledUpdateRoutes(reason string) {
	disabledHandler := func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		return nil, s.mapUpdateError(ctx, &updater.Error{
			Code:    updater.ErrCodeDisabled,
			Message: "update service disabled: " + reason,
		})
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-update-status",
		Method:      http.MethodGet,
		Path:        "/api/system/update",
		Summary:     "Update Status",
		Description: "Current updater state (disabled)",
		Tags:        []string{"system"},
		Errors:      []int{503},
	}, disabledHandler)

	huma.Register(s.api, huma.Operation{
		OperationID: "apply-update",
		Method:      http.MethodPost,
		Path:        "/api/system/update/apply",
		Summary:     "Apply Update",
		Description: "Apply update (disabled)",
		Tags:        []string{"system"},
		Errors:      []int{503},
	}, disabledHandler)

	huma.Register(s.api, huma.Operation{
		OperationID: "rollback-update",
		Method:      http.MethodPost,
		Path:        "/api/system/update/rollback",
		Summary:     "Rollback Update",
		Description: "Rollback update (disabled)",
		Tags:        []string{"system"},
		Errors:      []int{503},
	}, disabledHandler)
}

// mapUpdateError converts updater errors into the transport error body.
func (s *Server) mapUpdateError(ctx context.Context, err error) error {
	resp := &ErrorResponse{RequestID: RequestID(ctx)}

	var updateErr *updater.Error
	if !errors.As(err, &updateErr) {
		s.logger.Error("Update operation failed", "error", err, "request_id", resp.RequestID)
		resp.Code = streams.ErrCodeInternal
		resp.Message = "internal error"
		resp.status = http.StatusInternalServerError
		return resp
	}

	resp.Code = updateErr.Code
	resp.Message = updateErr.Message
	switch updateErr.Code {
	case updater.ErrCodeInvalidState:
		resp.status = http.StatusConflict
	case updater.ErrCodeNoUpdate:
		resp.status = http.StatusBadRequest
	case updater.ErrCodeNoBackup:
		resp.status = http.StatusNotFound
	case updater.ErrCodeDisabled:
		resp.status = http.StatusServiceUnavailable
	default:
		resp.status = http.StatusInternalServerError
	}
	return resp
}
