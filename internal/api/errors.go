package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/lanview/camnode/internal/streams"
)

// ErrorResponse is the JSON body for every API failure.
type ErrorResponse struct {
	Code      string         `json:"code" example:"NOT_FOUND" doc:"Stable machine-readable error code"`
	Message   string         `json:"message" example:"no stream with that id" doc:"Human-readable description"`
	Details   map[string]any `json:"details,omitempty" doc:"Additional context for the failure"`
	RequestID string         `json:"request_id,omitempty" doc:"Id echoed in the X-Request-Id response header"`

	status int
}

func (e *ErrorResponse) Error() string {
	return e.Message
}

// GetStatus implements huma.StatusError.
func (e *ErrorResponse) GetStatus() int {
	return e.status
}

// Route errors produced inside huma (validation, unparseable bodies)
// get the same body shape as domain errors.
func init() {
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		// huma reports schema violations as 422; the invalid-input
		// family here is uniformly 400.
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		resp := &ErrorResponse{
			Code:    codeForStatus(status),
			Message: message,
			status:  status,
		}
		items := make([]string, 0, len(errs))
		for _, err := range errs {
			if err != nil {
				items = append(items, err.Error())
			}
		}
		if len(items) > 0 {
			resp.Details = map[string]any{"errors": items}
		}
		return resp
	}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return streams.ErrCodeNotFound
	case status == http.StatusTooManyRequests:
		return streams.ErrCodeRateLimited
	case status >= http.StatusInternalServerError:
		return streams.ErrCodeInternal
	default:
		return streams.ErrCodeInvalidParams
	}
}

// mapStreamError converts a domain error into the transport error body.
// Internal causes never reach the response; they are logged against the
// request id instead.
func (s *Server) mapStreamError(ctx context.Context, err error) error {
	resp := &ErrorResponse{RequestID: RequestID(ctx)}

	var streamErr *streams.StreamError
	if !errors.As(err, &streamErr) {
		s.logger.Error("Unclassified handler error", "error", err, "request_id", resp.RequestID)
		resp.Code = streams.ErrCodeInternal
		resp.Message = "internal error"
		resp.status = http.StatusInternalServerError
		return resp
	}

	resp.Code = streamErr.Code
	resp.Message = streamErr.Message
	switch streamErr.Code {
	case streams.ErrCodeInvalidRTSPURL, streams.ErrCodeDuplicateName,
		streams.ErrCodeInvalidParams, streams.ErrCodeInvalidOrder:
		resp.status = http.StatusBadRequest
	case streams.ErrCodeNotFound:
		resp.status = http.StatusNotFound
	case streams.ErrCodeConcurrencyLimit:
		resp.status = http.StatusConflict
	case streams.ErrCodeGPUUnavailable, streams.ErrCodeStreamNotRunning:
		resp.status = http.StatusServiceUnavailable
	case streams.ErrCodeRateLimited:
		resp.status = http.StatusTooManyRequests
	default:
		// INTERNAL plus the store-level kinds; the cause stays in the log.
		s.logger.Error("Internal error serving request", "error", err, "request_id", resp.RequestID)
		resp.Code = streams.ErrCodeInternal
		resp.Message = "internal error"
		resp.status = http.StatusInternalServerError
	}
	return resp
}

// writeRawError renders an error on handlers mounted directly on the
// mux, outside huma's response path.
func (s *Server) writeRawError(w http.ResponseWriter, r *http.Request, err error) {
	var resp *ErrorResponse
	if !errors.As(s.mapStreamError(r.Context(), err), &resp) {
		resp = &ErrorResponse{Code: streams.ErrCodeInternal, Message: "internal error", status: http.StatusInternalServerError}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeMiddlewareError renders an error from middleware, before any
// operation handler has run.
func writeMiddlewareError(ctx huma.Context, resp *ErrorResponse) {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetStatus(resp.status)
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_, _ = ctx.BodyWriter().Write(body)
}
