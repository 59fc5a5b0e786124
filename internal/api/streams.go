package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/lanview/camnode/internal/api/models"
	"github.com/lanview/camnode/internal/streams"
)

// registerStreamRoutes registers all stream-related endpoints
func (s *Server) registerStreamRoutes() {
	// List catalogue
	huma.Register(s.api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/api/streams",
		Summary:     "List Streams",
		Description: "All catalogue records in dashboard order, credentials masked",
		Tags:        []string{"streams"},
		Errors:      []int{500},
	}, func(ctx context.Context, input *struct{}) (*models.StreamListResponse, error) {
		list := s.service.List()
		masked := make([]streams.Stream, len(list))
		for i, st := range list {
			masked[i] = st.Masked()
		}
		return &models.StreamListResponse{
			Body: models.StreamListData{
				Streams: masked,
				Count:   len(masked),
			},
		}, nil
	})

	// Create stream
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-stream",
		Method:        http.MethodPost,
		Path:          "/api/streams",
		Summary:       "Create Stream",
		Description:   "Add a camera to the catalogue. Connectivity is probed best-effort; the record starts stopped either way.",
		Tags:          []string{"streams"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 429, 500},
	}, func(ctx context.Context, input *models.CreateStreamRequest) (*models.StreamResponse, error) {
		created, unconfirmed, err := s.service.Create(ctx, streams.CreateParams{
			Name:           input.Body.Name,
			RTSPURL:        input.Body.RTSPURL,
			FFmpegParams:   input.Body.FFmpegParams,
			HWAccelEnabled: input.Body.HWAccelEnabled,
			TargetFPS:      input.Body.TargetFPS,
			Zones:          input.Body.Zones,
		})
		if err != nil {
			return nil, s.mapStreamError(ctx, err)
		}
		return streamResponse(created, unconfirmed), nil
	})

	// Get one stream
	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream",
		Method:      http.MethodGet,
		Path:        "/api/streams/{id}",
		Summary:     "Get Stream",
		Description: "One catalogue record, credentials masked",
		Tags:        []string{"streams"},
		Errors:      []int{404, 500},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id" doc:"Stream identifier"`
	}) (*models.StreamResponse, error) {
		st, err := s.service.Get(input.ID)
		if err != nil {
			return nil, s.mapStreamError(ctx, err)
		}
		return streamResponse(st, false), nil
	})

	// Edit stream
	huma.Register(s.api, huma.Operation{
		OperationID: "update-stream",
		Method:      http.MethodPatch,
		Path:        "/api/streams/{id}",
		Summary:     "Update Stream",
		Description: "Partial edit; absent fields keep their value. A running worker restarts when the command line changes.",
		Tags:        []string{"streams"},
		Errors:      []int{400, 404, 429, 500},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id" doc:"Stream identifier"`
		Body models.UpdateStreamData
	}) (*models.StreamResponse, error) {
		updated, unconfirmed, err := s.service.Update(ctx, input.ID, streams.UpdateParams{
			Name:           input.Body.Name,
			RTSPURL:        input.Body.RTSPURL,
			HWAccelEnabled: input.Body.HWAccelEnabled,
			FFmpegParams:   input.Body.FFmpegParams,
			TargetFPS:      input.Body.TargetFPS,
			Zones:          input.Body.Zones,
		})
		if err != nil {
			return nil, s.mapStreamError(ctx, err)
		}
		return streamResponse(updated, unconfirmed), nil
	})

	// Delete stream
	huma.Register(s.api, huma.Operation{
		OperationID: "delete-stream",
		Method:      http.MethodDelete,
		Path:        "/api/streams/{id}",
		Summary:     "Delete Stream",
		Description: "Remove a record, stopping its worker first. Repeats are no-ops.",
		Tags:        []string{"streams"},
		Errors:      []int{404, 429, 500},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id" doc:"Stream identifier"`
	}) (*struct{}, error) {
		if err := s.service.Delete(ctx, input.ID); err != nil {
			return nil, s.mapStreamError(ctx, err)
		}
		return &struct{}{}, nil
	})

	// Reorder catalogue
	huma.Register(s.api, huma.Operation{
		OperationID: "reorder-streams",
		Method:      http.MethodPost,
		Path:        "/api/streams/reorder",
		Summary:     "Reorder Streams",
		Description: "Apply a new dashboard order. The list must name every stream exactly once.",
		Tags:        []string{"streams"},
		Errors:      []int{400, 429, 500},
	}, func(ctx context.Context, input *models.ReorderRequest) (*models.StreamListResponse, error) {
		if err := s.service.Reorder(input.Body.Order); err != nil {
			return nil, s.mapStreamError(ctx, err)
		}
		list := s.service.List()
		masked := make([]streams.Stream, len(list))
		for i, st := range list {
			masked[i] = st.Masked()
		}
		return &models.StreamListResponse{
			Body: models.StreamListData{
				Streams: masked,
				Count:   len(masked),
			},
		}, nil
	})

	// Start worker
	huma.Register(s.api, huma.Operation{
		OperationID:   "start-stream",
		Method:        http.MethodPost,
		Path:          "/api/streams/{id}/start",
		Summary:       "Start Stream",
		Description:   "Launch the FFmpeg worker. No-op when already live.",
		Tags:          []string{"streams"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{404, 409, 429, 500},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id" doc:"Stream identifier"`
	}) (*models.StreamActionResponse, error) {
		if err := s.service.Start(ctx, input.ID); err != nil {
			return nil, s.mapStreamError(ctx, err)
		}
		return s.actionResponse(ctx, input.ID)
	})

	// Stop worker
	huma.Register(s.api, huma.Operation{
		OperationID:   "stop-stream",
		Method:        http.MethodPost,
		Path:          "/api/streams/{id}/stop",
		Summary:       "Stop Stream",
		Description:   "Terminate the FFmpeg worker. No-op when not running.",
		Tags:          []string{"streams"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{404, 429, 500},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id" doc:"Stream identifier"`
	}) (*models.StreamActionResponse, error) {
		if err := s.service.Stop(ctx, input.ID); err != nil {
			return nil, s.mapStreamError(ctx, err)
		}
		return s.actionResponse(ctx, input.ID)
	})

	// Detected GPU backend
	huma.Register(s.api, huma.Operation{
		OperationID: "get-gpu-backend",
		Method:      http.MethodGet,
		Path:        "/api/streams/gpu-backend",
		Summary:     "GPU Backend",
		Description: "The hardware decode backend resolved at startup",
		Tags:        []string{"streams"},
	}, func(ctx context.Context, input *struct{}) (*models.GPUBackendResponse, error) {
		return &models.GPUBackendResponse{
			Body: models.GPUBackendData{GPUBackend: string(s.gpu.Backend())},
		}, nil
	})

	// Default FFmpeg flags
	huma.Register(s.api, huma.Operation{
		OperationID: "get-ffmpeg-defaults",
		Method:      http.MethodGet,
		Path:        "/api/streams/ffmpeg-defaults",
		Summary:     "FFmpeg Defaults",
		Description: "The input flags applied when a stream has no custom parameters",
		Tags:        []string{"streams"},
	}, func(ctx context.Context, input *struct{}) (*models.FFmpegDefaultsResponse, error) {
		return &models.FFmpegDefaultsResponse{
			Body: models.FFmpegDefaultsData{CombinedParams: strings.Join(s.gpu.DefaultParams(), " ")},
		}, nil
	})
}

// streamResponse wraps a record for the wire, masking credentials and
// attaching the probe advisory when connectivity was not confirmed.
func streamResponse(st streams.Stream, unconfirmed bool) *models.StreamResponse {
	resp := &models.StreamResponse{}
	resp.Body.Stream = st.Masked()
	if unconfirmed {
		resp.Body.Details = map[string]any{"connectivity_unconfirmed": true}
	}
	return resp
}

// actionResponse reports the persisted worker state after a start or
// stop request.
func (s *Server) actionResponse(ctx context.Context, id string) (*models.StreamActionResponse, error) {
	status, err := s.service.StatusOf(id)
	if err != nil {
		return nil, s.mapStreamError(ctx, err)
	}
	return &models.StreamActionResponse{
		Body: models.StreamActionData{StreamID: id, Status: string(status)},
	}, nil
}
