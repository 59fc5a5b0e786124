package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lanview/camnode/internal/events"
	"github.com/lanview/camnode/internal/gpu"
	"github.com/lanview/camnode/internal/pipeline"
	"github.com/lanview/camnode/internal/streams"
)

// fakeService is a scriptable StreamService for handler tests.
type fakeService struct {
	mu     sync.Mutex
	loaded bool

	records  []streams.Stream
	statuses map[string]streams.StreamStatus

	frames      chan pipeline.Frame
	unconfirmed bool

	createErr  error
	updateErr  error
	reorderErr error
	startErr   error
	stopErr    error
	subErr     error

	created     []streams.CreateParams
	updates     []streams.UpdateParams
	deleted     []string
	reorders    [][]string
	started     []string
	stopped     []string
	cancelCalls int
}

func newFakeService(records ...streams.Stream) *fakeService {
	return &fakeService{
		loaded:   true,
		records:  records,
		statuses: make(map[string]streams.StreamStatus),
	}
}

func (f *fakeService) CatalogueLoaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *fakeService) List() []streams.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]streams.Stream, 0, len(f.records))
	for _, st := range f.records {
		out = append(out, st.Clone())
	}
	return out
}

func (f *fakeService) Get(id string) (streams.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.records {
		if st.ID == id {
			return st.Clone(), nil
		}
	}
	return streams.Stream{}, streams.NewStreamError(streams.ErrCodeNotFound, "stream not found", nil)
}

func (f *fakeService) StatusOf(id string) (streams.StreamStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.statuses[id]; ok {
		return status, nil
	}
	for _, st := range f.records {
		if st.ID == id {
			return st.Status, nil
		}
	}
	return "", streams.NewStreamError(streams.ErrCodeNotFound, "stream not found", nil)
}

func (f *fakeService) Create(_ context.Context, params streams.CreateParams) (streams.Stream, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return streams.Stream{}, false, f.createErr
	}
	f.created = append(f.created, params)
	st := streams.Stream{
		ID:             "fake-id-1",
		Name:           params.Name,
		RTSPURL:        params.RTSPURL,
		CreatedAt:      time.Now().UTC(),
		Order:          len(f.records),
		Status:         streams.StatusStopped,
		HWAccelEnabled: true,
		FFmpegParams:   params.FFmpegParams,
		TargetFPS:      streams.DefaultTargetFPS,
		Zones:          params.Zones,
	}
	if params.HWAccelEnabled != nil {
		st.HWAccelEnabled = *params.HWAccelEnabled
	}
	if params.TargetFPS != nil {
		st.TargetFPS = *params.TargetFPS
	}
	f.records = append(f.records, st)
	return st.Clone(), f.unconfirmed, nil
}

func (f *fakeService) Update(_ context.Context, id string, patch streams.UpdateParams) (streams.Stream, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return streams.Stream{}, false, f.updateErr
	}
	f.updates = append(f.updates, patch)
	for i := range f.records {
		if f.records[i].ID != id {
			continue
		}
		if patch.Name != nil {
			f.records[i].Name = *patch.Name
		}
		if patch.RTSPURL != nil {
			f.records[i].RTSPURL = *patch.RTSPURL
		}
		if patch.HWAccelEnabled != nil {
			f.records[i].HWAccelEnabled = *patch.HWAccelEnabled
		}
		if patch.FFmpegParams != nil {
			f.records[i].FFmpegParams = *patch.FFmpegParams
		}
		if patch.TargetFPS != nil {
			f.records[i].TargetFPS = *patch.TargetFPS
		}
		if patch.Zones != nil {
			f.records[i].Zones = *patch.Zones
		}
		return f.records[i].Clone(), f.unconfirmed, nil
	}
	return streams.Stream{}, false, streams.NewStreamError(streams.ErrCodeNotFound, "stream not found", nil)
}

func (f *fakeService) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	for i := range f.records {
		if f.records[i].ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return streams.NewStreamError(streams.ErrCodeNotFound, "stream not found", nil)
}

func (f *fakeService) Reorder(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reorderErr != nil {
		return f.reorderErr
	}
	f.reorders = append(f.reorders, ids)
	return nil
}

func (f *fakeService) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	f.statuses[id] = streams.StatusStarting
	return nil
}

func (f *fakeService) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, id)
	f.statuses[id] = streams.StatusStopped
	return nil
}

func (f *fakeService) Subscribe(_ string) (<-chan pipeline.Frame, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, nil, f.subErr
	}
	return f.frames, func() {
		f.mu.Lock()
		f.cancelCalls++
		f.mu.Unlock()
	}, nil
}

func (f *fakeService) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls
}

func newTestServer(t *testing.T, svc *fakeService, opts Options) *Server {
	t.Helper()
	return NewServer(svc, gpu.NewRegistry(gpu.BackendNone), events.New(), opts)
}

func startTestServer(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(srv.handler)
	t.Cleanup(ts.Close)
	return ts
}

// errorBody mirrors the wire shape of ErrorResponse.
type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	RequestID string         `json:"request_id"`
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	return body
}

func TestHealthOK(t *testing.T) {
	svc := newFakeService(streams.Stream{
		ID:      "cam-1",
		Name:    "Front",
		RTSPURL: "rtsp://cam.local:554/main",
		Status:  streams.StatusRunning,
	})
	ts := startTestServer(t, newTestServer(t, svc, Options{}))

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("Expected X-Request-Id header on the response")
	}

	var body struct {
		Status  string `json:"status"`
		Streams []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"streams"`
		GPUBackend string `json:"gpu_backend"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("Expected status ok, got %q", body.Status)
	}
	if len(body.Streams) != 1 || body.Streams[0].ID != "cam-1" || body.Streams[0].Status != "running" {
		t.Errorf("Unexpected stream entries: %+v", body.Streams)
	}
	if body.GPUBackend != "none" {
		t.Errorf("Expected gpu_backend none, got %q", body.GPUBackend)
	}
}

func TestHealthDegradedWithoutCatalogue(t *testing.T) {
	svc := newFakeService()
	svc.loaded = false
	ts := startTestServer(t, newTestServer(t, svc, Options{}))

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health body: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("Expected status degraded, got %q", body.Status)
	}
}

func TestHealthGPURequired(t *testing.T) {
	svc := newFakeService()

	without := NewServer(svc, gpu.NewRegistry(gpu.BackendNone), events.New(), Options{GPURequired: true})
	ts := startTestServer(t, without)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503 without a GPU backend, got %d", resp.StatusCode)
	}

	with := NewServer(svc, gpu.NewRegistry(gpu.BackendNvidia), events.New(), Options{GPURequired: true})
	ts2 := startTestServer(t, with)
	resp2, err := http.Get(ts2.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 with a GPU backend, got %d", resp2.StatusCode)
	}
	var body struct {
		GPUBackend string `json:"gpu_backend"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health body: %v", err)
	}
	if body.GPUBackend != "nvidia" {
		t.Errorf("Expected gpu_backend nvidia, got %q", body.GPUBackend)
	}
}

func TestStopWithoutStart(t *testing.T) {
	srv := newTestServer(t, newFakeService(), Options{})
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop before Start should be a no-op, got %v", err)
	}
}
