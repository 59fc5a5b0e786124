package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/lanview/camnode/internal/events"
	"github.com/lanview/camnode/internal/gpu"
	"github.com/lanview/camnode/internal/updater"
)

// fakeUpdater is a scriptable updater.Service for route tests.
type fakeUpdater struct {
	enabled     bool
	reason      string
	status      *updater.Status
	info        *updater.UpdateInfo
	checkErr    error
	applyErr    error
	rollbackErr error
	applied     int
	rolledBack  int
}

func (f *fakeUpdater) CheckForUpdate(_ context.Context) (*updater.UpdateInfo, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.info, nil
}

func (f *fakeUpdater) ApplyUpdate(_ context.Context) error {
	f.applied++
	return f.applyErr
}

func (f *fakeUpdater) Rollback(_ context.Context) error {
	f.rolledBack++
	return f.rollbackErr
}

func (f *fakeUpdater) GetStatus(_ context.Context) *updater.Status { return f.status }

func (f *fakeUpdater) IsEnabled() bool { return f.enabled }

func (f *fakeUpdater) DisabledReason() string { return f.reason }

func TestVersionEndpoint(t *testing.T) {
	svc := newFakeService()
	ts := startTestServer(t, newTestServer(t, svc, Options{}))

	resp, err := http.Get(ts.URL + "/api/system/version")
	if err != nil {
		t.Fatalf("GET /api/system/version: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var body struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
		Platform  string `json:"platform"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode version body: %v", err)
	}
	if body.Version == "" || body.GoVersion == "" || body.Platform == "" {
		t.Errorf("Expected populated version info, got %+v", body)
	}
}

func TestOpenAPISpecServed(t *testing.T) {
	svc := newFakeService()
	ts := startTestServer(t, newTestServer(t, svc, Options{}))

	resp, err := http.Get(ts.URL + "/openapi.json")
	if err != nil {
		t.Fatalf("GET /openapi.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read OpenAPI document: %v", err)
	}
	if !strings.Contains(string(raw), "Camnode API") {
		t.Error("Expected the API title in the OpenAPI document")
	}
}

func TestLogsStream(t *testing.T) {
	svc := newFakeService()
	bus := events.New()
	srv := NewServer(svc, gpu.NewRegistry(gpu.BackendNone), bus, Options{})
	ts := startTestServer(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/system/logs?module=worker", nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/system/logs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("Expected SSE content type, got %q", ct)
	}

	dataCh := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data:") {
				dataCh <- line
			}
		}
	}()

	// The api record must be filtered out, the worker record delivered.
	bus.Publish(events.LogEntryEvent{
		Timestamp: "2026-01-02T03:04:05.000Z",
		Level:     "info",
		Module:    "api",
		Message:   "request completed",
	})
	bus.Publish(events.LogEntryEvent{
		Timestamp: "2026-01-02T03:04:05.100Z",
		Level:     "warn",
		Module:    "worker",
		Message:   "pipeline stalled",
	})

	select {
	case line := <-dataCh:
		if !strings.Contains(line, "pipeline stalled") {
			t.Errorf("Expected the worker record first, got %q", line)
		}
		if strings.Contains(line, "request completed") {
			t.Errorf("Module filter leaked a foreign record: %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for the log event")
	}
}

func TestUpdateRoutesAbsentWithoutService(t *testing.T) {
	svc := newFakeService()
	ts := startTestServer(t, newTestServer(t, svc, Options{}))

	resp, err := http.Get(ts.URL + "/api/system/update")
	if err != nil {
		t.Fatalf("GET /api/system/update: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected status 404 without an update service, got %d", resp.StatusCode)
	}
}

func TestUpdateStatus(t *testing.T) {
	up := &fakeUpdater{
		enabled: true,
		status:  &updater.Status{State: updater.StateIdle, CurrentVersion: "1.0.0"},
		info: &updater.UpdateInfo{
			CurrentVersion:  "1.0.0",
			LatestVersion:   "1.1.0",
			ReleaseNotes:    "fixes",
			ReleaseURL:      "https://example.com/release/1.1.0",
			UpdateAvailable: true,
		},
	}
	svc := newFakeService()
	ts := startTestServer(t, newTestServer(t, svc, Options{UpdateService: up}))

	resp, err := http.Get(ts.URL + "/api/system/update")
	if err != nil {
		t.Fatalf("GET /api/system/update: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var body struct {
		State           string `json:"state"`
		CurrentVersion  string `json:"current_version"`
		UpdateAvailable bool   `json:"update_available"`
		LatestVersion   string `json:"latest_version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode status body: %v", err)
	}
	if body.State != "idle" || body.CurrentVersion != "1.0.0" {
		t.Errorf("Unexpected status body: %+v", body)
	}
	if body.UpdateAvailable {
		t.Error("Expected no release info without check=true")
	}

	resp2, err := http.Get(ts.URL + "/api/system/update?check=true")
	if err != nil {
		t.Fatalf("GET /api/system/update?check=true: %v", err)
	}
	defer resp2.Body.Close()
	if err := json.NewDecoder(resp2.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode status body: %v", err)
	}
	if !body.UpdateAvailable || body.LatestVersion != "1.1.0" {
		t.Errorf("Expected release info after check, got %+v", body)
	}
}

func TestUpdateApply(t *testing.T) {
	up := &fakeUpdater{
		enabled: true,
		status:  &updater.Status{State: updater.StateIdle, CurrentVersion: "1.0.0"},
	}
	svc := newFakeService()
	ts := startTestServer(t, newTestServer(t, svc, Options{UpdateService: up}))

	resp, err := http.Post(ts.URL+"/api/system/update/apply", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/system/update/apply: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode apply body: %v", err)
	}
	if !strings.Contains(body.Message, "restarting") {
		t.Errorf("Expected restart notice, got %q", body.Message)
	}
	if up.applied != 1 {
		t.Errorf("Expected one apply call, got %d", up.applied)
	}
}

func TestUpdateApplyInvalidState(t *testing.T) {
	up := &fakeUpdater{
		enabled:  true,
		status:   &updater.Status{State: updater.StateApplying, CurrentVersion: "1.0.0"},
		applyErr: &updater.Error{Code: updater.ErrCodeInvalidState, Message: "update already in progress"},
	}
	svc := newFakeService()
	ts := startTestServer(t, newTestServer(t, svc, Options{UpdateService: up}))

	resp, err := http.Post(ts.URL+"/api/system/update/apply", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/system/update/apply: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Code != updater.ErrCodeInvalidState {
		t.Errorf("Expected code INVALID_STATE, got %s", body.Code)
	}
}

func TestUpdateRollback(t *testing.T) {
	up := &fakeUpdater{
		enabled: true,
		status:  &updater.Status{State: updater.StateIdle, CurrentVersion: "1.1.0", BackupAvailable: true, BackupVersion: "1.0.0"},
	}
	svc := newFakeService()
	ts := startTestServer(t, newTestServer(t, svc, Options{UpdateService: up}))

	resp, err := http.Post(ts.URL+"/api/system/update/rollback", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/system/update/rollback: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode rollback body: %v", err)
	}
	if !strings.Contains(body.Message, "restarting") {
		t.Errorf("Expected restart notice, got %q", body.Message)
	}
	if up.rolledBack != 1 {
		t.Errorf("Expected one rollback call, got %d", up.rolledBack)
	}
}

func TestUpdateRollbackWithoutBackup(t *testing.T) {
	up := &fakeUpdater{
		enabled:     true,
		status:      &updater.Status{State: updater.StateIdle, CurrentVersion: "1.0.0"},
		rollbackErr: &updater.Error{Code: updater.ErrCodeNoBackup, Message: "no backup available"},
	}
	svc := newFakeService()
	ts := startTestServer(t, newTestServer(t, svc, Options{UpdateService: up}))

	resp, err := http.Post(ts.URL+"/api/system/update/rollback", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/system/update/rollback: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Code != updater.ErrCodeNoBackup {
		t.Errorf("Expected code NO_BACKUP, got %s", body.Code)
	}
}

func TestUpdateDisabled(t *testing.T) {
	up := &fakeUpdater{enabled: false, reason: "binary location not writable"}
	svc := newFakeService()
	ts := startTestServer(t, newTestServer(t, svc, Options{UpdateService: up}))

	resp, err := http.Get(ts.URL + "/api/system/update")
	if err != nil {
		t.Fatalf("GET /api/system/update: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Code != updater.ErrCodeDisabled {
		t.Errorf("Expected code DISABLED, got %s", body.Code)
	}
	if !strings.Contains(body.Message, "binary location not writable") {
		t.Errorf("Expected the disabled reason, got %q", body.Message)
	}

	resp2, err := http.Post(ts.URL+"/api/system/update/apply", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/system/update/apply: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503 for apply while disabled, got %d", resp2.StatusCode)
	}
	if up.applied != 0 {
		t.Error("Apply must not run while disabled")
	}
}
