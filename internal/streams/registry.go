package streams

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanview/camnode/internal/events"
	"github.com/lanview/camnode/internal/ffmpeg"
	"github.com/lanview/camnode/internal/gpu"
	"github.com/lanview/camnode/internal/hub"
	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/metrics"
	"github.com/lanview/camnode/internal/pipeline"
)

// DefaultMaxRunning caps how many workers may be live at once.
const DefaultMaxRunning = 4

// Store persists the catalogue. Implemented by the YAML store.
type Store interface {
	Load() ([]Stream, error)
	Save([]Stream) error
}

// Prober checks that a source answers before a create or URL edit. The
// result is advisory only and never blocks the mutation.
type Prober interface {
	Probe(ctx context.Context, rtspURL string, params []string) error
}

// supervisor is the registry's view of a worker. Tests substitute
// fakes through the spawn hook.
type supervisor interface {
	Start()
	Stop()
	Hub() *hub.Hub
}

// Options wires a registry. Bus, Prober and ScoreFunc may be nil.
type Options struct {
	Store      Store
	GPU        *gpu.Registry
	Bus        *events.Bus
	Prober     Prober
	ScoreFunc  hub.ScoreFunc
	MaxRunning int
}

// Registry owns the in-memory catalogue and the worker map. All writes
// go through its lock; readers get clones. It is the only component
// that talks to the store.
type Registry struct {
	store   Store
	gpu     *gpu.Registry
	bus     *events.Bus
	prober  Prober
	scoreFn hub.ScoreFunc
	logger  *slog.Logger

	maxRunning int

	mu      sync.RWMutex
	records []Stream
	workers map[string]supervisor
	active  int
	deleted map[string]struct{}
	loadErr error

	spawn func(s Stream, argv []string, report func(StreamStatus)) supervisor
	newID func() string
	now   func() time.Time
}

// NewRegistry loads the catalogue and returns a ready registry. A
// load failure does not prevent construction; the registry starts
// empty and reports unhealthy until the catalogue is replaced by a
// successful save or an out-of-band fix.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		store:      opts.Store,
		gpu:        opts.GPU,
		bus:        opts.Bus,
		prober:     opts.Prober,
		scoreFn:    opts.ScoreFunc,
		logger:     logging.GetLogger("registry"),
		maxRunning: opts.MaxRunning,
		workers:    make(map[string]supervisor),
		deleted:    make(map[string]struct{}),
		newID:      uuid.NewString,
		now:        time.Now,
	}
	if r.maxRunning <= 0 {
		r.maxRunning = DefaultMaxRunning
	}
	r.spawn = func(s Stream, argv []string, report func(StreamStatus)) supervisor {
		var pub hub.Publisher
		if r.bus != nil {
			pub = r.bus
		}
		return NewWorker(s.ID, argv, hub.New(s.ID, pub, r.scoreFn), report)
	}

	list, err := r.store.Load()
	if err != nil {
		r.loadErr = err
		r.logger.Error("Catalogue load failed", "error", err)
		list = []Stream{}
	}

	// No workers exist at boot, so any persisted live status is stale.
	changed := false
	for i := range list {
		switch list[i].Status {
		case StatusStarting, StatusRunning, StatusDisconnected:
			list[i].Status = StatusStopped
			changed = true
		}
		if list[i].TargetFPS == 0 {
			list[i].TargetFPS = DefaultTargetFPS
			changed = true
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Order < list[j].Order })
	r.records = list
	if changed {
		if err := r.store.Save(list); err != nil {
			r.logger.Warn("Failed to persist normalized catalogue", "error", err)
		}
	}
	r.logger.Info("Catalogue loaded", "streams", len(list))
	metrics.SetActiveWorkers(0)
	return r
}

// CatalogueLoaded reports whether the boot-time load succeeded.
func (r *Registry) CatalogueLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadErr == nil
}

// List returns the catalogue ordered by dashboard position.
func (r *Registry) List() []Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stream, 0, len(r.records))
	for _, s := range r.records {
		out = append(out, s.Clone())
	}
	return out
}

// Get returns one record by id.
func (r *Registry) Get(id string) (Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := r.indexLocked(id); idx >= 0 {
		return r.records[idx].Clone(), nil
	}
	return Stream{}, NewStreamError(ErrCodeNotFound, "stream not found", nil)
}

// StatusOf returns the current lifecycle state of one stream.
func (r *Registry) StatusOf(id string) (StreamStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := r.indexLocked(id); idx >= 0 {
		return r.records[idx].Status, nil
	}
	return "", NewStreamError(ErrCodeNotFound, "stream not found", nil)
}

// ActiveWorkers returns how many workers are currently live.
func (r *Registry) ActiveWorkers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Create validates, probes and appends a new stream at the end of the
// dashboard order. The returned bool is true when the connectivity
// probe could not confirm the source; the record is created either way.
func (r *Registry) Create(ctx context.Context, params CreateParams) (Stream, bool, error) {
	name, err := ValidateName(params.Name)
	if err != nil {
		return Stream{}, false, err
	}
	rtspURL := strings.TrimSpace(params.RTSPURL)
	if err := ValidateRTSPURL(rtspURL); err != nil {
		return Stream{}, false, err
	}
	hwAccel := true
	if params.HWAccelEnabled != nil {
		hwAccel = *params.HWAccelEnabled
	}
	if len(params.FFmpegParams) > 0 {
		if err := r.gpu.ValidateParams(params.FFmpegParams, hwAccel); err != nil {
			return Stream{}, false, NewStreamError(ErrCodeInvalidParams, "invalid ffmpeg_params", err)
		}
	}
	targetFPS := DefaultTargetFPS
	if params.TargetFPS != nil {
		targetFPS = *params.TargetFPS
		if err := ValidateTargetFPS(targetFPS); err != nil {
			return Stream{}, false, err
		}
	}
	if err := ValidateZones(params.Zones); err != nil {
		return Stream{}, false, err
	}

	// Cheap duplicate check before the blocking probe; rechecked under
	// the write lock below.
	r.mu.RLock()
	dup := r.findByNameLocked(name, "") != ""
	r.mu.RUnlock()
	if dup {
		return Stream{}, false, NewStreamError(ErrCodeDuplicateName,
			fmt.Sprintf("name %q is already in use", name), nil)
	}

	unconfirmed := r.probe(ctx, rtspURL, hwAccel, params.FFmpegParams)

	r.mu.Lock()
	if other := r.findByNameLocked(name, ""); other != "" {
		r.mu.Unlock()
		return Stream{}, false, NewStreamError(ErrCodeDuplicateName,
			fmt.Sprintf("name %q is already in use", name), nil)
	}
	s := Stream{
		ID:             r.newID(),
		Name:           name,
		RTSPURL:        rtspURL,
		CreatedAt:      r.now().UTC(),
		Order:          len(r.records),
		Status:         StatusStopped,
		HWAccelEnabled: hwAccel,
		FFmpegParams:   slices.Clone(params.FFmpegParams),
		TargetFPS:      targetFPS,
		Zones:          cloneZones(params.Zones),
	}
	r.records = append(r.records, s)
	if err := r.saveLocked(); err != nil {
		r.records = r.records[:len(r.records)-1]
		r.mu.Unlock()
		r.logger.Error("Catalogue save failed, create rolled back",
			"name", name, "error", err)
		return Stream{}, false, NewStreamError(ErrCodeInternal, "failed to persist the catalogue", err)
	}
	out := s.Clone()
	r.mu.Unlock()

	metrics.IncStreamsCreated()
	r.logger.Info("Stream created", "stream_id", s.ID, "name", s.Name, "rtsp_url", MaskURL(s.RTSPURL))
	r.publish(events.StreamCreatedEvent{StreamID: s.ID, Name: s.Name, Timestamp: r.timestamp()})
	return out, unconfirmed, nil
}

// Update applies a partial edit. When the source URL, the FFmpeg
// params or the accel flag of a live stream change, the worker is
// restarted with the fresh command line. The returned bool mirrors
// Create's probe advisory and is only set when the URL changed.
func (r *Registry) Update(ctx context.Context, id string, patch UpdateParams) (Stream, bool, error) {
	if patch.Name == nil && patch.RTSPURL == nil && patch.HWAccelEnabled == nil &&
		patch.FFmpegParams == nil && patch.TargetFPS == nil && patch.Zones == nil {
		s, err := r.Get(id)
		return s, false, err
	}

	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return Stream{}, false, NewStreamError(ErrCodeNotFound, "stream not found", nil)
	}
	orig := r.records[idx]
	next := orig.Clone()

	if patch.Name != nil {
		name, err := ValidateName(*patch.Name)
		if err != nil {
			r.mu.Unlock()
			return Stream{}, false, err
		}
		if other := r.findByNameLocked(name, id); other != "" {
			r.mu.Unlock()
			return Stream{}, false, NewStreamError(ErrCodeDuplicateName,
				fmt.Sprintf("name %q is already in use", name), nil)
		}
		next.Name = name
	}
	urlChanged := false
	if patch.RTSPURL != nil {
		rtspURL := strings.TrimSpace(*patch.RTSPURL)
		if err := ValidateRTSPURL(rtspURL); err != nil {
			r.mu.Unlock()
			return Stream{}, false, err
		}
		urlChanged = rtspURL != orig.RTSPURL
		next.RTSPURL = rtspURL
	}
	if patch.HWAccelEnabled != nil {
		next.HWAccelEnabled = *patch.HWAccelEnabled
	}
	if patch.FFmpegParams != nil {
		next.FFmpegParams = slices.Clone(*patch.FFmpegParams)
	}
	if len(next.FFmpegParams) > 0 && (patch.FFmpegParams != nil || patch.HWAccelEnabled != nil) {
		if err := r.gpu.ValidateParams(next.FFmpegParams, next.HWAccelEnabled); err != nil {
			r.mu.Unlock()
			return Stream{}, false, NewStreamError(ErrCodeInvalidParams, "invalid ffmpeg_params", err)
		}
	}
	if patch.TargetFPS != nil {
		if err := ValidateTargetFPS(*patch.TargetFPS); err != nil {
			r.mu.Unlock()
			return Stream{}, false, err
		}
		next.TargetFPS = *patch.TargetFPS
	}
	if patch.Zones != nil {
		if err := ValidateZones(*patch.Zones); err != nil {
			r.mu.Unlock()
			return Stream{}, false, err
		}
		next.Zones = cloneZones(*patch.Zones)
	}

	// An edit clears a stuck error state.
	if next.Status == StatusError {
		next.Status = StatusStopped
	}

	commandChanged := urlChanged ||
		next.HWAccelEnabled != orig.HWAccelEnabled ||
		!slices.Equal(next.FFmpegParams, orig.FFmpegParams)

	r.records[idx] = next
	if err := r.saveLocked(); err != nil {
		r.records[idx] = orig
		r.mu.Unlock()
		r.logger.Error("Catalogue save failed, update rolled back",
			"stream_id", id, "error", err)
		return Stream{}, false, NewStreamError(ErrCodeInternal, "failed to persist the catalogue", err)
	}
	_, live := r.workers[id]
	out := next.Clone()
	r.mu.Unlock()

	unconfirmed := false
	if urlChanged {
		unconfirmed = r.probe(ctx, next.RTSPURL, next.HWAccelEnabled, next.FFmpegParams)
	}

	if live && commandChanged {
		r.logger.Info("Restarting worker with the edited command line", "stream_id", id)
		r.stopWorker(id)
		if err := r.Start(ctx, id); err != nil {
			r.logger.Warn("Worker restart after edit failed", "stream_id", id, "error", err)
		}
	}

	r.logger.Info("Stream updated", "stream_id", id)
	r.publish(events.StreamUpdatedEvent{StreamID: id, Name: out.Name, Timestamp: r.timestamp()})
	return out, unconfirmed, nil
}

// Delete stops the stream's worker if live, removes the record and
// renumbers the remaining orders. Repeating a delete is a no-op.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.RLock()
	idx := r.indexLocked(id)
	_, wasDeleted := r.deleted[id]
	r.mu.RUnlock()
	if idx < 0 {
		if wasDeleted {
			return nil
		}
		return NewStreamError(ErrCodeNotFound, "stream not found", nil)
	}

	r.stopWorker(id)

	r.mu.Lock()
	idx = r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return nil
	}
	prev := r.records
	next := make([]Stream, 0, len(prev)-1)
	next = append(next, prev[:idx]...)
	next = append(next, prev[idx+1:]...)
	for i := range next {
		next[i].Order = i
	}
	r.records = next
	if err := r.saveLocked(); err != nil {
		r.records = prev
		r.mu.Unlock()
		r.logger.Error("Catalogue save failed, delete rolled back",
			"stream_id", id, "error", err)
		return NewStreamError(ErrCodeInternal, "failed to persist the catalogue", err)
	}
	r.deleted[id] = struct{}{}
	r.mu.Unlock()

	metrics.IncStreamsDeleted()
	metrics.DeleteStreamMetrics(id)
	r.logger.Info("Stream deleted", "stream_id", id)
	r.publish(events.StreamDeletedEvent{StreamID: id, Timestamp: r.timestamp()})
	return nil
}

// Reorder applies a full permutation of stream ids as the new
// dashboard order. The list must name every stream exactly once.
func (r *Registry) Reorder(ids []string) error {
	r.mu.Lock()
	if len(ids) != len(r.records) {
		r.mu.Unlock()
		return NewStreamError(ErrCodeInvalidOrder,
			fmt.Sprintf("order must name all %d streams, got %d ids", len(r.records), len(ids)), nil)
	}
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := pos[id]; dup {
			r.mu.Unlock()
			return NewStreamError(ErrCodeInvalidOrder, fmt.Sprintf("id %s appears twice", id), nil)
		}
		pos[id] = i
	}
	for _, s := range r.records {
		if _, ok := pos[s.ID]; !ok {
			r.mu.Unlock()
			return NewStreamError(ErrCodeInvalidOrder, fmt.Sprintf("stream %s is missing from the order", s.ID), nil)
		}
	}

	changed := false
	next := make([]Stream, len(r.records))
	for _, s := range r.records {
		i := pos[s.ID]
		if s.Order != i {
			changed = true
		}
		s.Order = i
		next[i] = s
	}
	if !changed {
		r.mu.Unlock()
		return nil
	}
	prev := r.records
	r.records = next
	if err := r.saveLocked(); err != nil {
		r.records = prev
		r.mu.Unlock()
		r.logger.Error("Catalogue save failed, reorder rolled back", "error", err)
		return NewStreamError(ErrCodeInternal, "failed to persist the catalogue", err)
	}
	r.mu.Unlock()

	metrics.IncStreamsReordered()
	r.logger.Info("Streams reordered", "count", len(ids))
	return nil
}

// Start transitions a stream into starting and hands it to a worker.
// Starting an already live stream is a no-op.
func (r *Registry) Start(ctx context.Context, id string) error {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return NewStreamError(ErrCodeNotFound, "stream not found", nil)
	}
	if _, live := r.workers[id]; live {
		r.mu.Unlock()
		return nil
	}
	if r.active >= r.maxRunning {
		r.mu.Unlock()
		return NewStreamError(ErrCodeConcurrencyLimit,
			fmt.Sprintf("at most %d streams may run at once", r.maxRunning), nil)
	}

	s := r.records[idx]
	prev := s.Status
	r.records[idx].Status = StatusStarting
	if err := r.saveLocked(); err != nil {
		r.records[idx].Status = prev
		r.mu.Unlock()
		return NewStreamError(ErrCodeInternal, "failed to persist the catalogue", err)
	}
	w := r.spawn(s, r.buildArgs(s), func(st StreamStatus) { r.onWorkerStatus(id, st) })
	r.workers[id] = w
	r.active++
	metrics.SetActiveWorkers(r.active)
	r.mu.Unlock()

	r.logger.Info("Stream starting", "stream_id", id, "name", s.Name)
	r.publish(events.StreamStatusEvent{
		StreamID: id, Status: string(StatusStarting), Previous: string(prev), Timestamp: r.timestamp(),
	})
	w.Start()
	return nil
}

// Stop shuts the stream's worker down. Stopping a stream that is not
// live is a no-op.
func (r *Registry) Stop(ctx context.Context, id string) error {
	r.mu.RLock()
	idx := r.indexLocked(id)
	r.mu.RUnlock()
	if idx < 0 {
		return NewStreamError(ErrCodeNotFound, "stream not found", nil)
	}
	r.stopWorker(id)
	return nil
}

// StopAll shuts every live worker down in parallel. Used on shutdown.
func (r *Registry) StopAll() {
	r.mu.RLock()
	ws := make([]supervisor, 0, len(r.workers))
	for _, w := range r.workers {
		ws = append(ws, w)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, w := range ws {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Stop()
		}()
	}
	wg.Wait()
}

// Subscribe attaches an MJPEG consumer to a live stream's hub.
func (r *Registry) Subscribe(id string) (<-chan pipeline.Frame, func(), error) {
	r.mu.RLock()
	idx := r.indexLocked(id)
	var status StreamStatus
	if idx >= 0 {
		status = r.records[idx].Status
	}
	w := r.workers[id]
	r.mu.RUnlock()

	if idx < 0 {
		return nil, nil, NewStreamError(ErrCodeNotFound, "stream not found", nil)
	}
	if w == nil || (status != StatusRunning && status != StatusDisconnected) {
		return nil, nil, NewStreamError(ErrCodeStreamNotRunning,
			fmt.Sprintf("stream is %s", status), nil)
	}
	ch, cancel := w.Hub().Subscribe()
	return ch, cancel, nil
}

// AdoptCatalogue replaces the in-memory catalogue after an out-of-band
// file edit. Live worker statuses win over the file's values, and
// workers whose streams disappeared are stopped. Returns false when
// the new catalogue matches the current one.
func (r *Registry) AdoptCatalogue(list []Stream) bool {
	r.mu.Lock()
	incoming := make(map[string]struct{}, len(list))
	for _, s := range list {
		incoming[s.ID] = struct{}{}
	}
	var orphaned []string
	for id := range r.workers {
		if _, ok := incoming[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	for i := range list {
		if _, live := r.workers[list[i].ID]; live {
			if idx := r.indexLocked(list[i].ID); idx >= 0 {
				list[i].Status = r.records[idx].Status
			}
		} else if list[i].Status != StatusStopped && list[i].Status != StatusError {
			list[i].Status = StatusStopped
		}
		if list[i].TargetFPS == 0 {
			list[i].TargetFPS = DefaultTargetFPS
		}
		if len(list[i].Extra) == 0 {
			list[i].Extra = nil
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Order < list[j].Order })

	if len(orphaned) == 0 && catalogueEqual(r.records, list) {
		r.mu.Unlock()
		return false
	}
	r.records = list
	r.loadErr = nil
	r.mu.Unlock()

	for _, id := range orphaned {
		r.logger.Info("Stopping worker for a stream removed on disk", "stream_id", id)
		r.stopWorker(id)
	}
	r.logger.Info("Catalogue reloaded from disk", "streams", len(list))
	return true
}

// probe runs the advisory connectivity check. True means unconfirmed.
func (r *Registry) probe(ctx context.Context, rtspURL string, hwAccel bool, params []string) bool {
	if r.prober == nil {
		return false
	}
	probeParams := params
	if len(probeParams) == 0 {
		if hwAccel {
			probeParams = r.gpu.DefaultParams()
		} else {
			probeParams = r.gpu.SoftwareParams()
		}
	}
	if err := r.prober.Probe(ctx, rtspURL, probeParams); err != nil {
		r.logger.Warn("Connectivity probe failed",
			"rtsp_url", MaskURL(rtspURL), "error", err)
		return true
	}
	return false
}

func (r *Registry) buildArgs(s Stream) []string {
	params := s.FFmpegParams
	if len(params) == 0 {
		if s.HWAccelEnabled {
			params = r.gpu.DefaultParams()
		} else {
			params = r.gpu.SoftwareParams()
		}
	}
	return ffmpeg.BuildStreamArgs(s.RTSPURL, params)
}

// stopWorker blocks until the worker for id is gone. No-op when none
// is live. Never called with the registry lock held.
func (r *Registry) stopWorker(id string) {
	r.mu.RLock()
	w := r.workers[id]
	r.mu.RUnlock()
	if w != nil {
		w.Stop()
	}
}

// onWorkerStatus is the single entry point for worker transitions. It
// persists the new status, maintains the worker map and the active
// count, and publishes the transition event.
func (r *Registry) onWorkerStatus(id string, status StreamStatus) {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		// Deleted while the worker was winding down.
		if _, ok := r.workers[id]; ok {
			delete(r.workers, id)
			r.active--
			metrics.SetActiveWorkers(r.active)
		}
		r.mu.Unlock()
		return
	}
	prev := r.records[idx].Status
	if prev == status {
		r.mu.Unlock()
		return
	}
	r.records[idx].Status = status
	if status == StatusStopped || status == StatusError {
		if _, ok := r.workers[id]; ok {
			delete(r.workers, id)
			r.active--
			metrics.SetActiveWorkers(r.active)
		}
	}
	if err := r.saveLocked(); err != nil {
		r.logger.Error("Failed to persist a status transition",
			"stream_id", id, "status", string(status), "error", err)
	}
	r.mu.Unlock()

	r.logger.Info("Stream status changed",
		"stream_id", id, "from", string(prev), "to", string(status))
	r.publish(events.StreamStatusEvent{
		StreamID: id, Status: string(status), Previous: string(prev), Timestamp: r.timestamp(),
	})
}

// saveLocked persists the catalogue and clears the degraded flag on
// success. Callers hold the write lock.
func (r *Registry) saveLocked() error {
	if err := r.store.Save(r.records); err != nil {
		return err
	}
	r.loadErr = nil
	return nil
}

func (r *Registry) indexLocked(id string) int {
	for i, s := range r.records {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// findByNameLocked returns the id of the record using name, compared
// case-insensitively, excluding excludeID.
func (r *Registry) findByNameLocked(name, excludeID string) string {
	key := strings.ToLower(name)
	for _, s := range r.records {
		if s.ID != excludeID && strings.ToLower(s.Name) == key {
			return s.ID
		}
	}
	return ""
}

func (r *Registry) publish(ev events.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}

func (r *Registry) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

func cloneZones(zones []Zone) []Zone {
	if zones == nil {
		return nil
	}
	out := make([]Zone, len(zones))
	for i, z := range zones {
		zc := z
		zc.Points = slices.Clone(z.Points)
		zc.EnabledMetrics = slices.Clone(z.EnabledMetrics)
		out[i] = zc
	}
	return out
}

// catalogueEqual compares two catalogues field by field.
func catalogueEqual(a, b []Stream) bool {
	return reflect.DeepEqual(a, b)
}
