package streams

import "time"

// StreamStatus is the lifecycle state of a stream's worker. The
// persisted value is the source of truth for the dashboard.
type StreamStatus string

const (
	// StatusStopped means no worker exists for the stream.
	StatusStopped StreamStatus = "stopped"

	// StatusStarting means the subprocess is up but no frame has been
	// emitted yet.
	StatusStarting StreamStatus = "starting"

	// StatusRunning means frames are flowing.
	StatusRunning StreamStatus = "running"

	// StatusError means the worker gave up: startup failed or ten
	// consecutive restarts failed. Cleared by an edit or explicit start.
	StatusError StreamStatus = "error"

	// StatusDisconnected means the source dropped and the worker is
	// restarting with backoff.
	StatusDisconnected StreamStatus = "disconnected"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s StreamStatus) Valid() bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusError, StatusDisconnected:
		return true
	}
	return false
}

// Point is one normalized polygon vertex in [0,1]x[0,1].
type Point struct {
	X float64 `yaml:"x" json:"x" minimum:"0" maximum:"1" doc:"Normalized horizontal position"`
	Y float64 `yaml:"y" json:"y" minimum:"0" maximum:"1" doc:"Normalized vertical position"`
}

// Zone is a detection region consumed by the scoring collaborator. The
// core stores and returns zones but never interprets them.
type Zone struct {
	// Name labels the zone in dashboards.
	Name string `yaml:"name" json:"name" doc:"Zone label"`

	// Points are the polygon vertices in normalized coordinates.
	Points []Point `yaml:"points" json:"points" doc:"Polygon vertices"`

	// EnabledMetrics selects which measurements the scoring consumer
	// reports for this zone. Allowed values: distance, coordinates, size.
	EnabledMetrics []string `yaml:"enabled_metrics" json:"enabled_metrics" doc:"Measurements enabled for this zone"`
}

// Stream is one persisted camera record in the catalogue.
type Stream struct {
	// ID is assigned on create and immutable. UUID-shaped opaque string.
	ID string `yaml:"id" json:"id" doc:"Stream identifier"`

	// Name is unique across the catalogue, case-insensitively,
	// 1-50 characters after trimming.
	Name string `yaml:"name" json:"name" minLength:"1" maxLength:"50" doc:"Display name"`

	// RTSPURL is the camera source. rtsp:// or rtsps:// with a host;
	// may embed credentials. Stored in plaintext, masked in every
	// response and log line.
	RTSPURL string `yaml:"rtsp_url" json:"rtsp_url" example:"rtsp://cam.local:554/main" doc:"RTSP source URL"`

	// CreatedAt is set on create at UTC and immutable.
	CreatedAt time.Time `yaml:"created_at" json:"created_at" doc:"Creation timestamp"`

	// Order is the dashboard position. Orders form a contiguous
	// permutation of [0..N-1] after every mutation.
	Order int `yaml:"order" json:"order" minimum:"0" doc:"Dashboard position"`

	// Status is the last known worker state.
	Status StreamStatus `yaml:"status" json:"status" example:"stopped" doc:"Worker lifecycle state"`

	// HWAccelEnabled selects GPU decode flags when a backend is present.
	HWAccelEnabled bool `yaml:"hw_accel_enabled" json:"hw_accel_enabled" doc:"Use hardware-accelerated decode"`

	// FFmpegParams overrides the GPU registry defaults when non-empty.
	// Elements are passed to exec verbatim, never through a shell.
	FFmpegParams []string `yaml:"ffmpeg_params,omitempty" json:"ffmpeg_params" doc:"Custom FFmpeg input flags"`

	// TargetFPS is the user's requested rate in [1,30]. Emission is
	// capped at 5 FPS by the pipeline regardless.
	TargetFPS int `yaml:"target_fps" json:"target_fps" minimum:"1" maximum:"30" doc:"Requested frame rate"`

	// Zones are detection regions for the scoring consumer.
	Zones []Zone `yaml:"zones,omitempty" json:"zones,omitempty" doc:"Detection zones"`

	// Extra preserves unknown catalogue keys across round-trips so
	// newer fields survive edits made by this version.
	Extra map[string]any `yaml:",inline" json:"-"`
}

// Clone returns a deep copy safe to hand to callers.
func (s Stream) Clone() Stream {
	out := s
	if s.FFmpegParams != nil {
		out.FFmpegParams = append([]string(nil), s.FFmpegParams...)
	}
	if s.Zones != nil {
		out.Zones = make([]Zone, len(s.Zones))
		for i, z := range s.Zones {
			zc := z
			zc.Points = append([]Point(nil), z.Points...)
			zc.EnabledMetrics = append([]string(nil), z.EnabledMetrics...)
			out.Zones[i] = zc
		}
	}
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Masked returns a copy with any credentials in the RTSP URL replaced
// by the masking literal. Used for every value leaving the registry.
func (s Stream) Masked() Stream {
	out := s.Clone()
	out.RTSPURL = MaskURL(out.RTSPURL)
	return out
}

// CreateParams are the accepted fields for a new stream.
type CreateParams struct {
	Name         string
	RTSPURL      string
	FFmpegParams []string
	// HWAccelEnabled defaults to true when nil.
	HWAccelEnabled *bool
	// TargetFPS defaults to 5 when nil.
	TargetFPS *int
	Zones     []Zone
}

// UpdateParams is a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Name           *string
	RTSPURL        *string
	HWAccelEnabled *bool
	// FFmpegParams distinguishes "not provided" (nil) from "set empty"
	// (pointer to empty slice).
	FFmpegParams *[]string
	TargetFPS    *int
	Zones        *[]Zone
}
