package events

// Event type constants for kelindar/event.
const (
	TypeStreamCreated uint32 = iota + 1
	TypeStreamUpdated
	TypeStreamDeleted
	TypeStreamStatus
	TypeScore
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StreamCreatedEvent is published after a stream record is persisted.
type StreamCreatedEvent struct {
	StreamID  string `json:"stream_id" example:"9b1c2a6e-0f4d-4c8e-8d21-6a2f0b3d9e11" doc:"Stream identifier"`
	Name      string `json:"name" example:"Front door" doc:"Stream name"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamCreatedEvent.
func (e StreamCreatedEvent) Type() uint32 { return TypeStreamCreated }

// StreamUpdatedEvent is published after a stream record is edited.
type StreamUpdatedEvent struct {
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	Name      string `json:"name" doc:"Stream name after the update"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamUpdatedEvent.
func (e StreamUpdatedEvent) Type() uint32 { return TypeStreamUpdated }

// StreamDeletedEvent is published after a stream record is removed.
type StreamDeletedEvent struct {
	StreamID  string `json:"stream_id" doc:"Deleted stream identifier"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamDeletedEvent.
func (e StreamDeletedEvent) Type() uint32 { return TypeStreamDeleted }

// StreamStatusEvent represents a worker state transition.
// The registry publishes one for every persisted status change.
type StreamStatusEvent struct {
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	Status    string `json:"status" example:"running" doc:"New status"`
	Previous  string `json:"previous" example:"starting" doc:"Previous status"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStatusEvent.
func (e StreamStatusEvent) Type() uint32 { return TypeStreamStatus }

// ScoreEvent carries detection scores produced by the scoring callback
// for one frame. Score elements are opaque to the core.
type ScoreEvent struct {
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	Timestamp string `json:"timestamp" doc:"Frame wall-clock timestamp"`
	Scores    []any  `json:"scores" doc:"Detection scores for the frame"`
}

// Type returns the event type identifier for ScoreEvent.
func (e ScoreEvent) Type() uint32 { return TypeScore }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
