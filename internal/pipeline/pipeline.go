package pipeline

import (
	"time"

	"github.com/lanview/camnode/internal/metrics"
)

// Frame is one complete JPEG emitted past the gate. Payload is owned by
// the frame and never mutated afterwards.
type Frame struct {
	StreamID    string
	WallTS      time.Time
	MonotonicTS time.Duration
	Payload     []byte
}

// Pipeline composes the parser and the gate for one stream and keeps
// the emission counters and the FPS gauge current. Single-threaded,
// driven by the worker's reader.
type Pipeline struct {
	streamID string
	parser   *Parser
	gate     *Gate
	meter    *metrics.FPSMeter
	started  time.Time
	now      func() time.Time
}

// New creates a pipeline for one stream.
func New(streamID string) *Pipeline {
	return &Pipeline{
		streamID: streamID,
		parser:   NewParser(streamID),
		gate:     NewGate(),
		meter:    metrics.NewFPSMeter(streamID),
		started:  time.Now(),
		now:      time.Now,
	}
}

// Ingest consumes one chunk of pipe output and returns the frames that
// clear the gate, stamping each with wall and monotonic timestamps.
func (p *Pipeline) Ingest(chunk []byte) []Frame {
	payloads := p.parser.Feed(chunk)
	if len(payloads) == 0 {
		return nil
	}

	var frames []Frame
	for _, payload := range payloads {
		now := p.now()
		if !p.gate.Admit(now) {
			metrics.IncFramesDropped(p.streamID)
			continue
		}
		metrics.IncFramesEmitted(p.streamID)
		p.meter.Mark(now)
		frames = append(frames, Frame{
			StreamID:    p.streamID,
			WallTS:      now,
			MonotonicTS: now.Sub(p.started),
			Payload:     payload,
		})
	}
	return frames
}

// Reset clears parse state and the gate schedule after a subprocess
// restart and zeroes the FPS gauge.
func (p *Pipeline) Reset() {
	p.parser.Reset()
	p.gate.Reset()
	p.meter.Reset()
}
