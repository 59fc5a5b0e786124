package pipeline

import (
	"testing"
	"time"

	"github.com/lanview/camnode/internal/metrics"
)

func TestPipelineGatesToFiveFPS(t *testing.T) {
	defer metrics.DeleteStreamMetrics("p1")
	p := New("p1")

	clock := time.Unix(500, 0)
	p.now = func() time.Time { return clock }

	// 10 FPS input for two seconds.
	emitted := 0
	for i := 0; i < 20; i++ {
		frames := p.Ingest(makeJPEG(32))
		emitted += len(frames)
		clock = clock.Add(100 * time.Millisecond)
	}
	if emitted != 10 {
		t.Errorf("emitted %d frames from 20 at 10 FPS, want 10", emitted)
	}
}

func TestPipelineStampsFrames(t *testing.T) {
	defer metrics.DeleteStreamMetrics("p2")
	p := New("p2")

	wall := time.Unix(500, 0)
	p.now = func() time.Time { return wall }

	frames := p.Ingest(makeJPEG(16))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.StreamID != "p2" {
		t.Errorf("StreamID = %q, want p2", f.StreamID)
	}
	if !f.WallTS.Equal(wall) {
		t.Errorf("WallTS = %v, want %v", f.WallTS, wall)
	}
	if len(f.Payload) != 20 {
		t.Errorf("payload length = %d, want 20", len(f.Payload))
	}
}

func TestPipelinePartialChunksAccumulate(t *testing.T) {
	defer metrics.DeleteStreamMetrics("p3")
	p := New("p3")

	frame := makeJPEG(100)
	if got := p.Ingest(frame[:30]); len(got) != 0 {
		t.Fatalf("frame emitted from partial chunk")
	}
	got := p.Ingest(frame[30:])
	if len(got) != 1 {
		t.Fatalf("got %d frames after completing chunk, want 1", len(got))
	}
}

func TestPipelineResetReopensGate(t *testing.T) {
	defer metrics.DeleteStreamMetrics("p4")
	p := New("p4")

	clock := time.Unix(500, 0)
	p.now = func() time.Time { return clock }

	if got := p.Ingest(makeJPEG(8)); len(got) != 1 {
		t.Fatal("first frame not emitted")
	}
	clock = clock.Add(10 * time.Millisecond)
	if got := p.Ingest(makeJPEG(8)); len(got) != 0 {
		t.Fatal("frame inside interval emitted")
	}

	p.Reset()
	clock = clock.Add(10 * time.Millisecond)
	if got := p.Ingest(makeJPEG(8)); len(got) != 1 {
		t.Error("first frame after Reset not emitted")
	}
}
