package metrics

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestFPSMeterConvergesToSteadyRate(t *testing.T) {
	m := NewFPSMeter("test-steady")
	defer DeleteStreamMetrics("test-steady")

	now := time.Unix(1000, 0)
	// 5 frames per second for 10 seconds.
	for i := 0; i < 50; i++ {
		m.Mark(now)
		now = now.Add(200 * time.Millisecond)
	}

	got := m.Value()
	if math.Abs(got-5.0) > 0.1 {
		t.Errorf("Value() = %.3f, want ~5.0", got)
	}
}

func TestFPSMeterDecaysAfterGap(t *testing.T) {
	m := NewFPSMeter("test-gap")
	defer DeleteStreamMetrics("test-gap")

	now := time.Unix(1000, 0)
	for i := 0; i < 20; i++ {
		m.Mark(now)
		now = now.Add(200 * time.Millisecond)
	}
	steady := m.Value()

	// One frame after a 5 second stall should pull the estimate down hard.
	now = now.Add(5 * time.Second)
	m.Mark(now)

	got := m.Value()
	if got >= steady {
		t.Errorf("Value() = %.3f after stall, want below steady %.3f", got, steady)
	}
	if got > 1.0 {
		t.Errorf("Value() = %.3f after 5s stall, want <= 1.0", got)
	}
}

func TestFPSMeterFirstMarkProducesNoRate(t *testing.T) {
	m := NewFPSMeter("test-first")
	defer DeleteStreamMetrics("test-first")

	m.Mark(time.Unix(1000, 0))
	if got := m.Value(); got != 0 {
		t.Errorf("Value() after single mark = %.3f, want 0", got)
	}
}

func TestFPSMeterIgnoresNonMonotonicTime(t *testing.T) {
	m := NewFPSMeter("test-backwards")
	defer DeleteStreamMetrics("test-backwards")

	now := time.Unix(1000, 0)
	m.Mark(now)
	m.Mark(now.Add(200 * time.Millisecond))
	before := m.Value()

	m.Mark(now) // clock went backwards
	if got := m.Value(); got != before {
		t.Errorf("Value() changed to %.3f after backwards mark, want %.3f", got, before)
	}
}

func TestFPSMeterReset(t *testing.T) {
	m := NewFPSMeter("test-reset")
	defer DeleteStreamMetrics("test-reset")

	now := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		m.Mark(now)
		now = now.Add(200 * time.Millisecond)
	}
	if m.Value() == 0 {
		t.Fatal("expected nonzero rate before reset")
	}

	m.Reset()
	if got := m.Value(); got != 0 {
		t.Errorf("Value() after reset = %.3f, want 0", got)
	}

	// Meter is reusable after reset.
	m.Mark(now)
	m.Mark(now.Add(200 * time.Millisecond))
	if m.Value() == 0 {
		t.Error("expected nonzero rate after marking a reset meter")
	}
}

func TestFPSMeterConcurrentAccess(t *testing.T) {
	m := NewFPSMeter("test-concurrent")
	defer DeleteStreamMetrics("test-concurrent")

	var wg sync.WaitGroup
	start := time.Unix(1000, 0)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.Mark(start.Add(time.Duration(g*100+i) * 10 * time.Millisecond))
				m.Value()
			}
		}(g)
	}
	wg.Wait()
}

func TestCounterHelpersAcceptAnyStreamID(_ *testing.T) {
	// Exercise the label helpers so a bad label cardinality panics in tests
	// rather than at runtime.
	const id = "9e0bb0a4-2f5c-4d36-8f8e-0f6f4f0c5a01"
	defer DeleteStreamMetrics(id)

	IncFramesEmitted(id)
	IncFramesDropped(id)
	IncBufferOverflow(id)
	IncMJPEGFramesDropped(id)
	SetMJPEGSubscribers(id, 3)
	IncWorkerRestarts(id)
	SetStreamFPS(id, 4.8)
	SetActiveWorkers(2)
	IncStreamsCreated()
	IncStreamsDeleted()
	IncStreamsReordered()
	IncHTTPRequest("GET", "/api/streams", "200")
	ObserveHTTPDuration("/api/streams", 0.012)
}
