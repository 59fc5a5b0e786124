package metrics

import (
	"math"
	"sync"
	"time"
)

// fpsTimeConstant controls how quickly the smoothed rate follows the
// instantaneous rate. Rates older than about 2s carry little weight.
const fpsTimeConstant = 2 * time.Second

// FPSMeter tracks an exponentially smoothed frame rate for one stream
// and publishes it to the stream_fps gauge on every mark.
type FPSMeter struct {
	mu       sync.Mutex
	streamID string
	last     time.Time
	ema      float64
}

// NewFPSMeter returns a meter publishing under the given stream ID.
func NewFPSMeter(streamID string) *FPSMeter {
	return &FPSMeter{streamID: streamID}
}

// Mark records one emitted frame at the given time and updates the gauge.
func (m *FPSMeter) Mark(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last.IsZero() {
		m.last = now
		return
	}

	dt := now.Sub(m.last)
	if dt <= 0 {
		return
	}
	m.last = now

	inst := float64(time.Second) / float64(dt)
	alpha := 1 - math.Exp(-float64(dt)/float64(fpsTimeConstant))
	m.ema = m.ema + alpha*(inst-m.ema)

	SetStreamFPS(m.streamID, m.ema)
}

// Value returns the current smoothed rate.
func (m *FPSMeter) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ema
}

// Reset clears the meter and zeroes the gauge, used when a worker stops.
func (m *FPSMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = time.Time{}
	m.ema = 0
	SetStreamFPS(m.streamID, 0)
}
