package pipeline

import "time"

// EmitInterval is the minimum spacing between emitted frames, capping
// every stream at 5 FPS regardless of its configured target.
const EmitInterval = 200 * time.Millisecond

// Gate enforces the emission cap. Not safe for concurrent use; each
// stream's reader owns its gate.
type Gate struct {
	interval   time.Duration
	nextEmitAt time.Time
}

// NewGate creates a gate with the standard interval.
func NewGate() *Gate {
	return &Gate{interval: EmitInterval}
}

// Admit reports whether a frame observed at now may be emitted. On
// admission the next emission slot moves to now + interval.
func (g *Gate) Admit(now time.Time) bool {
	if !g.nextEmitAt.IsZero() && now.Before(g.nextEmitAt) {
		return false
	}
	g.nextEmitAt = now.Add(g.interval)
	return true
}

// Reset clears the schedule so the first frame after a restart is
// admitted immediately.
func (g *Gate) Reset() {
	g.nextEmitAt = time.Time{}
}
