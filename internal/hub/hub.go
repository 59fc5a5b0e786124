// Package hub fans out frames from one stream's pipeline to HTTP MJPEG
// subscribers and to the scoring callback.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lanview/camnode/internal/events"
	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/metrics"
	"github.com/lanview/camnode/internal/pipeline"
)

// slowDisconnectAfter is how long a subscriber may stay continuously
// slow before the hub drops it.
const slowDisconnectAfter = 30 * time.Second

// Publisher publishes hub events to the process bus.
type Publisher interface {
	Publish(ev events.Event)
}

// ScoreFunc is the scoring callback. It runs synchronously on the
// scoring task with the latest frame and returns zero or more opaque
// score records.
type ScoreFunc func(frame pipeline.Frame) []any

type subscriber struct {
	ch        chan pipeline.Frame
	slowSince time.Time
}

// Hub owns one stream's subscriber set and latest-frame slot. Publish
// never blocks on subscriber I/O; slow subscribers lose frames and are
// disconnected after slowDisconnectAfter of continuous slowness.
type Hub struct {
	streamID string
	bus      Publisher
	scoreFn  ScoreFunc
	logger   *slog.Logger

	mu        sync.Mutex
	subs      map[uint64]*subscriber
	nextSubID uint64
	latest    pipeline.Frame
	hasLatest bool
	closed    bool

	scoring chan pipeline.Frame
	done    chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

// New creates a hub. scoreFn may be nil when no scoring consumer is
// registered; bus may be nil in tests.
func New(streamID string, bus Publisher, scoreFn ScoreFunc) *Hub {
	h := &Hub{
		streamID: streamID,
		bus:      bus,
		scoreFn:  scoreFn,
		logger:   logging.GetLogger("hub"),
		subs:     make(map[uint64]*subscriber),
		scoring:  make(chan pipeline.Frame, 1),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	if scoreFn != nil {
		h.wg.Add(1)
		go h.scoreLoop()
	}
	return h
}

// Publish delivers a frame to every subscriber mailbox and to the
// scoring slot. A full mailbox drops the new frame for that subscriber.
func (h *Hub) Publish(frame pipeline.Frame) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.latest = frame
	h.hasLatest = true

	now := h.now()
	for id, sub := range h.subs {
		select {
		case sub.ch <- frame:
			sub.slowSince = time.Time{}
		default:
			metrics.IncMJPEGFramesDropped(h.streamID)
			if sub.slowSince.IsZero() {
				sub.slowSince = now
			} else if now.Sub(sub.slowSince) >= slowDisconnectAfter {
				close(sub.ch)
				delete(h.subs, id)
				h.logger.Warn("Disconnecting continuously slow subscriber",
					"stream_id", h.streamID, "subscriber", id)
			}
		}
	}
	metrics.SetMJPEGSubscribers(h.streamID, len(h.subs))
	h.mu.Unlock()

	if h.scoreFn != nil {
		// Latest-wins slot: replace any pending frame.
		for {
			select {
			case h.scoring <- frame:
				return
			default:
			}
			select {
			case <-h.scoring:
			default:
			}
		}
	}
}

// Subscribe registers an MJPEG subscriber. The returned channel closes
// when the hub shuts down, the subscriber is dropped for slowness, or
// cancel is called. A buffered latest frame is delivered immediately.
func (h *Hub) Subscribe() (<-chan pipeline.Frame, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan pipeline.Frame, 1)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = &subscriber{ch: ch}
	if h.hasLatest {
		ch <- h.latest
	}
	metrics.SetMJPEGSubscribers(h.streamID, len(h.subs))

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub.ch)
			delete(h.subs, id)
			metrics.SetMJPEGSubscribers(h.streamID, len(h.subs))
		}
	}
	return ch, cancel
}

// Latest returns the most recent frame, if any.
func (h *Hub) Latest() (pipeline.Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.hasLatest
}

// SubscriberCount returns the number of attached MJPEG subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches all subscribers by closing their channels and stops
// the scoring task. Safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	metrics.SetMJPEGSubscribers(h.streamID, 0)
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()
}

func (h *Hub) scoreLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case frame := <-h.scoring:
			scores := h.scoreFn(frame)
			if h.bus != nil {
				h.bus.Publish(events.ScoreEvent{
					StreamID:  h.streamID,
					Timestamp: frame.WallTS.UTC().Format(time.RFC3339Nano),
					Scores:    scores,
				})
			}
		}
	}
}
