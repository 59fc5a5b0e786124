package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/lanview/camnode/internal/events"
	"github.com/lanview/camnode/internal/metrics"
	"github.com/lanview/camnode/internal/pipeline"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capturePublisher) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func testFrame(id string, seq int) pipeline.Frame {
	return pipeline.Frame{
		StreamID:    id,
		WallTS:      time.Unix(1000, 0).Add(time.Duration(seq) * pipeline.EmitInterval),
		MonotonicTS: time.Duration(seq) * pipeline.EmitInterval,
		Payload:     []byte{0xFF, 0xD8, byte(seq), 0xFF, 0xD9},
	}
}

func TestHubDeliversToSubscriber(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h1")
	h := New("h1", nil, nil)
	defer h.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	want := testFrame("h1", 0)
	h.Publish(want)

	select {
	case got := <-ch:
		if got.Payload[2] != 0 {
			t.Errorf("got frame %d, want 0", got.Payload[2])
		}
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestHubPrimesNewSubscriberWithLatest(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h2")
	h := New("h2", nil, nil)
	defer h.Close()

	h.Publish(testFrame("h2", 7))

	ch, cancel := h.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		if got.Payload[2] != 7 {
			t.Errorf("primed frame %d, want 7", got.Payload[2])
		}
	case <-time.After(time.Second):
		t.Fatal("latest frame not primed")
	}
}

func TestHubDropsNewestWhenMailboxFull(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h3")
	h := New("h3", nil, nil)
	defer h.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	// Mailbox holds frame 0; frames 1 and 2 must be dropped for this
	// subscriber, not queued.
	h.Publish(testFrame("h3", 0))
	h.Publish(testFrame("h3", 1))
	h.Publish(testFrame("h3", 2))

	got := <-ch
	if got.Payload[2] != 0 {
		t.Errorf("first delivered frame %d, want 0", got.Payload[2])
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected queued frame %d", extra.Payload[2])
	default:
	}
}

func TestHubDisconnectsContinuouslySlowSubscriber(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h4")
	h := New("h4", nil, nil)
	defer h.Close()

	clock := time.Unix(2000, 0)
	h.now = func() time.Time { return clock }

	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(testFrame("h4", 0)) // fills the mailbox
	h.Publish(testFrame("h4", 1)) // first slow drop, marks slowSince

	clock = clock.Add(slowDisconnectAfter)
	h.Publish(testFrame("h4", 2)) // still slow past the cutoff

	// Channel closes after the pending frame is drained.
	if got, ok := <-ch; !ok || got.Payload[2] != 0 {
		t.Fatalf("expected pending frame 0 before close, ok=%v", ok)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel for slow subscriber")
		}
	case <-time.After(time.Second):
		t.Fatal("slow subscriber channel not closed")
	}
	if n := h.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount() = %d after disconnect, want 0", n)
	}
}

func TestHubSlowMarkClearsOnDelivery(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h5")
	h := New("h5", nil, nil)
	defer h.Close()

	clock := time.Unix(2000, 0)
	h.now = func() time.Time { return clock }

	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(testFrame("h5", 0))
	h.Publish(testFrame("h5", 1)) // slow drop
	<-ch                          // drain, subscriber catches up

	clock = clock.Add(slowDisconnectAfter)
	h.Publish(testFrame("h5", 2)) // delivered, clears the slow mark

	select {
	case got := <-ch:
		if got.Payload[2] != 2 {
			t.Errorf("delivered frame %d, want 2", got.Payload[2])
		}
	case <-time.After(time.Second):
		t.Fatal("recovered subscriber lost its frame")
	}
	if n := h.SubscriberCount(); n != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", n)
	}
}

func TestHubCancelDetachesSubscriber(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h6")
	h := New("h6", nil, nil)
	defer h.Close()

	ch, cancel := h.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}
	if n := h.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount() = %d after cancel, want 0", n)
	}
	cancel() // idempotent
}

func TestHubCloseDetachesAllSubscribers(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h7")
	h := New("h7", nil, nil)

	ch1, _ := h.Subscribe()
	ch2, _ := h.Subscribe()
	h.Close()
	h.Close() // safe twice

	for _, ch := range []<-chan pipeline.Frame{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Error("subscriber channel open after Close")
		}
	}

	// Publish after close is a no-op.
	h.Publish(testFrame("h7", 0))
	if _, ok := h.Latest(); ok {
		t.Error("Latest() set by post-close publish")
	}
}

func TestHubSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h8")
	h := New("h8", nil, nil)
	h.Close()

	ch, cancel := h.Subscribe()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Error("expected closed channel from post-close Subscribe")
	}
}

func TestHubScoringLatestWins(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h9")

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var scored []byte

	bus := &capturePublisher{}
	h := New("h9", bus, func(f pipeline.Frame) []any {
		mu.Lock()
		scored = append(scored, f.Payload[2])
		mu.Unlock()
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return []any{map[string]any{"label": "person", "confidence": 0.9}}
	})
	defer h.Close()

	h.Publish(testFrame("h9", 0))
	<-started // callback busy with frame 0

	// Frames 1..3 arrive while the callback runs; only 3 must survive.
	h.Publish(testFrame("h9", 1))
	h.Publish(testFrame("h9", 2))
	h.Publish(testFrame("h9", 3))
	release <- struct{}{} // finish frame 0
	<-started             // callback picked up the pending frame
	release <- struct{}{}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := len(scored) >= 2
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scoring callback did not run twice")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if scored[0] != 0 || scored[1] != 3 {
		t.Errorf("scored frames %v, want [0 3]", scored)
	}
}

func TestHubPublishesScoreEvents(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h10")

	bus := &capturePublisher{}
	h := New("h10", bus, func(f pipeline.Frame) []any {
		return []any{map[string]any{"label": "cat"}}
	})
	defer h.Close()

	h.Publish(testFrame("h10", 0))

	deadline := time.After(2 * time.Second)
	for len(bus.all()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no score event published")
		case <-time.After(10 * time.Millisecond):
		}
	}

	ev, ok := bus.all()[0].(events.ScoreEvent)
	if !ok {
		t.Fatalf("event type %T, want ScoreEvent", bus.all()[0])
	}
	if ev.StreamID != "h10" {
		t.Errorf("StreamID = %q, want h10", ev.StreamID)
	}
	if len(ev.Scores) != 1 {
		t.Errorf("Scores length = %d, want 1", len(ev.Scores))
	}
	if ev.Timestamp == "" {
		t.Error("Timestamp empty")
	}
}

func TestHubConcurrentPublishSubscribe(t *testing.T) {
	defer metrics.DeleteStreamMetrics("h11")
	h := New("h11", nil, nil)
	defer h.Close()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				h.Publish(testFrame("h11", i%200))
			}
		}
	}()

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ch, cancel := h.Subscribe()
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
				cancel()
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	time.Sleep(200 * time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent publish/subscribe deadlocked")
	}
}
