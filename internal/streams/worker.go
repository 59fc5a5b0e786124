package streams

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanview/camnode/internal/ffmpeg"
	"github.com/lanview/camnode/internal/hub"
	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/metrics"
	"github.com/lanview/camnode/internal/pipeline"
	"github.com/lanview/camnode/internal/process"
)

const (
	// warmupTimeout bounds how long a fresh subprocess may run without
	// emitting a frame before the attempt is abandoned.
	warmupTimeout = 10 * time.Second

	// watchdogTimeout declares the feed lost when no frame arrives for
	// this long after frames have been flowing.
	watchdogTimeout = 15 * time.Second

	watchdogPoll = time.Second

	restartBackoffInitial = time.Second
	restartBackoffMax     = 30 * time.Second

	// maxRestartFailures is how many consecutive frameless restart
	// attempts the supervisor tolerates before giving up.
	maxRestartFailures = 10
)

// Worker supervises one stream's FFmpeg subprocess: spawn, parse the
// MJPEG pipe, publish frames to the hub, and restart on feed loss with
// exponential backoff. All state transitions are reported to the
// registry, which owns the persisted status.
type Worker struct {
	streamID string
	binary   string
	argv     []string
	hub      *hub.Hub
	report   func(StreamStatus)

	logger    *slog.Logger
	ffmpegLog *slog.Logger

	pipe      *pipeline.Pipeline
	lastFrame atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Tunables, defaulted by NewWorker. Tests shorten them.
	warmup      time.Duration
	watchdog    time.Duration
	backoffInit time.Duration
	backoffMax  time.Duration
	maxFailures int

	now func() time.Time
}

// NewWorker creates a supervisor for one stream. report is called for
// every lifecycle transition and must not call back into the worker.
func NewWorker(streamID string, argv []string, h *hub.Hub, report func(StreamStatus)) *Worker {
	return &Worker{
		streamID:    streamID,
		binary:      ffmpeg.Binary,
		argv:        argv,
		hub:         h,
		report:      report,
		logger:      logging.GetLogger("worker"),
		ffmpegLog:   logging.GetLogger("ffmpeg"),
		pipe:        pipeline.New(streamID),
		stopCh:      make(chan struct{}),
		warmup:      warmupTimeout,
		watchdog:    watchdogTimeout,
		backoffInit: restartBackoffInitial,
		backoffMax:  restartBackoffMax,
		maxFailures: maxRestartFailures,
		now:         time.Now,
	}
}

// Hub returns the fan-out hub for this worker's frames.
func (w *Worker) Hub() *hub.Hub {
	return w.hub
}

// Start launches the supervision loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.supervise()
}

// Stop requests shutdown and blocks until the subprocess is gone and
// the final transition has been reported. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) supervise() {
	defer w.wg.Done()
	defer w.hub.Close()

	failures := 0
	for attempt := 0; ; attempt++ {
		select {
		case <-w.stopCh:
			w.report(StatusStopped)
			return
		default:
		}

		sawFrame, stopped := w.runAttempt()
		if stopped {
			w.report(StatusStopped)
			return
		}
		if attempt == 0 && !sawFrame {
			// Startup never produced a frame. No automatic retry; the
			// operator edits the stream or starts it again.
			w.report(StatusError)
			return
		}
		if sawFrame {
			failures = 0
		} else {
			failures++
			if failures >= w.maxFailures {
				w.logger.Error("Giving up after consecutive failed restarts",
					"stream_id", w.streamID, "failures", failures)
				w.report(StatusError)
				return
			}
		}
		w.report(StatusDisconnected)
		metrics.IncWorkerRestarts(w.streamID)
		if !w.sleep(w.restartDelay(failures)) {
			w.report(StatusStopped)
			return
		}
	}
}

// runAttempt runs one subprocess until the feed is lost, startup times
// out, or a stop is requested. sawFrame reports whether at least one
// frame was emitted during the attempt.
func (w *Worker) runAttempt() (sawFrame, stopped bool) {
	w.pipe.Reset()
	w.lastFrame.Store(w.now().UnixNano())

	first := make(chan struct{})
	var firstOnce sync.Once
	fatal := make(chan string, 1)

	proc, err := process.Start(process.Config{
		StreamID: w.streamID,
		Name:     w.binary,
		Args:     w.argv,
		Logger:   w.logger,
		OnStdout: func(chunk []byte) {
			for _, frame := range w.pipe.Ingest(chunk) {
				firstOnce.Do(func() { close(first) })
				w.lastFrame.Store(frame.WallTS.UnixNano())
				w.hub.Publish(frame)
			}
		},
		OnStderrLine: func(line string) {
			w.logFFmpegLine(line)
			if ffmpeg.IsFatalStreamError(line) {
				select {
				case fatal <- line:
				default:
				}
			}
		},
	})
	if err != nil {
		w.logger.Error("Failed to spawn FFmpeg", "stream_id", w.streamID, "error", err)
		return false, false
	}

	warmup := time.NewTimer(w.warmup)
	defer warmup.Stop()
	poll := watchdogPoll
	if w.watchdog < poll {
		poll = w.watchdog / 2
	}
	watchdog := time.NewTicker(poll)
	defer watchdog.Stop()

	for {
		select {
		case <-w.stopCh:
			proc.Stop()
			<-proc.Done()
			return sawFrame, true

		case <-proc.Done():
			w.logger.Warn("FFmpeg exited",
				"stream_id", w.streamID, "exit_code", proc.ExitCode(), "had_frames", sawFrame)
			return sawFrame, false

		case <-first:
			first = nil
			sawFrame = true
			w.report(StatusRunning)

		case <-warmup.C:
			if sawFrame {
				continue
			}
			w.logger.Warn("No frame within the warmup window",
				"stream_id", w.streamID, "warmup", w.warmup)
			proc.Stop()
			<-proc.Done()
			return false, false

		case line := <-fatal:
			w.logger.Warn("Fatal source error",
				"stream_id", w.streamID, "detail", MaskText(line))
			proc.Stop()
			<-proc.Done()
			return sawFrame, false

		case <-watchdog.C:
			if !sawFrame {
				continue
			}
			idle := w.now().Sub(time.Unix(0, w.lastFrame.Load()))
			if idle >= w.watchdog {
				w.logger.Warn("Feed watchdog expired",
					"stream_id", w.streamID, "idle", idle.Round(time.Second))
				proc.Stop()
				<-proc.Done()
				return sawFrame, false
			}
		}
	}
}

// logFFmpegLine forwards one stderr line into the module log at the
// level FFmpeg tagged it with, credentials masked.
func (w *Worker) logFFmpegLine(line string) {
	level, msg := ffmpeg.ParseLogLevel(line)
	msg = MaskText(msg)
	switch level {
	case "fatal", "panic", "error":
		w.ffmpegLog.Error(msg, "stream_id", w.streamID)
	case "warning":
		w.ffmpegLog.Warn(msg, "stream_id", w.streamID)
	default:
		w.ffmpegLog.Debug(msg, "stream_id", w.streamID)
	}
}

// restartDelay doubles per consecutive failure from the initial delay
// up to the cap. failures is 0 right after a healthy run.
func (w *Worker) restartDelay(failures int) time.Duration {
	d := w.backoffInit << failures
	if d <= 0 || d > w.backoffMax {
		return w.backoffMax
	}
	return d
}

func (w *Worker) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.stopCh:
		return false
	case <-t.C:
		return true
	}
}
