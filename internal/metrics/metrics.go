// Package metrics provides Prometheus metrics for the stream pipeline,
// the fan-out hub, the worker supervisor, and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "camnode",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	streamsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "streams",
		Name:      "created_total",
		Help:      "Stream records created",
	})

	streamsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "streams",
		Name:      "deleted_total",
		Help:      "Stream records deleted",
	})

	streamsReordered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "streams",
		Name:      "reordered_total",
		Help:      "Catalogue reorder operations",
	})

	pipelineFramesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "pipeline",
		Name:      "frames_emitted_total",
		Help:      "JPEG frames emitted past the FPS gate",
	}, []string{"stream_id"})

	pipelineFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "pipeline",
		Name:      "frames_dropped_total",
		Help:      "JPEG frames dropped by the FPS gate",
	}, []string{"stream_id"})

	pipelineBufferOverflow = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "pipeline",
		Name:      "buffer_overflow_total",
		Help:      "Parser buffer discards after exceeding the frame size limit",
	}, []string{"stream_id"})

	mjpegFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "mjpeg",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped for slow MJPEG subscribers",
	}, []string{"stream_id"})

	mjpegSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Name:      "active_mjpeg_subscribers",
		Help:      "Connected MJPEG subscribers",
	}, []string{"stream_id"})

	workerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "worker",
		Name:      "restarts_total",
		Help:      "FFmpeg subprocess restarts",
	}, []string{"stream_id"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camnode",
		Name:      "active_workers",
		Help:      "Workers currently counted against the concurrency limit",
	})

	streamFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "stream",
		Name:      "fps",
		Help:      "Emitted frame rate per stream, EMA over the last 2s",
	}, []string{"stream_id"})
)

// IncHTTPRequest counts one handled HTTP request.
func IncHTTPRequest(method, route, status string) {
	httpRequests.WithLabelValues(method, route, status).Inc()
}

// ObserveHTTPDuration records the latency of one HTTP request.
func ObserveHTTPDuration(route string, seconds float64) {
	httpDuration.WithLabelValues(route).Observe(seconds)
}

// IncStreamsCreated counts a created stream record.
func IncStreamsCreated() { streamsCreated.Inc() }

// IncStreamsDeleted counts a deleted stream record.
func IncStreamsDeleted() { streamsDeleted.Inc() }

// IncStreamsReordered counts a catalogue reorder.
func IncStreamsReordered() { streamsReordered.Inc() }

// IncFramesEmitted counts a frame emitted past the FPS gate.
func IncFramesEmitted(streamID string) {
	pipelineFramesEmitted.WithLabelValues(streamID).Inc()
}

// IncFramesDropped counts a frame dropped by the FPS gate.
func IncFramesDropped(streamID string) {
	pipelineFramesDropped.WithLabelValues(streamID).Inc()
}

// IncBufferOverflow counts a parser buffer discard.
func IncBufferOverflow(streamID string) {
	pipelineBufferOverflow.WithLabelValues(streamID).Inc()
}

// IncMJPEGFramesDropped counts a frame dropped for one slow subscriber.
func IncMJPEGFramesDropped(streamID string) {
	mjpegFramesDropped.WithLabelValues(streamID).Inc()
}

// SetMJPEGSubscribers sets the connected subscriber count for a stream.
func SetMJPEGSubscribers(streamID string, n int) {
	mjpegSubscribers.WithLabelValues(streamID).Set(float64(n))
}

// IncWorkerRestarts counts one subprocess restart.
func IncWorkerRestarts(streamID string) {
	workerRestarts.WithLabelValues(streamID).Inc()
}

// SetActiveWorkers sets the running-worker gauge.
func SetActiveWorkers(n int) {
	activeWorkers.Set(float64(n))
}

// SetStreamFPS sets the smoothed emission rate for a stream.
func SetStreamFPS(streamID string, fps float64) {
	streamFPS.WithLabelValues(streamID).Set(fps)
}

// DeleteStreamMetrics removes all per-stream series for a stream.
// Called when a stream is deleted so stale label sets do not linger.
func DeleteStreamMetrics(streamID string) {
	pipelineFramesEmitted.DeleteLabelValues(streamID)
	pipelineFramesDropped.DeleteLabelValues(streamID)
	pipelineBufferOverflow.DeleteLabelValues(streamID)
	mjpegFramesDropped.DeleteLabelValues(streamID)
	mjpegSubscribers.DeleteLabelValues(streamID)
	workerRestarts.DeleteLabelValues(streamID)
	streamFPS.DeleteLabelValues(streamID)
}
