// Package metrics holds the daemon's Prometheus collectors, registered in
// the process's default registry. Nothing in this package opens an HTTP
// listener, and no IPC response includes these collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesIngested counts frames read off the wire by the Ingest Reader,
	// labeled by printer.
	FramesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acproxycam_frames_ingested_total",
		Help: "Total frames read from a printer's camera stream.",
	}, []string{"printer"})

	// FramesPublished counts frames the Hub placed on a subscriber queue,
	// once per subscriber, labeled by printer and output kind.
	FramesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acproxycam_frames_published_total",
		Help: "Total frames published to subscribers of a given output kind.",
	}, []string{"printer", "kind"})

	// FramesDropped counts frames the Hub discarded under backpressure,
	// labeled by printer, output kind, and drop reason.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acproxycam_frames_dropped_total",
		Help: "Total frames dropped before reaching a subscriber.",
	}, []string{"printer", "kind", "reason"})

	// Subscribers reports the current subscriber count, labeled by printer
	// and output kind.
	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "acproxycam_subscribers",
		Help: "Current number of connected subscribers.",
	}, []string{"printer", "kind"})

	// MeasuredFPS is registered for a per-printer measured ingest frame
	// rate; nothing in the daemon sets it, so it carries no series.
	MeasuredFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "acproxycam_measured_fps",
		Help: "Measured ingest frame rate, averaged over the last few seconds.",
	}, []string{"printer"})

	// SupervisorState reports each Supervisor's current FSM state as a
	// gauge of value 1 (all other states for that printer read 0).
	SupervisorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "acproxycam_supervisor_state",
		Help: "1 if the printer's Supervisor is currently in this state, else 0.",
	}, []string{"printer", "state"})

	// TranscodeQueueDepth reports the codec worker pool's queue occupancy.
	TranscodeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "acproxycam_transcode_queue_depth",
		Help: "Number of pending transcode tasks queued across all printers.",
	})

	// AuditDropped counts audit entries dropped because the log writer
	// could not keep up.
	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acproxycam_audit_entries_dropped_total",
		Help: "Total audit log entries dropped due to a write failure.",
	})
)

// SetSupervisorState zeroes every other known state for printer and sets
// the given one to 1, keeping the gauge vector consistent with the FSM's
// single-active-state invariant.
func SetSupervisorState(printer, active string, allStates []string) {
	for _, st := range allStates {
		v := 0.0
		if st == active {
			v = 1.0
		}
		SupervisorState.WithLabelValues(printer, st).Set(v)
	}
}

// DeletePrinter removes every series labeled with printer, called when a
// printer is deleted from the Store so stale series don't linger forever.
func DeletePrinter(printer string) {
	FramesIngested.DeletePartialMatch(prometheus.Labels{"printer": printer})
	FramesPublished.DeletePartialMatch(prometheus.Labels{"printer": printer})
	FramesDropped.DeletePartialMatch(prometheus.Labels{"printer": printer})
	Subscribers.DeletePartialMatch(prometheus.Labels{"printer": printer})
	MeasuredFPS.DeletePartialMatch(prometheus.Labels{"printer": printer})
	SupervisorState.DeletePartialMatch(prometheus.Labels{"printer": printer})
}
