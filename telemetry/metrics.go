// Package telemetry provides the Prometheus metrics of the watcher.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session acquisition results.
const (
	SessionCached    = "cached"
	SessionRefreshed = "refreshed"
	SessionStale     = "stale"
	SessionAbsent    = "absent"
)

var (
	// CyclesStarted counts poll cycles that acquired the single-flight guard.
	CyclesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectrum_poll_cycles_total",
		Help: "Number of poll cycles started",
	})
	// CyclesOverlapped counts triggers dropped because a cycle was in flight.
	CyclesOverlapped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectrum_poll_cycles_overlapped_total",
		Help: "Number of poll triggers ignored while a cycle was running",
	})
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spectrum_poll_cycle_duration_seconds",
		Help:    "Poll cycle duration seconds",
		Buckets: prometheus.DefBuckets,
	})

	AnnouncementsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectrum_announcements_sent_total",
		Help: "Number of thread announcements delivered",
	})
	AnnouncementsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectrum_announcements_failed_total",
		Help: "Number of thread announcements that failed to deliver",
	})

	// SessionAcquisitions is labelled by result: cached, refreshed, stale, absent.
	SessionAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectrum_session_acquisitions_total",
		Help: "Session acquisitions by result",
	}, []string{"result"})

	CursorWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectrum_cursor_write_failures_total",
		Help: "Number of cursor writes rejected by durable storage",
	})
)

// ObserveSince records the time elapsed since start in obs.
func ObserveSince(obs prometheus.Observer, start time.Time) time.Duration {
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}
