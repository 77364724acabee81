package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	sessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomrec",
			Name:      "session_started_total",
			Help:      "Number of live sessions detected.",
		}, []string{"room"},
	)
	segments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomrec",
			Name:      "segments_total",
			Help:      "Number of segment recordings started.",
		}, []string{"room"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomrec",
			Name:      "reconnects_total",
			Help:      "Number of reconnects after a recorder exit while the room stayed live.",
		}, []string{"room"},
	)
	merges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomrec",
			Name:      "merges_total",
			Help:      "Merge attempts by result (ok, failed, nothing).",
		}, []string{"room", "result"},
	)
	organizerFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomrec",
			Name:      "organizer_files_total",
			Help:      "Files handled by the organizer by action (moved, duplicate, skipped, conflict).",
		}, []string{"action"},
	)
	monitorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "roomrec",
			Name:      "monitor_state",
			Help:      "Current monitor state (1 = active state, 0 = inactive).",
		}, []string{"room", "state"},
	)
	segmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roomrec",
			Name:      "segment_duration_seconds",
			Help:      "Wall-clock duration of finished recording attempts.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"room"},
	)
	recorderCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "roomrec",
			Subsystem: "recorder",
			Name:      "cpu_percent",
			Help:      "CPU usage of the running recorder process.",
		}, []string{"room"},
	)
	recorderRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "roomrec",
			Subsystem: "recorder",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the running recorder process.",
		}, []string{"room"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{sessionsStarted, segments, reconnects, merges, organizerFiles, monitorState, segmentDuration, recorderCPU, recorderRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Helpers below no-op until Register has been called.

func IncSessionStarted(room string) {
	if regOK.Load() {
		sessionsStarted.WithLabelValues(room).Inc()
	}
}

func IncSegment(room string) {
	if regOK.Load() {
		segments.WithLabelValues(room).Inc()
	}
}

func IncReconnect(room string) {
	if regOK.Load() {
		reconnects.WithLabelValues(room).Inc()
	}
}

// Merge results.
const (
	MergeOK      = "ok"
	MergeFailed  = "failed"
	MergeNothing = "nothing"
)

func IncMerge(room, result string) {
	if regOK.Load() {
		merges.WithLabelValues(room, result).Inc()
	}
}

// AddOrganizer adds n files for an organizer action.
func AddOrganizer(action string, n int) {
	if regOK.Load() && n > 0 {
		organizerFiles.WithLabelValues(action).Add(float64(n))
	}
}

// SetMonitorState marks state as active for room and every other known state inactive.
func SetMonitorState(room, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		monitorState.WithLabelValues(room, s).Set(v)
	}
}

func ObserveSegmentDuration(room string, seconds float64) {
	if regOK.Load() {
		segmentDuration.WithLabelValues(room).Observe(seconds)
	}
}
