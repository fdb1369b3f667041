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

	pollPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Subsystem: "poll",
			Name:      "passes_total",
			Help:      "Number of poll passes by outcome (run, skipped).",
		}, []string{"outcome"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Subsystem: "probe",
			Name:      "total",
			Help:      "Number of target probes by result (live, offline, error).",
		}, []string{"result"},
	)
	recordingsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Subsystem: "recording",
			Name:      "starts_total",
			Help:      "Number of recording subprocesses spawned.",
		},
	)
	recordingsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Subsystem: "recording",
			Name:      "finished_total",
			Help:      "Number of recordings finished by outcome (clean, failed).",
		}, []string{"outcome"},
	)
	remuxes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Subsystem: "remux",
			Name:      "total",
			Help:      "Number of remux runs by result (ok, failed, skipped).",
		}, []string{"result"},
	)
	activeRecordings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamwatch",
			Subsystem: "recording",
			Name:      "active",
			Help:      "Current number of active recordings.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{pollPasses, probes, recordingsStarted, recordingsFinished, remuxes, activeRecordings}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until Register.

func IncPollPass(outcome string) {
	if regOK.Load() {
		pollPasses.WithLabelValues(outcome).Inc()
	}
}

func IncProbe(result string) {
	if regOK.Load() {
		probes.WithLabelValues(result).Inc()
	}
}

func IncRecordingStart() {
	if regOK.Load() {
		recordingsStarted.Inc()
	}
}

func IncRecordingFinished(outcome string) {
	if regOK.Load() {
		recordingsFinished.WithLabelValues(outcome).Inc()
	}
}

func IncRemux(result string) {
	if regOK.Load() {
		remuxes.WithLabelValues(result).Inc()
	}
}

func SetActiveRecordings(n int) {
	if regOK.Load() {
		activeRecordings.Set(float64(n))
	}
}
