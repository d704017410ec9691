package server

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Metrics counts dictionary operations. Backed by Prometheus when
// enabled, otherwise by discard counters so callers never nil-check.
type Metrics struct {
	Sets          metrics.Counter
	Removes       metrics.Counter
	Merges        metrics.Counter
	MergeFailures metrics.Counter
}

// NewMetrics builds the operation counters. Prometheus counters
// register against the default registry, so build at most one enabled
// instance per process.
func NewMetrics(enabled bool) *Metrics {
	if !enabled {
		return &Metrics{
			Sets:          discard.NewCounter(),
			Removes:       discard.NewCounter(),
			Merges:        discard.NewCounter(),
			MergeFailures: discard.NewCounter(),
		}
	}

	return &Metrics{
		Sets: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lww",
			Subsystem: "dictionary",
			Name:      "sets_total",
			Help:      "Number of SET operations applied.",
		}, nil),
		Removes: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lww",
			Subsystem: "dictionary",
			Name:      "removes_total",
			Help:      "Number of REMOVE operations applied.",
		}, nil),
		Merges: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lww",
			Subsystem: "dictionary",
			Name:      "merges_total",
			Help:      "Number of peer snapshots merged.",
		}, nil),
		MergeFailures: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lww",
			Subsystem: "dictionary",
			Name:      "merge_failures_total",
			Help:      "Number of rejected or failed merges.",
		}, nil),
	}
}
