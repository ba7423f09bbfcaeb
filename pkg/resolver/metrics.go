package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeFound = "found"
	outcomeEmpty = "empty"
	outcomeError = "error"
)

type metrics struct {
	lookups        *prometheus.CounterVec
	binariesLoaded prometheus.Counter
	loadFailures   prometheus.Counter
	binariesOpen   prometheus.Gauge
	evictions      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		lookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "symbridge",
			Subsystem: "resolver",
			Name:      "lookups_total",
			Help:      "Address lookups by outcome",
		}, []string{"outcome"}),
		binariesLoaded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "symbridge",
			Subsystem: "resolver",
			Name:      "binaries_loaded_total",
			Help:      "Binaries opened and parsed",
		}),
		loadFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "symbridge",
			Subsystem: "resolver",
			Name:      "binary_load_failures_total",
			Help:      "Binaries that could not be opened or parsed",
		}),
		binariesOpen: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "symbridge",
			Subsystem: "resolver",
			Name:      "binaries_open",
			Help:      "Parsed binaries currently cached",
		}),
		evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "symbridge",
			Subsystem: "resolver",
			Name:      "binary_evictions_total",
			Help:      "Binaries closed to make room for others",
		}),
	}
}
