package heap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	collections    *prometheus.CounterVec
	allocatedWords *prometheus.CounterVec
	promotedWords  prometheus.Counter
	freedWords     prometheus.Counter
	rememberedSet  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		collections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "symbridge",
			Subsystem: "heap",
			Name:      "collections_total",
			Help:      "Number of garbage collections by kind",
		}, []string{"kind"}),
		allocatedWords: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "symbridge",
			Subsystem: "heap",
			Name:      "allocated_words_total",
			Help:      "Words allocated, headers included, by region",
		}, []string{"region"}),
		promotedWords: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "symbridge",
			Subsystem: "heap",
			Name:      "promoted_words_total",
			Help:      "Words copied from the young to the major region",
		}),
		freedWords: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "symbridge",
			Subsystem: "heap",
			Name:      "freed_words_total",
			Help:      "Words returned to the major free list",
		}),
		rememberedSet: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "symbridge",
			Subsystem: "heap",
			Name:      "remembered_set_size",
			Help:      "Major fields currently holding young pointers",
		}),
	}
}
