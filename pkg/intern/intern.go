// Package intern builds each distinct file name once, as a string outside the
// collected heap, and hands out the same handle on every later request.
package intern

import (
	"strings"

	"github.com/dolthub/swiss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grafana/symbridge/pkg/heap"
)

const initialCapacity = 64

// Cache maps paths to static heap strings. Entries are never evicted: static
// strings live as long as the heap, and callers compare handles by identity.
type Cache struct {
	h       *heap.Heap
	strings *swiss.Map[string, heap.Value]
	metrics *metrics
}

func New(h *heap.Heap, reg prometheus.Registerer) *Cache {
	return &Cache{
		h:       h,
		strings: swiss.NewMap[string, heap.Value](initialCapacity),
		metrics: newMetrics(reg),
	}
}

// Intern returns the static string for path, building it on first use.
func (c *Cache) Intern(path string) heap.Value {
	if v, ok := c.strings.Get(path); ok {
		c.metrics.hits.Inc()
		return v
	}
	c.metrics.misses.Inc()
	v := c.h.AllocStaticString(path)
	// The caller's string may alias memory it reuses.
	c.strings.Put(strings.Clone(path), v)
	c.metrics.entries.Set(float64(c.strings.Count()))
	return v
}

// Len returns the number of distinct paths seen.
func (c *Cache) Len() int {
	return c.strings.Count()
}

type metrics struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	entries prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		hits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "symbridge",
			Subsystem: "intern",
			Name:      "hits_total",
			Help:      "File name lookups served from the cache",
		}),
		misses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "symbridge",
			Subsystem: "intern",
			Name:      "misses_total",
			Help:      "File name lookups that built a new static string",
		}),
		entries: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "symbridge",
			Subsystem: "intern",
			Name:      "entries",
			Help:      "Distinct file names cached",
		}),
	}
}
