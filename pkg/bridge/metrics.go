package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	entryUnboxed = "unboxed"
	entryBoxed   = "boxed"

	outcomeFound = "found"
	outcomeEmpty = "empty"
	outcomeError = "error"

	blockAtom  = "atom"
	blockYoung = "young"
	blockMajor = "major"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
	frames   prometheus.Histogram
	blocks   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "symbridge",
			Name:      "symbolize_requests_total",
			Help:      "Symbolization requests by entry point and outcome",
		}, []string{"entry_point", "outcome"}),
		duration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "symbridge",
			Name:      "symbolize_duration_seconds",
			Help:      "Time to resolve an address and build the response",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		frames: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "symbridge",
			Name:      "symbolize_frames",
			Help:      "Frames per resolved address",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		blocks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "symbridge",
			Name:      "inlined_frame_arrays_total",
			Help:      "Inlined frame arrays built, by allocation path",
		}, []string{"path"}),
	}
}
