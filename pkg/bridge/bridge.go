// Package bridge answers symbolization queries from code running on the
// managed heap. Results are laid out directly as heap blocks: an optional
// Response record holding the enclosing function's name and an array of
// inlined frame records, innermost first.
//
// A Bridge is bound to the goroutine that owns its heap.
package bridge

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/symbridge/pkg/heap"
	"github.com/grafana/symbridge/pkg/intern"
	"github.com/grafana/symbridge/pkg/resolver"
)

type Bridge struct {
	logger    log.Logger
	heap      *heap.Heap
	resolver  resolver.Resolver
	filenames *intern.Cache
	metrics   *metrics
}

func New(logger log.Logger, h *heap.Heap, r resolver.Resolver, reg prometheus.Registerer) *Bridge {
	return &Bridge{
		logger:    logger,
		heap:      h,
		resolver:  r,
		filenames: intern.New(h, reg),
		metrics:   newMetrics(reg),
	}
}

// NewFromConfig creates a heap owned by the calling goroutine and a DWARF
// resolver, and binds a bridge to both.
func NewFromConfig(logger log.Logger, cfg Config, reg prometheus.Registerer) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h, err := heap.New(log.With(logger, "component", "heap"), cfg.Heap, reg)
	if err != nil {
		return nil, err
	}
	r, err := resolver.New(log.With(logger, "component", "resolver"), cfg.Resolver, reg)
	if err != nil {
		return nil, err
	}
	return New(logger, h, r, reg), nil
}

func (b *Bridge) Heap() *heap.Heap {
	return b.heap
}

// Filenames returns the number of distinct file names interned so far.
func (b *Bridge) Filenames() int {
	return b.filenames.Len()
}

// Symbolize resolves address in the executable named by the managed string
// path. It returns None when nothing is known about the address, and
// Some(Response) otherwise.
func (b *Bridge) Symbolize(path heap.Value, address uint64) heap.Value {
	return b.symbolize(entryUnboxed, path, address)
}

// SymbolizeBoxed is Symbolize for callers that pass the address as a boxed
// machine integer.
func (b *Bridge) SymbolizeBoxed(path heap.Value, address heap.Value) heap.Value {
	return b.symbolize(entryBoxed, path, b.heap.NativeintVal(address))
}

func (b *Bridge) symbolize(entry string, path heap.Value, address uint64) heap.Value {
	start := time.Now()
	// Copy the path out before anything allocates and moves it.
	exe := b.heap.StringVal(path)

	frames, err := b.resolver.Resolve(context.Background(), exe, resolver.SectionedAddress{
		Address:      address,
		SectionIndex: resolver.UndefSection,
	})
	if err != nil {
		level.Debug(b.logger).Log("msg", "failed to symbolize address", "path", exe, "address", fmt.Sprintf("0x%x", address), "err", err)
		b.done(entry, outcomeError, start)
		return heap.None
	}
	if len(frames) == 0 {
		b.done(entry, outcomeEmpty, start)
		return heap.None
	}

	result := b.heap.Some(b.buildResponse(frames))
	b.metrics.frames.Observe(float64(len(frames)))
	b.done(entry, outcomeFound, start)
	return result
}

func (b *Bridge) done(entry, outcome string, start time.Time) {
	b.metrics.requests.WithLabelValues(entry, outcome).Inc()
	b.metrics.duration.Observe(time.Since(start).Seconds())
}

// Close releases the resolver's cached binaries when it holds any.
func (b *Bridge) Close() error {
	if c, ok := b.resolver.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
