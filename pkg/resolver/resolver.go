// Package resolver maps instruction addresses in ELF binaries to their
// inlined call chains using the binaries' DWARF debug information.
package resolver

import (
	"context"
	"flag"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// BadString stands in for a name or file the debug information does not have.
const BadString = "<invalid>"

// UndefSection marks an address the caller has no section information for.
const UndefSection = ^uint64(0)

type SectionedAddress struct {
	Address      uint64
	SectionIndex uint64
}

// Frame is one level of the call chain covering an address.
//
// A chain of N frames lists the N-1 inlined levels first, outermost inlining
// first, and ends with the real function the code was inlined into. Line and
// Column locate the address for the deepest inlined level and the call site
// of the next deeper level for every other frame.
type Frame struct {
	FunctionName string
	FileName     string
	Line         int
	Column       int
	StartLine    int
	Inlined      bool
}

type Resolver interface {
	// Resolve returns the call chain covering addr in the binary at path. An
	// address nothing covers yields no frames and no error.
	Resolve(ctx context.Context, path string, addr SectionedAddress) ([]Frame, error)
}

type Config struct {
	UseSymbolTable bool `yaml:"use_symbol_table"`
	Demangle       bool `yaml:"demangle"`
	MaxBinaries    int  `yaml:"max_binaries"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("resolver", f)
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.UseSymbolTable, prefix+".use-symbol-table", false, "Fall back to the ELF symbol table for addresses without DWARF subprograms.")
	f.BoolVar(&cfg.Demangle, prefix+".demangle", true, "Report demangled linkage names instead of plain DWARF names.")
	f.IntVar(&cfg.MaxBinaries, prefix+".max-binaries", 0, "Maximum number of parsed binaries kept open. 0 keeps every binary for the lifetime of the resolver.")
}

func (cfg *Config) Validate() error {
	if cfg.MaxBinaries < 0 {
		return fmt.Errorf("invalid max-binaries value %d, must not be negative", cfg.MaxBinaries)
	}
	return nil
}

// DWARFResolver parses each binary once and keeps it for later queries.
type DWARFResolver struct {
	logger  log.Logger
	cfg     Config
	metrics *metrics

	mtx      sync.Mutex
	binaries map[string]*binary
	lru      *lru.Cache[string, *binary]
	// closing collects close errors while the LRU is being purged.
	closing *multierror.MultiError
}

func New(logger log.Logger, cfg Config, reg prometheus.Registerer) (*DWARFResolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &DWARFResolver{
		logger:  logger,
		cfg:     cfg,
		metrics: newMetrics(reg),
	}
	if cfg.MaxBinaries == 0 {
		r.binaries = make(map[string]*binary)
		return r, nil
	}
	cache, err := lru.NewWithEvict[string, *binary](cfg.MaxBinaries, r.evicted)
	if err != nil {
		return nil, err
	}
	r.lru = cache
	return r, nil
}

func (r *DWARFResolver) evicted(path string, b *binary) {
	err := b.Close()
	if r.closing != nil {
		r.closing.Add(err)
		return
	}
	r.metrics.evictions.Inc()
	if err != nil {
		level.Warn(r.logger).Log("msg", "failed to close evicted binary", "path", path, "err", err)
	}
}

func (r *DWARFResolver) Resolve(ctx context.Context, path string, addr SectionedAddress) ([]Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()

	b, err := r.binary(path)
	if err != nil {
		r.metrics.lookups.WithLabelValues(outcomeError).Inc()
		return nil, err
	}
	if addr.SectionIndex != UndefSection && !b.inSection(addr) {
		r.metrics.lookups.WithLabelValues(outcomeEmpty).Inc()
		return nil, nil
	}
	frames, err := b.frames(addr.Address)
	if err != nil {
		r.metrics.lookups.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("resolve 0x%x in %s: %w", addr.Address, path, err)
	}
	if len(frames) == 0 {
		r.metrics.lookups.WithLabelValues(outcomeEmpty).Inc()
		return nil, nil
	}
	r.metrics.lookups.WithLabelValues(outcomeFound).Inc()
	return frames, nil
}

func (r *DWARFResolver) binary(path string) (*binary, error) {
	if b, ok := r.cached(path); ok {
		return b, nil
	}
	b, err := openBinary(path, binaryOptions{
		demangle:       r.cfg.Demangle,
		useSymbolTable: r.cfg.UseSymbolTable,
	})
	if err != nil {
		r.metrics.loadFailures.Inc()
		return nil, err
	}
	r.metrics.binariesLoaded.Inc()
	level.Debug(r.logger).Log("msg", "loaded binary", "path", path, "units", len(b.units))
	if r.lru != nil {
		r.lru.Add(path, b)
	} else {
		r.binaries[path] = b
	}
	r.metrics.binariesOpen.Set(float64(r.len()))
	return b, nil
}

func (r *DWARFResolver) cached(path string) (*binary, bool) {
	if r.lru != nil {
		return r.lru.Get(path)
	}
	b, ok := r.binaries[path]
	return b, ok
}

func (r *DWARFResolver) len() int {
	if r.lru != nil {
		return r.lru.Len()
	}
	return len(r.binaries)
}

// Close releases every cached binary.
func (r *DWARFResolver) Close() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	errs := multierror.New()
	if r.lru != nil {
		r.closing = &errs
		r.lru.Purge()
		r.closing = nil
	} else {
		for path, b := range r.binaries {
			errs.Add(b.Close())
			delete(r.binaries, path)
		}
	}
	r.metrics.binariesOpen.Set(0)
	return errs.Err()
}
