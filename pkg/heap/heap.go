// Package heap models the managed runtime the symbolization bridge hands its
// results to: a generational, garbage-collected heap of tagged blocks.
//
// The model is faithful to the parts of the runtime ABI a native caller has to
// respect. Young blocks are bump-allocated and hold garbage until written; a
// collection may run inside any allocation and moves every young block it
// can reach; stores of young pointers into major blocks must go through the
// write barrier; blocks outside the heap are never scanned or moved. Every
// word the collector visits is validated, so a protocol violation surfaces as
// a Fault instead of silent corruption.
//
// A Heap belongs to one goroutine.
package heap

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/petermattis/goid"
	"github.com/prometheus/client_golang/prometheus"
)

// Stats are cumulative counters of a heap's activity.
type Stats struct {
	MinorCollections int
	MajorCollections int
	MinorWords       int
	MajorWords       int
	StaticWords      int
	PromotedWords    int
	FreedWords       int
	RememberedSet    int
}

type Heap struct {
	logger  log.Logger
	cfg     Config
	metrics *metrics
	owner   int64

	atoms []Value

	minor    []Value
	minorPtr int

	major       []Value
	free        map[int][]int
	sinceMajor  int
	remembered  []int
	promoteScan []int
	markStack   []int

	static []Value

	localRoots  []*Value
	globalRoots []*Value

	stats Stats
}

// New creates a heap owned by the calling goroutine.
func New(logger log.Logger, cfg Config, reg prometheus.Registerer) (*Heap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Heap{
		logger:  logger,
		cfg:     cfg,
		metrics: newMetrics(reg),
		owner:   goid.Get(),
		atoms:   make([]Value, 257),
		minor:   make([]Value, cfg.MinorHeapWords),
		free:    make(map[int][]int),
	}
	for t := 0; t < 256; t++ {
		h.atoms[t] = Value(makeHeader(0, black, Tag(t)))
	}
	for i := range h.minor {
		h.minor[i] = poison
	}
	level.Debug(logger).Log("msg", "managed heap created", "minor_words", cfg.MinorHeapWords, "check_owner", cfg.CheckOwner)
	return h, nil
}

// Adopt transfers ownership of the heap to the calling goroutine. The
// previous owner must not touch the heap afterwards.
func (h *Heap) Adopt() {
	h.owner = goid.Get()
}

func (h *Heap) checkOwner(op string) {
	if h.cfg.CheckOwner && goid.Get() != h.owner {
		fault(op, 0, "called from goroutine %d, heap is owned by goroutine %d", goid.Get(), h.owner)
	}
}

func (h *Heap) Stats() Stats {
	s := h.stats
	s.RememberedSet = len(h.remembered)
	return s
}

// Atom returns the canonical zero-sized block with the given tag. Atoms live
// outside the heap; every call returns the identical value.
func (h *Heap) Atom(tag Tag) Value {
	return blockValue(regionAtoms, int(tag)+1)
}

// EmptyArray is the canonical empty array, Atom(0).
func (h *Heap) EmptyArray() Value {
	return h.Atom(RecordTag)
}

// AllocSmall reserves a young block of 1 to MaxYoungWosize fields. The
// fields hold garbage: every one of them must be written with RawStore
// before the next allocation, because that allocation may run the collector.
func (h *Heap) AllocSmall(wosize int, tag Tag) Value {
	h.checkOwner("AllocSmall")
	if wosize < 1 || wosize > MaxYoungWosize {
		fault("AllocSmall", 0, "wosize %d outside [1, %d]", wosize, MaxYoungWosize)
	}
	if h.cfg.GCStress || h.minorPtr+wosize+1 > len(h.minor) {
		h.MinorCollection()
	}
	hd := h.minorPtr
	h.minor[hd] = Value(makeHeader(wosize, white, tag))
	h.minorPtr += wosize + 1
	h.stats.MinorWords += wosize + 1
	h.metrics.allocatedWords.WithLabelValues(regionMinor.String()).Add(float64(wosize + 1))
	return blockValue(regionMinor, hd+1)
}

// AllocShr reserves a block directly in the major region. The fields hold
// garbage until written with Initialize. Raw stores are not allowed: the
// block is already visible to the collector's generational bookkeeping.
func (h *Heap) AllocShr(wosize int, tag Tag) Value {
	h.checkOwner("AllocShr")
	if wosize < 1 {
		fault("AllocShr", 0, "wosize %d, use Atom for empty blocks", wosize)
	}
	if h.cfg.GCStress || h.sinceMajor >= h.cfg.MajorTriggerWords {
		h.MajorCollection()
	}
	off := h.majorAlloc(wosize, tag)
	for i := 0; i < wosize; i++ {
		h.major[off+i] = poison
	}
	h.stats.MajorWords += wosize + 1
	h.metrics.allocatedWords.WithLabelValues(regionMajor.String()).Add(float64(wosize + 1))
	return blockValue(regionMajor, off)
}

// majorAlloc carves a block out of the major region and returns the offset
// of its first field. Freed blocks of the exact size are reused first so the
// region stays tiled by headers.
func (h *Heap) majorAlloc(wosize int, tag Tag) int {
	var off int
	if list := h.free[wosize]; len(list) > 0 {
		off = list[len(list)-1]
		h.free[wosize] = list[:len(list)-1]
	} else {
		h.major = append(h.major, make([]Value, wosize+1)...)
		off = len(h.major) - wosize
	}
	h.major[off-1] = Value(makeHeader(wosize, white, tag))
	h.sinceMajor += wosize + 1
	return off
}

// RawStore writes a field without any bookkeeping. It is only legal on young
// blocks, which the collector treats as roots' children and rescans on
// promotion anyway.
func (h *Heap) RawStore(b Value, i int, v Value) {
	h.checkOwner("RawStore")
	slot := h.fieldSlot("RawStore", b, i)
	if b.region() != regionMinor {
		fault("RawStore", b, "raw store into a %s block, use Initialize or Modify", b.region())
	}
	*slot = v
}

// Initialize performs the first store into a field of a block returned by
// AllocShr.
func (h *Heap) Initialize(b Value, i int, v Value) {
	h.checkOwner("Initialize")
	slot := h.fieldSlot("Initialize", b, i)
	switch b.region() {
	case regionMinor:
		*slot = v
	case regionMajor:
		*slot = v
		if h.IsYoung(v) && h.Tag(b) < NoScanTag {
			h.remember(b.offset() + i)
		}
	default:
		fault("Initialize", b, "block in %s region is immutable", b.region())
	}
}

// Modify is the write barrier. It must be used for every store into a block
// that may have been promoted or allocated in the major region.
func (h *Heap) Modify(b Value, i int, v Value) {
	h.checkOwner("Modify")
	slot := h.fieldSlot("Modify", b, i)
	switch b.region() {
	case regionMinor:
		*slot = v
	case regionMajor:
		old := *slot
		*slot = v
		// A field already holding a young pointer is in the remembered set.
		if h.IsYoung(v) && !h.IsYoung(old) && h.Tag(b) < NoScanTag {
			h.remember(b.offset() + i)
		}
	default:
		fault("Modify", b, "block in %s region is immutable", b.region())
	}
}

func (h *Heap) remember(idx int) {
	h.remembered = append(h.remembered, idx)
	h.metrics.rememberedSet.Set(float64(len(h.remembered)))
}

// Field reads field i of block b.
func (h *Heap) Field(b Value, i int) Value {
	return *h.fieldSlot("Field", b, i)
}

// Wosize returns the number of fields of block b.
func (h *Heap) Wosize(b Value) int {
	return h.header("Wosize", b).wosize()
}

// Tag returns the tag of block b.
func (h *Heap) Tag(b Value) Tag {
	return h.header("Tag", b).tag()
}

// IsYoung reports whether v points into the young region.
func (h *Heap) IsYoung(v Value) bool {
	return v.IsBlock() && v.region() == regionMinor
}

// IsStatic reports whether v points to a block allocated outside the heap.
func (h *Heap) IsStatic(v Value) bool {
	return v.IsBlock() && v.region() == regionStatic
}

// IsAtom reports whether v is one of the canonical zero-sized blocks.
func (h *Heap) IsAtom(v Value) bool {
	return v.IsBlock() && v.region() == regionAtoms
}

func (h *Heap) words(r region) []Value {
	switch r {
	case regionAtoms:
		return h.atoms
	case regionMinor:
		return h.minor
	case regionMajor:
		return h.major
	case regionStatic:
		return h.static
	default:
		return nil
	}
}

func (h *Heap) header(op string, b Value) header {
	if !b.IsBlock() {
		fault(op, b, "not a block")
	}
	words := h.words(b.region())
	off := b.offset()
	if off < 1 || off > len(words) {
		fault(op, b, "pointer outside the %s region", b.region())
	}
	if b.region() == regionMinor && off > h.minorPtr {
		fault(op, b, "pointer past the young allocation pointer, the block did not survive a collection")
	}
	hd := header(words[off-1])
	if b.region() == regionMinor && hd == forwarded {
		fault(op, b, "stale pointer to a promoted young block")
	}
	if b.region() == regionMajor && hd.color() == blue {
		fault(op, b, "pointer to a freed block")
	}
	return hd
}

func (h *Heap) fieldSlot(op string, b Value, i int) *Value {
	hd := h.header(op, b)
	if i < 0 || i >= hd.wosize() {
		fault(op, b, "field %d out of range, block has %d fields", i, hd.wosize())
	}
	return &h.words(b.region())[b.offset()+i]
}
