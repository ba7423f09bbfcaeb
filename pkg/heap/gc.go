package heap

import (
	"github.com/go-kit/log/level"
)

// MinorCollection empties the young region. Every young block reachable from
// a root, a global root or a remembered major field is copied to the major
// region and the reference is rewritten to the new address. Unreachable young
// blocks are discarded and their memory is poisoned.
func (h *Heap) MinorCollection() {
	h.checkOwner("MinorCollection")
	before := h.stats.PromotedWords

	for _, r := range h.localRoots {
		*r = h.forward(*r)
	}
	for _, r := range h.globalRoots {
		*r = h.forward(*r)
	}
	// forward may grow the major region, so each store reindexes it after
	// the call.
	for _, idx := range h.remembered {
		nv := h.forward(h.major[idx])
		h.major[idx] = nv
	}
	for i := 0; i < len(h.promoteScan); i++ {
		off := h.promoteScan[i]
		ws := header(h.major[off-1]).wosize()
		for j := 0; j < ws; j++ {
			nv := h.forward(h.major[off+j])
			h.major[off+j] = nv
		}
	}
	h.promoteScan = h.promoteScan[:0]

	for i := 0; i < h.minorPtr; i++ {
		h.minor[i] = poison
	}
	h.minorPtr = 0
	h.remembered = h.remembered[:0]

	promoted := h.stats.PromotedWords - before
	h.stats.MinorCollections++
	h.metrics.collections.WithLabelValues("minor").Inc()
	h.metrics.promotedWords.Add(float64(promoted))
	h.metrics.rememberedSet.Set(0)
	level.Debug(h.logger).Log("msg", "minor collection", "promoted_words", promoted)
}

// forward returns the post-collection address of a word found in a root or
// in a scanned field, promoting the young block it points to if needed.
func (h *Heap) forward(v Value) Value {
	if v == poison {
		fault("MinorCollection", v, "scan of an uninitialized field")
	}
	if v.IsInt() {
		return v
	}
	if v.region() != regionMinor {
		h.checkPointer("MinorCollection", v)
		return v
	}
	off := v.offset()
	if off < 1 || off > h.minorPtr {
		fault("MinorCollection", v, "pointer outside the allocated young region")
	}
	hd := header(h.minor[off-1])
	if hd == forwarded {
		return h.minor[off]
	}
	if Value(hd) == poison {
		fault("MinorCollection", v, "pointer to a young block with no header")
	}
	ws := hd.wosize()
	nOff := h.majorAlloc(ws, hd.tag())
	copy(h.major[nOff:nOff+ws], h.minor[off:off+ws])
	nv := blockValue(regionMajor, nOff)
	h.minor[off-1] = Value(forwarded)
	h.minor[off] = nv
	if hd.tag() < NoScanTag {
		h.promoteScan = append(h.promoteScan, nOff)
	}
	h.stats.PromotedWords += ws + 1
	return nv
}

// checkPointer validates a pointer outside the young region.
func (h *Heap) checkPointer(op string, v Value) {
	r := v.region()
	switch r {
	case regionAtoms, regionMajor, regionStatic:
	case regionMinor:
		fault(op, v, "young pointer survived a minor collection, a store bypassed the write barrier")
	default:
		fault(op, v, "pointer into no region")
	}
	words := h.words(r)
	off := v.offset()
	if off < 1 || off > len(words) {
		fault(op, v, "pointer outside the %s region", r)
	}
	if r == regionMajor && header(words[off-1]).color() == blue {
		fault(op, v, "pointer to a freed block")
	}
}

// MajorCollection runs a minor collection, then marks every major block
// reachable from the roots and frees the rest. Freed fields are poisoned.
func (h *Heap) MajorCollection() {
	h.checkOwner("MajorCollection")
	h.MinorCollection()

	for _, r := range h.localRoots {
		h.mark(*r)
	}
	for _, r := range h.globalRoots {
		h.mark(*r)
	}
	for len(h.markStack) > 0 {
		off := h.markStack[len(h.markStack)-1]
		h.markStack = h.markStack[:len(h.markStack)-1]
		ws := header(h.major[off-1]).wosize()
		for j := 0; j < ws; j++ {
			h.mark(h.major[off+j])
		}
	}

	freed := 0
	for i := 0; i < len(h.major); {
		hd := header(h.major[i])
		ws := hd.wosize()
		switch hd.color() {
		case black:
			h.major[i] = Value(hd.withColor(white))
		case white:
			h.major[i] = Value(hd.withColor(blue))
			for j := i + 1; j <= i+ws; j++ {
				h.major[j] = poison
			}
			h.free[ws] = append(h.free[ws], i+1)
			freed += ws + 1
		}
		i += ws + 1
	}
	h.sinceMajor = 0

	h.stats.MajorCollections++
	h.stats.FreedWords += freed
	h.metrics.collections.WithLabelValues("major").Inc()
	h.metrics.freedWords.Add(float64(freed))
	level.Debug(h.logger).Log("msg", "major collection", "freed_words", freed, "major_words", len(h.major))
}

func (h *Heap) mark(v Value) {
	if v == poison {
		fault("MajorCollection", v, "scan of an uninitialized field")
	}
	if v.IsInt() {
		return
	}
	h.checkPointer("MajorCollection", v)
	if v.region() != regionMajor {
		return
	}
	off := v.offset()
	hd := header(h.major[off-1])
	if hd.color() != white {
		return
	}
	h.major[off-1] = Value(hd.withColor(black))
	if hd.tag() < NoScanTag {
		h.markStack = append(h.markStack, off)
	}
}
