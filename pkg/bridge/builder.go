package bridge

import (
	"github.com/grafana/symbridge/pkg/heap"
	"github.com/grafana/symbridge/pkg/resolver"
)

// Block layouts shared with the caller. Both are tag 0 records.
const (
	InlinedFrameLineField          = 0
	InlinedFrameColumnField        = 1
	InlinedFrameDemangledNameField = 2
	InlinedFrameFilenameField      = 3
	InlinedFrameWosize             = 4

	ResponseDemangledNameField = 0
	ResponseInlinedFramesField = 1
	ResponseWosize             = 2
)

// allocBlock reserves a block whose fields hold a value the collector may
// scan. Young fields get the uninitialized sentinel; major fields go through
// Initialize, which the collector requires for every first store there.
func (b *Bridge) allocBlock(wosize int, tag heap.Tag) heap.Value {
	h := b.heap
	switch {
	case wosize == 0:
		b.metrics.blocks.WithLabelValues(blockAtom).Inc()
		return h.Atom(tag)
	case wosize <= heap.MaxYoungWosize:
		b.metrics.blocks.WithLabelValues(blockYoung).Inc()
		v := h.AllocSmall(wosize, tag)
		for i := 0; i < wosize; i++ {
			h.RawStore(v, i, heap.Uninitialized)
		}
		return v
	default:
		b.metrics.blocks.WithLabelValues(blockMajor).Inc()
		v := h.AllocShr(wosize, tag)
		for i := 0; i < wosize; i++ {
			h.Initialize(v, i, heap.Unit)
		}
		return v
	}
}

// inlinedFrame builds one complete frame record. The record is young and
// every field is written before anything else allocates.
func (b *Bridge) inlinedFrame(f resolver.Frame) heap.Value {
	h := b.heap
	// Static, never moves.
	filename := b.filenames.Intern(f.FileName)
	name := h.AllocString(f.FunctionName)
	r := h.Enter(&name)
	defer r.Leave()

	rec := h.AllocSmall(InlinedFrameWosize, heap.RecordTag)
	h.RawStore(rec, InlinedFrameLineField, heap.ValInt(int64(f.Line)))
	h.RawStore(rec, InlinedFrameColumnField, heap.ValInt(int64(f.Column)))
	h.RawStore(rec, InlinedFrameDemangledNameField, name)
	h.RawStore(rec, InlinedFrameFilenameField, filename)
	return rec
}

func (b *Bridge) response(name, inlined heap.Value) heap.Value {
	h := b.heap
	r := h.Enter(&name, &inlined)
	defer r.Leave()

	resp := h.AllocSmall(ResponseWosize, heap.RecordTag)
	h.RawStore(resp, ResponseDemangledNameField, name)
	h.RawStore(resp, ResponseInlinedFramesField, inlined)
	return resp
}
