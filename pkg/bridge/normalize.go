package bridge

import (
	"github.com/grafana/symbridge/pkg/heap"
	"github.com/grafana/symbridge/pkg/resolver"
)

// buildResponse turns a non-empty frame chain into a Response block. The last
// frame names the enclosing function; the inlined frames before it are
// emitted deepest first.
func (b *Bridge) buildResponse(frames []resolver.Frame) heap.Value {
	h := b.heap
	numInlined := len(frames) - 1

	inlined := h.EmptyArray()
	name := heap.Unit
	r := h.Enter(&inlined, &name)
	defer r.Leave()

	if numInlined > 0 {
		inlined = b.allocBlock(numInlined, heap.RecordTag)
		for i := 0; i < numInlined; i++ {
			rec := b.inlinedFrame(frames[numInlined-1-i])
			// Building the record may have promoted the array, so reload
			// it from the root and store through the barrier.
			h.Modify(inlined, i, rec)
		}
	} else {
		b.metrics.blocks.WithLabelValues(blockAtom).Inc()
	}
	name = h.AllocString(frames[numInlined].FunctionName)
	return b.response(name, inlined)
}
