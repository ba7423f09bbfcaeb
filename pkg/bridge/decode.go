package bridge

import (
	"github.com/grafana/symbridge/pkg/heap"
)

type InlinedFrame struct {
	Line          int    `json:"line"`
	Column        int    `json:"column"`
	DemangledName string `json:"demangled_name"`
	Filename      string `json:"filename"`
}

type Response struct {
	DemangledName string         `json:"demangled_name"`
	InlinedFrames []InlinedFrame `json:"inlined_frames"`
}

// Decode copies an optional Response block into Go values. It reports false
// for None. A block of the wrong shape is a heap fault.
func Decode(h *heap.Heap, v heap.Value) (*Response, bool) {
	if !h.IsSome(v) {
		return nil, false
	}
	resp := h.Field(v, 0)
	expectRecord(h, resp, ResponseWosize)

	arr := h.Field(resp, ResponseInlinedFramesField)
	out := &Response{
		DemangledName: h.StringVal(h.Field(resp, ResponseDemangledNameField)),
		InlinedFrames: make([]InlinedFrame, h.Wosize(arr)),
	}
	for i := range out.InlinedFrames {
		rec := h.Field(arr, i)
		expectRecord(h, rec, InlinedFrameWosize)
		out.InlinedFrames[i] = InlinedFrame{
			Line:          int(h.Field(rec, InlinedFrameLineField).Int()),
			Column:        int(h.Field(rec, InlinedFrameColumnField).Int()),
			DemangledName: h.StringVal(h.Field(rec, InlinedFrameDemangledNameField)),
			Filename:      h.StringVal(h.Field(rec, InlinedFrameFilenameField)),
		}
	}
	return out, true
}

func expectRecord(h *heap.Heap, v heap.Value, wosize int) {
	if h.Tag(v) != heap.RecordTag || h.Wosize(v) != wosize {
		panic(&heap.Fault{Op: "Decode", Value: v, Reason: "unexpected block shape"})
	}
}
