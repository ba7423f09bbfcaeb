package heap

// Roots is a frame of local roots. The collector treats every registered
// variable as live and rewrites it in place when the block it points to
// moves. Frames nest and must be left in reverse order of entry.
type Roots struct {
	h    *Heap
	mark int
}

// Enter opens a root frame holding vs. The usual pattern is
//
//	r := h.Enter(&a, &b)
//	defer r.Leave()
func (h *Heap) Enter(vs ...*Value) Roots {
	h.checkOwner("Enter")
	mark := len(h.localRoots)
	h.localRoots = append(h.localRoots, vs...)
	return Roots{h: h, mark: mark}
}

// Add registers more variables in the frame. It must be the innermost one.
func (r Roots) Add(vs ...*Value) {
	r.h.localRoots = append(r.h.localRoots, vs...)
}

// Leave closes the frame and every variable registered in it.
func (r Roots) Leave() {
	if len(r.h.localRoots) < r.mark {
		fault("Leave", 0, "root frame left twice or out of order")
	}
	for i := r.mark; i < len(r.h.localRoots); i++ {
		r.h.localRoots[i] = nil
	}
	r.h.localRoots = r.h.localRoots[:r.mark]
}

// LocalRoots returns the number of variables currently registered in open
// frames.
func (h *Heap) LocalRoots() int {
	return len(h.localRoots)
}

// RegisterGlobalRoot makes v a root for the lifetime of the heap.
func (h *Heap) RegisterGlobalRoot(v *Value) {
	h.checkOwner("RegisterGlobalRoot")
	h.globalRoots = append(h.globalRoots, v)
}

// RemoveGlobalRoot undoes RegisterGlobalRoot.
func (h *Heap) RemoveGlobalRoot(v *Value) {
	h.checkOwner("RemoveGlobalRoot")
	for i, r := range h.globalRoots {
		if r == v {
			h.globalRoots = append(h.globalRoots[:i], h.globalRoots[i+1:]...)
			return
		}
	}
}
