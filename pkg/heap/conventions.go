package heap

import (
	"encoding/binary"
)

// nativeintOps is the operations word of a boxed machine integer.
const nativeintOps Value = 0x0000_746e_6965_766e

// StringWosize is the number of fields a string of n bytes occupies. The
// last byte of the last word holds the padding count, so there is always at
// least one padding byte.
func StringWosize(n int) int {
	return n/8 + 1
}

func stringWords(s string) []Value {
	ws := StringWosize(len(s))
	buf := make([]byte, ws*8)
	copy(buf, s)
	buf[len(buf)-1] = byte(ws*8 - 1 - len(s))
	words := make([]Value, ws)
	for i := range words {
		words[i] = Value(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return words
}

// AllocString copies s into a fresh managed string. Strings that fit the
// young threshold are allocated young, longer ones in the major region.
func (h *Heap) AllocString(s string) Value {
	words := stringWords(s)
	if len(words) <= MaxYoungWosize {
		b := h.AllocSmall(len(words), StringTag)
		for i, w := range words {
			h.RawStore(b, i, w)
		}
		return b
	}
	b := h.AllocShr(len(words), StringTag)
	for i, w := range words {
		h.Initialize(b, i, w)
	}
	return b
}

// StringVal returns a copy of the bytes of the managed string v.
func (h *Heap) StringVal(v Value) string {
	if t := h.Tag(v); t != StringTag {
		fault("StringVal", v, "block has tag %d, not a string", t)
	}
	ws := h.Wosize(v)
	buf := make([]byte, ws*8)
	for i := 0; i < ws; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(h.Field(v, i)))
	}
	pad := int(buf[len(buf)-1])
	if pad >= 8 {
		fault("StringVal", v, "corrupt padding byte %d", pad)
	}
	return string(buf[:len(buf)-1-pad])
}

// AllocStatic places a block outside the heap. Static blocks are never moved
// or scanned and live as long as the heap, so their fields may only refer to
// immediates, atoms and other static blocks.
func (h *Heap) AllocStatic(tag Tag, fields ...Value) Value {
	h.checkOwner("AllocStatic")
	if len(fields) == 0 {
		return h.Atom(tag)
	}
	if tag < NoScanTag {
		for i, f := range fields {
			if f.IsBlock() && !h.IsStatic(f) && !h.IsAtom(f) {
				fault("AllocStatic", f, "field %d of a static block refers to the collected heap", i)
			}
		}
	}
	h.static = append(h.static, Value(makeHeader(len(fields), black, tag)))
	off := len(h.static)
	h.static = append(h.static, fields...)
	h.stats.StaticWords += len(fields) + 1
	h.metrics.allocatedWords.WithLabelValues(regionStatic.String()).Add(float64(len(fields) + 1))
	return blockValue(regionStatic, off)
}

// AllocStaticString lays s out like a managed string, outside the heap.
func (h *Heap) AllocStaticString(s string) Value {
	return h.AllocStatic(StringTag, stringWords(s)...)
}

// Some wraps v in the present variant of an option.
func (h *Heap) Some(v Value) Value {
	r := h.Enter(&v)
	defer r.Leave()
	b := h.AllocSmall(1, RecordTag)
	h.RawStore(b, 0, v)
	return b
}

// IsSome reports whether the option v is present.
func (h *Heap) IsSome(v Value) bool {
	return v != None
}

// AllocNativeint boxes a machine word as a custom block.
func (h *Heap) AllocNativeint(n uint64) Value {
	b := h.AllocSmall(2, CustomTag)
	h.RawStore(b, 0, nativeintOps)
	h.RawStore(b, 1, Value(n))
	return b
}

// NativeintVal reads the machine word stored in a boxed integer.
func (h *Heap) NativeintVal(v Value) uint64 {
	if t := h.Tag(v); t != CustomTag || h.Wosize(v) != 2 || h.Field(v, 0) != nativeintOps {
		fault("NativeintVal", v, "not a boxed machine integer")
	}
	return uint64(h.Field(v, 1))
}
