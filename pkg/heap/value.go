package heap

import "fmt"

// Value is one word of the managed heap.
//
// Odd words are immediates: an integer n is stored as n<<1 | 1. Even words
// are block pointers. The top byte of a pointer selects the region the block
// lives in and the remaining bits hold the word offset of the block's first
// field. The header word sits immediately before the first field.
type Value uint64

// Tag identifies the kind of a block. Blocks with a tag at or above
// NoScanTag hold raw words the collector never interprets.
type Tag uint8

const (
	// RecordTag is used for records, tuples, arrays and option payloads.
	RecordTag Tag = 0
	NoScanTag Tag = 251
	StringTag Tag = 252
	// CustomTag blocks carry an operations word followed by raw data.
	CustomTag Tag = 255
)

// MaxYoungWosize is the largest block, in words, the young region accepts.
// Anything bigger has to be allocated with AllocShr.
const MaxYoungWosize = 256

const (
	// Unit is the immediate 0. It doubles as the empty option and false.
	Unit Value = 1
	// None is the absent variant of an option.
	None = Unit

	// Uninitialized marks a field that has been reserved but not yet
	// written. It is odd, so the collector reads it as an immediate and
	// never follows it.
	Uninitialized Value = ^Value(0)

	// poison fills memory nobody has written since it was handed out. It
	// looks like a pointer into a region that does not exist, so scanning
	// it is a fault.
	poison Value = 0xdead_beef_dead_bee0
)

type region uint8

const (
	regionNone region = iota
	regionAtoms
	regionMinor
	regionMajor
	regionStatic
)

func (r region) String() string {
	switch r {
	case regionAtoms:
		return "atom"
	case regionMinor:
		return "minor"
	case regionMajor:
		return "major"
	case regionStatic:
		return "static"
	default:
		return fmt.Sprintf("region(%d)", uint8(r))
	}
}

const (
	regionShift = 56
	offsetMask  = uint64(1)<<regionShift - 1
)

// ValInt encodes n as an immediate.
func ValInt(n int64) Value {
	return Value(uint64(n)<<1 | 1)
}

// IsInt reports whether v is an immediate.
func (v Value) IsInt() bool {
	return v&1 == 1
}

// IsBlock reports whether v is a block pointer.
func (v Value) IsBlock() bool {
	return v&1 == 0
}

// Int decodes an immediate. The result is meaningless for block pointers.
func (v Value) Int() int64 {
	return int64(v) >> 1
}

func (v Value) String() string {
	if v.IsInt() {
		return fmt.Sprintf("int(%d)", v.Int())
	}
	return fmt.Sprintf("%s@%d", v.region(), v.offset())
}

func blockValue(r region, offset int) Value {
	return Value(uint64(r)<<regionShift | uint64(offset)<<3)
}

func (v Value) region() region {
	return region(uint64(v) >> regionShift)
}

func (v Value) offset() int {
	return int((uint64(v) & offsetMask) >> 3)
}

type color uint8

const (
	white color = iota
	gray
	// blue marks a block on the free list.
	blue
	// black marks reachable blocks during marking, and every static block.
	black
)

type header uint64

// forwarded is written over the header of a young block that has been
// promoted. Its first field then holds the new address. Young blocks always
// have at least one field, so a zero header is otherwise impossible.
const forwarded header = 0

func makeHeader(wosize int, c color, tag Tag) header {
	return header(uint64(wosize)<<10 | uint64(c)<<8 | uint64(tag))
}

func (h header) wosize() int { return int(uint64(h) >> 10) }
func (h header) color() color { return color(uint64(h) >> 8 & 3) }
func (h header) tag() Tag     { return Tag(uint64(h) & 0xff) }

func (h header) withColor(c color) header {
	return header(uint64(h)&^(3<<8) | uint64(c)<<8)
}
