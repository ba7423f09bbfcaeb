package resolver

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"io"
	"os"
	"sort"

	"github.com/go-delve/delve/pkg/dwarf/godwarf"
	"github.com/go-delve/delve/pkg/dwarf/reader"
	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
	"github.com/samber/lo/mutable"
)

type binaryOptions struct {
	demangle       bool
	useSymbolTable bool
}

// binary is a parsed ELF image. Compile units are indexed up front; line
// tables, subprogram ranges and subprogram trees are loaded the first time an
// address inside them is queried.
type binary struct {
	path string
	opts binaryOptions
	elf  *elf.File
	data *dwarf.Data

	units    []*unit
	unitPCs  []pcRange
	trees    map[dwarf.Offset]*godwarf.Tree
	origins  map[dwarf.Offset]*dwarf.Entry
	symbols  []elf.Symbol
	symsRead bool
	closed   bool
}

// pcRange maps [low, high) to an index into a sorted parent slice. maxHigh
// is the largest high of this range and every range sorted before it.
type pcRange struct {
	low, high uint64
	idx       int
	maxHigh   uint64
}

type unit struct {
	entry       *dwarf.Entry
	loaded      bool
	lines       []dwarf.LineEntry
	files       []*dwarf.LineFile
	subprograms []dwarf.Offset
	programPCs  []pcRange
}

func openBinary(path string, opts binaryOptions) (*binary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: errors.Wrap(err, "open")}
	}
	image, err := readImage(f)
	f.Close()
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return parseBinary(path, image, opts)
}

func parseBinary(path string, image []byte, opts binaryOptions) (*binary, error) {
	if !bytes.HasPrefix(image, elfMagic) {
		return nil, &LoadError{Path: path, Err: errors.WithStack(ErrNotELF)}
	}
	ef, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, &LoadError{Path: path, Err: errors.Wrap(err, "parse ELF")}
	}
	if ef.Section(".debug_info") == nil && ef.Section(".zdebug_info") == nil {
		ef.Close()
		return nil, &LoadError{Path: path, Err: errors.WithStack(ErrNoDebugInfo)}
	}
	data, err := ef.DWARF()
	if err != nil {
		ef.Close()
		return nil, &LoadError{Path: path, Err: errors.Wrap(err, "parse DWARF")}
	}

	b := &binary{
		path:    path,
		opts:    opts,
		elf:     ef,
		data:    data,
		trees:   make(map[dwarf.Offset]*godwarf.Tree),
		origins: make(map[dwarf.Offset]*dwarf.Entry),
	}
	if err := b.indexUnits(); err != nil {
		ef.Close()
		return nil, &LoadError{Path: path, Err: err}
	}
	return b, nil
}

func (b *binary) indexUnits() error {
	r := b.data.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return errors.Wrap(err, "read compile units")
		}
		if e == nil {
			break
		}
		if e.Tag != dwarf.TagCompileUnit && e.Tag != dwarf.TagPartialUnit {
			r.SkipChildren()
			continue
		}
		ranges, err := b.data.Ranges(e)
		if err != nil {
			return errors.Wrapf(err, "ranges of unit at 0x%x", e.Offset)
		}
		for _, rg := range ranges {
			b.unitPCs = append(b.unitPCs, pcRange{low: rg[0], high: rg[1], idx: len(b.units)})
		}
		b.units = append(b.units, &unit{entry: e})
		r.SkipChildren()
	}
	sortRanges(b.unitPCs)
	return nil
}

func sortRanges(rs []pcRange) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].low != rs[j].low {
			return rs[i].low < rs[j].low
		}
		return rs[i].high < rs[j].high
	})
	var maxHigh uint64
	for i := range rs {
		maxHigh = max(maxHigh, rs[i].high)
		rs[i].maxHigh = maxHigh
	}
}

// lookupRange returns the index of the range containing pc with the highest
// start address, the innermost one when ranges nest. rs must have been
// sorted with sortRanges.
func lookupRange(rs []pcRange, pc uint64) (int, bool) {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].low > pc })
	for j := i - 1; j >= 0; j-- {
		// No range at or before j reaches pc.
		if rs[j].maxHigh <= pc {
			break
		}
		if pc < rs[j].high {
			return rs[j].idx, true
		}
	}
	return 0, false
}

func (b *binary) load(u *unit) error {
	if u.loaded {
		return nil
	}
	lr, err := b.data.LineReader(u.entry)
	if err != nil {
		return errors.Wrap(err, "line table")
	}
	if lr != nil {
		for {
			var le dwarf.LineEntry
			if err := lr.Next(&le); err != nil {
				if err == io.EOF {
					break
				}
				return errors.Wrap(err, "read line table")
			}
			u.lines = append(u.lines, le)
		}
		u.files = lr.Files()
	}
	// Sequences may appear in any order. An end of sequence sorts before a row
	// starting at the same address.
	sort.SliceStable(u.lines, func(i, j int) bool {
		if u.lines[i].Address != u.lines[j].Address {
			return u.lines[i].Address < u.lines[j].Address
		}
		return u.lines[i].EndSequence && !u.lines[j].EndSequence
	})

	r := b.data.Reader()
	r.Seek(u.entry.Offset)
	if _, err := r.Next(); err != nil {
		return errors.Wrap(err, "read unit")
	}
	depth := 1
	for depth > 0 {
		e, err := r.Next()
		if err != nil {
			return errors.Wrap(err, "read unit entries")
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		if e.Tag == dwarf.TagSubprogram && e.AttrField(dwarf.AttrInline) == nil {
			ranges, err := b.data.Ranges(e)
			if err != nil {
				return errors.Wrapf(err, "ranges of subprogram at 0x%x", e.Offset)
			}
			for _, rg := range ranges {
				u.programPCs = append(u.programPCs, pcRange{low: rg[0], high: rg[1], idx: len(u.subprograms)})
			}
			if len(ranges) > 0 {
				u.subprograms = append(u.subprograms, e.Offset)
			}
		}
		if e.Children {
			depth++
		}
	}
	sortRanges(u.programPCs)
	u.loaded = true
	return nil
}

// lineFor returns the line table row covering pc.
func (u *unit) lineFor(pc uint64) (dwarf.LineEntry, bool) {
	i := sort.Search(len(u.lines), func(i int) bool { return u.lines[i].Address > pc })
	if i == 0 || u.lines[i-1].EndSequence {
		return dwarf.LineEntry{}, false
	}
	return u.lines[i-1], true
}

func (u *unit) file(idx int64) string {
	if idx < 0 || int(idx) >= len(u.files) || u.files[idx] == nil {
		return BadString
	}
	return u.files[idx].Name
}

func (b *binary) tree(off dwarf.Offset) (*godwarf.Tree, error) {
	if t, ok := b.trees[off]; ok {
		return t, nil
	}
	t, err := godwarf.LoadTree(off, b.data, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "load subprogram tree at 0x%x", off)
	}
	b.trees[off] = t
	return t, nil
}

// frames resolves the call chain covering pc. Inlined levels come first,
// outermost first, followed by the enclosing function.
func (b *binary) frames(pc uint64) ([]Frame, error) {
	idx, ok := lookupRange(b.unitPCs, pc)
	if !ok {
		return b.symbolFrames(pc), nil
	}
	u := b.units[idx]
	if err := b.load(u); err != nil {
		return nil, err
	}
	spIdx, ok := lookupRange(u.programPCs, pc)
	if !ok {
		return b.symbolFrames(pc), nil
	}
	root, err := b.tree(u.subprograms[spIdx])
	if err != nil {
		return nil, err
	}

	// Deepest level first.
	var stack []*godwarf.Tree
	for _, n := range reader.InlineStack(root, pc) {
		if n.Tag == dwarf.TagInlinedSubroutine {
			stack = append(stack, n)
		}
	}

	file, line, column := BadString, 0, 0
	if le, ok := u.lineFor(pc); ok {
		if le.File != nil {
			file = le.File.Name
		}
		line, column = le.Line, le.Column
	}

	frames := make([]Frame, 0, len(stack)+1)
	for _, n := range stack {
		frames = append(frames, Frame{
			FunctionName: b.functionName(n),
			FileName:     file,
			Line:         line,
			Column:       column,
			StartLine:    b.declLine(n),
			Inlined:      true,
		})
		file, line, column = u.callSite(n)
	}
	mutable.Reverse(frames)
	frames = append(frames, Frame{
		FunctionName: b.functionName(root),
		FileName:     file,
		Line:         line,
		Column:       column,
		StartLine:    b.declLine(root),
	})
	return frames, nil
}

func (u *unit) callSite(n *godwarf.Tree) (string, int, int) {
	file, _ := n.Val(dwarf.AttrCallFile).(int64)
	line, _ := n.Val(dwarf.AttrCallLine).(int64)
	column, _ := n.Val(dwarf.AttrCallColumn).(int64)
	return u.file(file), int(line), int(column)
}

// attr reads an attribute of n, following its abstract origin or
// specification when n does not carry it itself.
func (b *binary) attr(n *godwarf.Tree, a dwarf.Attr) any {
	if v := n.Val(a); v != nil {
		return v
	}
	for _, link := range []dwarf.Attr{dwarf.AttrAbstractOrigin, dwarf.AttrSpecification} {
		off, ok := n.Val(link).(dwarf.Offset)
		if !ok {
			continue
		}
		if e := b.entry(off); e != nil {
			if v := e.Val(a); v != nil {
				return v
			}
			// Out-of-line instances of class methods point at an abstract
			// origin, which in turn points at the declaration.
			if spec, ok := e.Val(dwarf.AttrSpecification).(dwarf.Offset); ok {
				if d := b.entry(spec); d != nil {
					return d.Val(a)
				}
			}
		}
	}
	return nil
}

func (b *binary) entry(off dwarf.Offset) *dwarf.Entry {
	if e, ok := b.origins[off]; ok {
		return e
	}
	r := b.data.Reader()
	r.Seek(off)
	e, err := r.Next()
	if err != nil {
		e = nil
	}
	b.origins[off] = e
	return e
}

func (b *binary) functionName(n *godwarf.Tree) string {
	linkage, _ := b.attr(n, dwarf.AttrLinkageName).(string)
	if b.opts.demangle && linkage != "" {
		return demangle.Filter(linkage)
	}
	if name, ok := b.attr(n, dwarf.AttrName).(string); ok {
		return name
	}
	if linkage != "" {
		return linkage
	}
	return BadString
}

func (b *binary) declLine(n *godwarf.Tree) int {
	line, _ := b.attr(n, dwarf.AttrDeclLine).(int64)
	return int(line)
}

// inSection reports whether the address falls into the given section.
func (b *binary) inSection(addr SectionedAddress) bool {
	if addr.SectionIndex >= uint64(len(b.elf.Sections)) {
		return false
	}
	s := b.elf.Sections[addr.SectionIndex]
	return s.Flags&elf.SHF_ALLOC != 0 && addr.Address >= s.Addr && addr.Address < s.Addr+s.Size
}

func (b *binary) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.trees = nil
	b.origins = nil
	return b.elf.Close()
}
