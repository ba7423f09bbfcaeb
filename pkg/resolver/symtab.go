package resolver

import (
	"debug/elf"
	"sort"

	"github.com/ianlancetaylor/demangle"
)

// symbolFrames describes pc using the ELF symbol table alone. It is only
// consulted when the resolver is configured to fall back to symbols.
func (b *binary) symbolFrames(pc uint64) []Frame {
	if !b.opts.useSymbolTable {
		return nil
	}
	if !b.symsRead {
		b.symsRead = true
		syms, err := b.elf.Symbols()
		if err != nil {
			return nil
		}
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) == elf.STT_FUNC && s.Value != 0 {
				b.symbols = append(b.symbols, s)
			}
		}
		sort.Slice(b.symbols, func(i, j int) bool { return b.symbols[i].Value < b.symbols[j].Value })
	}

	i := sort.Search(len(b.symbols), func(i int) bool { return b.symbols[i].Value > pc })
	if i == 0 {
		return nil
	}
	s := b.symbols[i-1]
	if s.Size != 0 && pc >= s.Value+s.Size {
		return nil
	}
	name := s.Name
	if b.opts.demangle {
		name = demangle.Filter(name)
	}
	return []Frame{{FunctionName: name, FileName: BadString}}
}
