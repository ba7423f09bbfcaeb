package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrNotELF is returned for files that are not ELF images, after
	// decompression.
	ErrNotELF = errors.New("not an ELF file")
	// ErrNoDebugInfo is returned for ELF images without DWARF sections.
	ErrNoDebugInfo = errors.New("no debug info")
)

// LoadError reports a binary that could not be opened or parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load binary %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
