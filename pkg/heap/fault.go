package heap

import "fmt"

// Fault describes a violation of the allocation protocol: a block above the
// young threshold, a raw store into a block the collector tracks, a scan of
// a word nobody initialized, use from a foreign goroutine.
//
// These are memory-safety bugs in the caller, not runtime conditions, so the
// heap raises them with panic rather than returning them.
type Fault struct {
	Op     string
	Value  Value
	Reason string
}

func (f *Fault) Error() string {
	if f.Value == 0 {
		return fmt.Sprintf("heap: %s: %s", f.Op, f.Reason)
	}
	return fmt.Sprintf("heap: %s %v: %s", f.Op, f.Value, f.Reason)
}

func fault(op string, v Value, format string, args ...any) {
	panic(&Fault{Op: op, Value: v, Reason: fmt.Sprintf(format, args...)})
}
