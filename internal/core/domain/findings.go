package domain

// Findings is either Absent or Present with a non-empty list of items.
// It replaces the NO_CLAIMS / FULL_COVERAGE / NO_HALLUCINATIONS string sentinels.
type Findings[T any] struct {
	items []T
}

func Absent[T any]() Findings[T] {
	return Findings[T]{}
}

// Present returns Absent when items is empty.
func Present[T any](items []T) Findings[T] {
	if len(items) == 0 {
		return Findings[T]{}
	}
	out := make([]T, len(items))
	copy(out, items)
	return Findings[T]{items: out}
}

func (f Findings[T]) IsAbsent() bool {
	return len(f.items) == 0
}

func (f Findings[T]) Len() int {
	return len(f.items)
}

// Items returns a copy of the present items, or nil when absent.
func (f Findings[T]) Items() []T {
	if len(f.items) == 0 {
		return nil
	}
	out := make([]T, len(f.items))
	copy(out, f.items)
	return out
}
