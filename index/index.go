// Package index implements the secondary-index family over a store's
// main and delta partitions: GroupkeyIndex (read-only, built once per
// merge over main), DeltaIndex (mutable, over delta), PagedIndex (a
// coarse bit-per-page presence map used during merge to avoid re-reading
// table data), plus Scan (the IndexAwareScan) composing probes across
// the GroupkeyIndex and DeltaIndex.
package index

import (
	"errors"
	"sort"

	"github.com/kasuganosora/coretable/coltable"
	"github.com/kasuganosora/coretable/dictionary"
)

// ErrIndexNotFound is returned when a named index cannot be resolved.
var ErrIndexNotFound = errors.New("index: not found")

// PositionRange is an iterator pair over row positions, with a flag
// telling callers whether Positions is already sorted ascending.
type PositionRange struct {
	Positions []uint64
	Sorted    bool
}

// Empty reports whether the range has no positions.
func (r PositionRange) Empty() bool { return len(r.Positions) == 0 }

// EnsureSorted returns r if it is already sorted, or a sorted copy
// otherwise. It never mutates r's backing array in place.
func (r PositionRange) EnsureSorted() PositionRange {
	if r.Sorted {
		return r
	}
	cp := make([]uint64, len(r.Positions))
	copy(cp, r.Positions)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	return PositionRange{Positions: cp, Sorted: true}
}

// Op identifies a predicate's comparison operator.
type Op int

const (
	OpEq Op = iota
	OpLt
	OpLte
	OpGt
	OpGte
	OpBetween
)

// Predicate is one conjunct of an IndexAwareScan query: Column compares
// against Value (or, for OpBetween, against [Value, High]).
type Predicate struct {
	Column int
	Op     Op
	Value  any
	High   any // only used for OpBetween
}

// linearMergeThreshold is the combined input size below which
// intersection falls back to a straight linear merge instead of
// Baeza-Yates recursive probing.
const linearMergeThreshold = 20

// IntersectSorted returns the intersection of two ascending position
// lists using Baeza-Yates-style recursive intersection: probe the
// median of the smaller list into the larger via binary search, recurse
// on the left and right halves. Falls back to a linear merge when the
// combined input is small, since binary search overhead dominates there.
func IntersectSorted(a, b []uint64) []uint64 {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	if len(a)+len(b) < linearMergeThreshold {
		return linearMergeIntersect(a, b)
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	return baezaYates(a, b)
}

func linearMergeIntersect(a, b []uint64) []uint64 {
	out := make([]uint64, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// baezaYates intersects a (the smaller list) against b (the larger
// list) recursively: find a's median, binary-search it into b, then
// recurse on the partitions either side of the split.
func baezaYates(a, b []uint64) []uint64 {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	if len(a)+len(b) < linearMergeThreshold {
		return linearMergeIntersect(a, b)
	}

	mid := len(a) / 2
	pivot := a[mid]
	pos := sort.Search(len(b), func(i int) bool { return b[i] >= pivot })

	var out []uint64
	out = append(out, baezaYates(a[:mid], b[:pos])...)
	if pos < len(b) && b[pos] == pivot {
		out = append(out, pivot)
		pos++
	}
	out = append(out, baezaYates(a[mid+1:], b[pos:])...)
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// lowerBoundVID and upperBoundVID resolve a value-id bound against dict, returning the
// dictionary's declared size when the bound falls past the end so
// callers can use it directly as a postings-array sentinel.
func lowerBoundVID(dict dictionary.Dictionary, v any) (dictionary.VID, error) {
	return dict.LowerBound(v)
}

func upperBoundVID(dict dictionary.Dictionary, v any) (dictionary.VID, error) {
	return dict.UpperBound(v)
}

// tableColumn returns column col's dictionary for BuildGroupkeyIndex,
// or ErrIndexNotFound when col is out of range.
func tableColumn(t *coltable.Table, col int) (dictionary.Dictionary, error) {
	if col < 0 || col >= len(t.Dict) {
		return nil, ErrIndexNotFound
	}
	return t.Dict[col], nil
}
