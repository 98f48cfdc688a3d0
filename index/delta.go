package index

import (
	"sort"
	"sync"

	"github.com/kasuganosora/coretable/dictionary"
)

type deltaEntry struct {
	value     any
	positions []uint64 // kept sorted ascending
}

// DeltaIndex is the mutable index over a delta column. Insertion is
// synchronized by a single readers/writer lock: the store takes the
// write lock around each copy_row_to_delta that touches an indexed
// column, and scan operators take the read lock during probes. Entries
// are kept in a slice sorted by value, and range probes walk that slice
// in value order; a side map gives O(1) average lookup for
// the common case of inserting another occurrence of an already-seen
// value, mirroring the order-indifferent dictionary's own bucket map.
type DeltaIndex struct {
	mu      sync.RWMutex
	ct      dictionary.ColumnType
	entries []deltaEntry
	lookup  map[any]int // value -> index into entries
}

// NewDeltaIndex creates an empty delta index over columns of type ct.
func NewDeltaIndex(ct dictionary.ColumnType) *DeltaIndex {
	return &DeltaIndex{ct: ct, lookup: make(map[any]int)}
}

// Insert records that row pos holds value. Positions for a repeated
// value are kept sorted by inserting at the correct point rather than
// appending and re-sorting, since deltas grow row by row and values
// typically recur.
func (d *DeltaIndex) Insert(value any, pos uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if idx, ok := d.lookup[value]; ok {
		e := &d.entries[idx]
		at := sort.Search(len(e.positions), func(i int) bool { return e.positions[i] >= pos })
		e.positions = append(e.positions, 0)
		copy(e.positions[at+1:], e.positions[at:])
		e.positions[at] = pos
		return
	}

	at := sort.Search(len(d.entries), func(i int) bool {
		return dictionaryCompare(d.ct, d.entries[i].value, value) >= 0
	})
	d.entries = append(d.entries, deltaEntry{})
	copy(d.entries[at+1:], d.entries[at:])
	d.entries[at] = deltaEntry{value: value, positions: []uint64{pos}}

	for i := at; i < len(d.entries); i++ {
		d.lookup[d.entries[i].value] = i
	}
}

// dictionaryCompare is a local copy of the dictionary package's
// unexported comparator for the scalar types DeltaIndex cares about.
func dictionaryCompare(ct dictionary.ColumnType, a, b any) int {
	switch ct {
	case dictionary.IntColumn:
		ai, bi := a.(int64), b.(int64)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case dictionary.FloatColumn:
		af, bf := a.(float64), b.(float64)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case dictionary.StringColumn:
		as, bs := a.(string), b.(string)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func (d *DeltaIndex) find(value any) (int, bool) {
	idx, ok := d.lookup[value]
	return idx, ok
}

// Eq returns the (sorted) positions for an exact value match.
func (d *DeltaIndex) Eq(value any) PositionRange {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx, ok := d.find(value)
	if !ok {
		return PositionRange{Sorted: true}
	}
	out := make([]uint64, len(d.entries[idx].positions))
	copy(out, d.entries[idx].positions)
	return PositionRange{Positions: out, Sorted: true}
}

// rangeConcat concatenates the pos-lists of every entry whose value
// satisfies keep. Each individual pos-list is sorted, but the
// concatenation across different keys is not, so Sorted is false unless
// at most one key matched.
func (d *DeltaIndex) rangeConcat(keep func(value any) bool) PositionRange {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []uint64
	matched := 0
	for _, e := range d.entries {
		if keep(e.value) {
			out = append(out, e.positions...)
			matched++
		}
	}
	return PositionRange{Positions: out, Sorted: matched <= 1}
}

func (d *DeltaIndex) Lt(value any) PositionRange {
	return d.rangeConcat(func(v any) bool { return dictionaryCompare(d.ct, v, value) < 0 })
}

func (d *DeltaIndex) Lte(value any) PositionRange {
	return d.rangeConcat(func(v any) bool { return dictionaryCompare(d.ct, v, value) <= 0 })
}

func (d *DeltaIndex) Gt(value any) PositionRange {
	return d.rangeConcat(func(v any) bool { return dictionaryCompare(d.ct, v, value) > 0 })
}

func (d *DeltaIndex) Gte(value any) PositionRange {
	return d.rangeConcat(func(v any) bool { return dictionaryCompare(d.ct, v, value) >= 0 })
}

func (d *DeltaIndex) Between(a, b any) PositionRange {
	return d.rangeConcat(func(v any) bool {
		return dictionaryCompare(d.ct, v, a) >= 0 && dictionaryCompare(d.ct, v, b) <= 0
	})
}

// Size returns the number of distinct values tracked.
func (d *DeltaIndex) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
