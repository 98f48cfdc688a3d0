package index

import (
	"github.com/kasuganosora/coretable/coltable"
	"github.com/kasuganosora/coretable/dictionary"
)

// GroupkeyIndex is the read-only index built once per (table, column)
// after a merge. offsets has length |dictionary|+1; postings is a
// permutation of [0, |main|) grouped by value-id, so offsets[vid] is the
// start of vid's postings and offsets[vid+1] the (exclusive) end. No
// locking is needed for reads: the structure is sealed at construction.
type GroupkeyIndex struct {
	dict     dictionary.Dictionary
	offsets  []uint64
	postings []uint64
}

// BuildGroupkeyIndex builds a GroupkeyIndex for column col of table t in
// two linear passes: count occurrences per vid to fill offsets, then
// bucket-fill postings.
func BuildGroupkeyIndex(t *coltable.Table, col int) (*GroupkeyIndex, error) {
	dict, err := tableColumn(t, col)
	if err != nil {
		return nil, err
	}
	attr := t.Attr[col]
	rows := t.Size()

	dictSize := dict.Size()
	counts := make([]uint64, dictSize+1)
	for r := 0; r < rows; r++ {
		vid, err := attr.Get(r)
		if err != nil {
			return nil, err
		}
		counts[vid+1]++
	}
	for i := 1; i <= dictSize; i++ {
		counts[i] += counts[i-1]
	}
	offsets := make([]uint64, dictSize+1)
	copy(offsets, counts)

	postings := make([]uint64, rows)
	cursor := make([]uint64, dictSize)
	copy(cursor, offsets[:dictSize])
	for r := 0; r < rows; r++ {
		vid, err := attr.Get(r)
		if err != nil {
			return nil, err
		}
		postings[cursor[vid]] = uint64(r)
		cursor[vid]++
	}

	return &GroupkeyIndex{dict: dict, offsets: offsets, postings: postings}, nil
}

func (g *GroupkeyIndex) slice(lo, hi uint64) PositionRange {
	return PositionRange{Positions: g.postings[lo:hi], Sorted: true}
}

// Eq returns the postings range for value k.
func (g *GroupkeyIndex) Eq(k any) PositionRange {
	vid, ok := g.dict.VIDForValue(k)
	if !ok {
		return PositionRange{Sorted: true}
	}
	return g.slice(g.offsets[vid], g.offsets[vid+1])
}

// Lt returns all postings for values strictly less than k.
func (g *GroupkeyIndex) Lt(k any) PositionRange {
	vid, _ := lowerBoundVID(g.dict, k)
	return g.slice(0, g.offsets[vid])
}

// Lte returns all postings for values less than or equal to k.
func (g *GroupkeyIndex) Lte(k any) PositionRange {
	vid, _ := upperBoundVID(g.dict, k)
	return g.slice(0, g.offsets[vid])
}

// Gt returns all postings for values strictly greater than k.
func (g *GroupkeyIndex) Gt(k any) PositionRange {
	vid, _ := upperBoundVID(g.dict, k)
	return g.slice(g.offsets[vid], uint64(len(g.postings)))
}

// Gte returns all postings for values greater than or equal to k.
func (g *GroupkeyIndex) Gte(k any) PositionRange {
	vid, _ := lowerBoundVID(g.dict, k)
	return g.slice(g.offsets[vid], uint64(len(g.postings)))
}

// Between returns all postings for values in [a, b].
func (g *GroupkeyIndex) Between(a, b any) PositionRange {
	loVid, _ := lowerBoundVID(g.dict, a)
	hiVid, _ := upperBoundVID(g.dict, b)
	return g.slice(g.offsets[loVid], g.offsets[hiVid])
}
