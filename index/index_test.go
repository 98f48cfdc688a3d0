package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/coretable/coltable"
	"github.com/kasuganosora/coretable/dictionary"
)

func TestIntersectSorted_Small(t *testing.T) {
	a := []uint64{1, 2, 3}
	b := []uint64{2, 3, 4}
	assert.Equal(t, []uint64{2, 3}, IntersectSorted(a, b))
}

func TestIntersectSorted_Large(t *testing.T) {
	a := make([]uint64, 0, 50)
	for i := 0; i < 50; i += 2 {
		a = append(a, uint64(i))
	}
	b := make([]uint64, 0, 50)
	for i := 0; i < 50; i += 3 {
		b = append(b, uint64(i))
	}
	got := IntersectSorted(a, b)
	for _, v := range got {
		assert.Equal(t, uint64(0), v%6)
	}
	assert.NotEmpty(t, got)
}

func mainTableForIndex(t *testing.T) *coltable.Table {
	t.Helper()
	tbl := coltable.NewMainTable([]coltable.Column{{Name: "n", Type: dictionary.IntColumn}})
	values := []int64{1, 2, 3, 5}
	tbl.Grow(len(values))
	for r, v := range values {
		require.NoError(t, tbl.SetCell(r, 0, v))
	}
	return tbl
}

func TestBuildGroupkeyIndex_Eq(t *testing.T) {
	tbl := mainTableForIndex(t)
	idx, err := BuildGroupkeyIndex(tbl, 0)
	require.NoError(t, err)

	rng := idx.Eq(int64(3))
	assert.Equal(t, []uint64{2}, rng.Positions)

	rng = idx.Eq(int64(99))
	assert.True(t, rng.Empty())
}

func TestBuildGroupkeyIndex_RangeOps(t *testing.T) {
	tbl := mainTableForIndex(t)
	idx, err := BuildGroupkeyIndex(tbl, 0)
	require.NoError(t, err)

	rng := idx.Lt(int64(3))
	assert.ElementsMatch(t, []uint64{0, 1}, rng.Positions)

	rng = idx.Gte(int64(3))
	assert.ElementsMatch(t, []uint64{2, 3}, rng.Positions)

	rng = idx.Between(int64(2), int64(5))
	assert.ElementsMatch(t, []uint64{1, 2, 3}, rng.Positions)
}

func TestDeltaIndex_EqAndRange(t *testing.T) {
	d := NewDeltaIndex(dictionary.IntColumn)
	d.Insert(int64(4), 0)
	d.Insert(int64(4), 1)
	d.Insert(int64(1), 2)

	rng := d.Eq(int64(4))
	assert.Equal(t, []uint64{0, 1}, rng.Positions)

	rng = d.Lt(int64(4))
	assert.Equal(t, []uint64{2}, rng.Positions)
}

func TestScan_ConsolidatesAndIntersectsAcrossPartitions(t *testing.T) {
	tbl := mainTableForIndex(t) // main: 1,2,3,5 at rows 0..3
	gk, err := BuildGroupkeyIndex(tbl, 0)
	require.NoError(t, err)

	di := NewDeltaIndex(dictionary.IntColumn)
	di.Insert(int64(4), 0) // delta row 0 -> global row 4

	preds := []Predicate{{Column: 0, Op: OpLt, Value: int64(5)}}
	result, err := Scan(preds, map[int]*GroupkeyIndex{0: gk}, map[int]*DeltaIndex{0: di}, tbl.Size())
	require.NoError(t, err)

	assert.ElementsMatch(t, []uint64{0, 1, 2, 4}, result.Positions)
}

func TestScan_GtAndLtConsolidateToBetween(t *testing.T) {
	preds := []Predicate{
		{Column: 0, Op: OpGt, Value: int64(10)},
		{Column: 0, Op: OpLt, Value: int64(20)},
	}
	consolidated := consolidate(preds)
	require.Len(t, consolidated, 1)
	assert.Equal(t, OpBetween, consolidated[0].Op)
	assert.Equal(t, int64(10), consolidated[0].Value)
	assert.Equal(t, int64(20), consolidated[0].High)
}

func TestRebuildPagedIndex(t *testing.T) {
	old := NewPagedIndex(2)
	old.MarkRow(0, 0) // page 0
	old.MarkRow(1, 3) // page 1

	mapMain := map[dictionary.VID]dictionary.VID{0: 10, 1: 11}
	mapDelta := []dictionary.VID{12}

	fresh := RebuildPagedIndex(old, mapMain, mapDelta, 4, 2)
	assert.ElementsMatch(t, []uint32{0}, fresh.CandidatePages(10))
	assert.ElementsMatch(t, []uint32{1}, fresh.CandidatePages(11))
	assert.ElementsMatch(t, []uint32{2}, fresh.CandidatePages(12)) // row 4 / pageSize 2 = page 2
}
