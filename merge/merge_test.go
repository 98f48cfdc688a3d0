package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/coretable/coltable"
	"github.com/kasuganosora/coretable/dictionary"
)

func buildMainDelta(t *testing.T) (*coltable.Table, *coltable.Table) {
	t.Helper()
	cols := []coltable.Column{{Name: "n", Type: dictionary.IntColumn}}

	main := coltable.NewMainTable(cols)
	mainValues := []int64{1, 2, 3, 5}
	main.Grow(len(mainValues))
	for r, v := range mainValues {
		require.NoError(t, main.SetCell(r, 0, v))
	}

	delta := coltable.NewDeltaTable(cols)
	delta.Grow(1)
	require.NoError(t, delta.SetCell(0, 0, int64(4)))

	return main, delta
}

func allVisible(total int) func(int) bool {
	return func(pos int) bool { return pos < total }
}

func TestMerge_UnionDictionaryAndRemap(t *testing.T) {
	main, delta := buildMainDelta(t)
	m := NewTableMerger(0, 2)

	result, err := m.Merge(context.Background(), main, delta, []int{0}, nil, allVisible(main.Size()+delta.Size()))
	require.NoError(t, err)

	assert.Equal(t, 5, result.Main.Size())
	values := make([]int64, 5)
	for r := 0; r < 5; r++ {
		v, err := result.Main.GetCell(r, 0)
		require.NoError(t, err)
		values[r] = v.(int64)
	}
	assert.ElementsMatch(t, []int64{1, 2, 3, 4, 5}, values)

	gk := result.GroupkeyIndex[0]
	rng := gk.Eq(int64(4))
	require.Len(t, rng.Positions, 1)
	v, err := result.Main.GetCell(int(rng.Positions[0]), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
}

func TestMerge_SkipsInvisibleRows(t *testing.T) {
	main, delta := buildMainDelta(t)
	m := NewTableMerger(0, 2)

	total := main.Size() + delta.Size()
	visible := func(pos int) bool { return pos != 1 } // hide main row 1 (value 2)

	result, err := m.Merge(context.Background(), main, delta, nil, nil, func(pos int) bool {
		return visible(pos) && pos < total
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Main.Size())

	values := make([]int64, 4)
	for r := 0; r < 4; r++ {
		v, err := result.Main.GetCell(r, 0)
		require.NoError(t, err)
		values[r] = v.(int64)
	}
	assert.ElementsMatch(t, []int64{1, 3, 4, 5}, values)
}

func TestMerge_EmptyDeltaIsIdempotent(t *testing.T) {
	cols := []coltable.Column{{Name: "n", Type: dictionary.IntColumn}}
	main := coltable.NewMainTable(cols)
	mainValues := []int64{1, 2, 3}
	main.Grow(len(mainValues))
	for r, v := range mainValues {
		require.NoError(t, main.SetCell(r, 0, v))
	}
	delta := coltable.NewDeltaTable(cols)

	m := NewTableMerger(0, 2)
	result, err := m.Merge(context.Background(), main, delta, nil, nil, allVisible(main.Size()))
	require.NoError(t, err)
	assert.Equal(t, main.Size(), result.Main.Size())

	for r := 0; r < main.Size(); r++ {
		v, err := result.Main.GetCell(r, 0)
		require.NoError(t, err)
		assert.Equal(t, mainValues[r], v)
	}
}
