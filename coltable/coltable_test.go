package coltable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/coretable/dictionary"
)

func testColumns() []Column {
	return []Column{
		{Name: "id", Type: dictionary.IntColumn},
		{Name: "name", Type: dictionary.StringColumn},
	}
}

func TestDeltaTable_SetGetCell(t *testing.T) {
	tbl := NewDeltaTable(testColumns())
	tbl.Grow(2)

	require.NoError(t, tbl.SetCell(0, 0, int64(1)))
	require.NoError(t, tbl.SetCell(0, 1, "alice"))
	require.NoError(t, tbl.SetCell(1, 0, int64(2)))
	require.NoError(t, tbl.SetCell(1, 1, "bob"))

	v, err := tbl.GetCell(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", v)

	v, err = tbl.GetCell(1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	assert.Equal(t, 2, tbl.Size())
}

func TestMainTable_SetGetCell(t *testing.T) {
	tbl := NewMainTable(testColumns())
	tbl.Grow(1)
	require.NoError(t, tbl.SetCell(0, 0, int64(10)))
	require.NoError(t, tbl.SetCell(0, 1, "carol"))

	v, err := tbl.GetCell(0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)
}

func TestColumnIndex_NotFound(t *testing.T) {
	tbl := NewDeltaTable(testColumns())
	_, err := tbl.ColumnIndex("missing")
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestColumnIndex_Found(t *testing.T) {
	tbl := NewDeltaTable(testColumns())
	idx, err := tbl.ColumnIndex("name")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}
