// Package coltable ties a set of columns together into one table: a
// dictionary and an attribute vector per column, plus the shared row
// count. It does not know about MVCC or partitions — store builds main
// and delta tables out of it using different dictionary/attrvector
// implementations.
package coltable

import (
	"errors"
	"fmt"

	"github.com/kasuganosora/coretable/attrvector"
	"github.com/kasuganosora/coretable/dictionary"
)

// ErrColumnNotFound is returned when a column name has no match in a table.
var ErrColumnNotFound = errors.New("coltable: column not found")

// Column describes one column's name and scalar type.
type Column struct {
	Name string
	Type dictionary.ColumnType
}

// Table is a column-major collection of dictionary-encoded columns that
// all share the same row count. Main tables are built with
// dictionary.OrderPreserving + attrvector.BitPacked columns; delta
// tables are built with dictionary.OrderIndifferent + attrvector.Fixed
// columns. Both shapes satisfy this same struct, so store and merge
// operate on Table without caring which partition it backs.
type Table struct {
	Columns []Column
	Dict    []dictionary.Dictionary
	Attr    []attrvector.AttributeVector
	size    int
}

// NewMainTable builds an empty main-partition table: one
// dictionary.OrderPreserving and one attrvector.BitPacked per column.
// BitPacked vectors here use the full 32-bit width, since the final
// dictionary size is not known up front, so any value-id fits; this
// constructor is mostly useful for tests. Production main tables are
// produced by merge.TableMerger.Merge, which packs each column at the
// bit width its merged value-ids need.
func NewMainTable(columns []Column) *Table {
	t := &Table{Columns: columns}
	for _, c := range columns {
		t.Dict = append(t.Dict, dictionary.NewOrderPreserving(c.Type))
		t.Attr = append(t.Attr, attrvector.NewBitPacked(0, 32))
	}
	return t
}

// NewDeltaTable builds an empty delta-partition table: one
// dictionary.OrderIndifferent and one attrvector.Fixed per column.
func NewDeltaTable(columns []Column) *Table {
	t := &Table{Columns: columns}
	for _, c := range columns {
		t.Dict = append(t.Dict, dictionary.NewOrderIndifferent(c.Type))
		t.Attr = append(t.Attr, attrvector.NewFixed())
	}
	return t
}

// Size returns the current row count.
func (t *Table) Size() int { return t.size }

// ColumnIndex returns the position of name in Columns.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
}

// Grow extends every column's attribute vector to newSize rows and
// updates the table's row count. Callers that already hold store's
// growth spinlock use this directly; it performs no locking of its own
// beyond what each AttributeVector implementation already provides.
func (t *Table) Grow(newSize int) {
	for _, a := range t.Attr {
		a.Resize(newSize)
	}
	t.size = newSize
}

// SetCell writes value into (row, col), inserting it into that column's
// dictionary first if necessary.
func (t *Table) SetCell(row, col int, value any) error {
	vid, err := t.Dict[col].Add(value)
	if err != nil {
		return fmt.Errorf("coltable: set cell (%d,%d): %w", row, col, err)
	}
	return t.Attr[col].Set(row, vid)
}

// GetCell reads the value stored at (row, col).
func (t *Table) GetCell(row, col int) (any, error) {
	vid, err := t.Attr[col].Get(row)
	if err != nil {
		return nil, fmt.Errorf("coltable: get cell (%d,%d): %w", row, col, err)
	}
	v, ok := t.Dict[col].ValueForVID(vid)
	if !ok {
		return nil, fmt.Errorf("coltable: get cell (%d,%d): %w", row, col, dictionary.ErrValueNotFound)
	}
	return v, nil
}
