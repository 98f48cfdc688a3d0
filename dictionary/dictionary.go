// Package dictionary implements the bidirectional value↔value-id maps
// that back every column of a main or delta table.
//
// Two variants share the Dictionary interface: OrderPreserving, used by
// main, is sorted and sealed after Build so that value-id arithmetic
// (lower/upper bound, adjacent postings) reflects value order. OrderIndifferent,
// used by delta, is append-only and makes no ordering guarantee —
// range predicates against a delta column must go through DeltaIndex's
// own sorted position lists instead of comparing value-ids directly.
package dictionary

import (
	"errors"
	"fmt"
)

// VID is a value-id: a compressed integer handle for a dictionary entry.
type VID uint32

// VIDInvalid is returned alongside an error from lookups that fail.
const VIDInvalid VID = ^VID(0)

// ColumnType is the logical type of a column's values.
type ColumnType int

const (
	IntColumn ColumnType = iota
	FloatColumn
	StringColumn
)

func (t ColumnType) String() string {
	switch t {
	case IntColumn:
		return "int"
	case FloatColumn:
		return "float"
	case StringColumn:
		return "string"
	default:
		return "unknown"
	}
}

// ErrValueNotFound reports a value or value-id missing from a dictionary
// where the caller requires one (coltable.GetCell returns it when a
// stored vid has no entry). VIDForValue itself reports a missing key
// through its bool result, not through this error.
var ErrValueNotFound = errors.New("dictionary: value not found")

// ErrSealed is raised when Add is called on an order-preserving
// dictionary after Seal.
var ErrSealed = errors.New("dictionary: sealed, no further inserts allowed")

// ErrNotOrdered is raised when LowerBound/UpperBound is called on an
// order-indifferent (delta) dictionary, which makes no ordering promise.
var ErrNotOrdered = errors.New("dictionary: order-indifferent dictionary does not support bound queries")

// ErrTypeMismatch is raised when a value of the wrong Go type is
// presented to a dictionary of a given ColumnType.
var ErrTypeMismatch = errors.New("dictionary: value does not match column type")

// Dictionary is the shared contract of both dictionary variants.
type Dictionary interface {
	// Add inserts v, returning its value-id. Repeated inserts of an
	// already-present value return the same vid.
	Add(v any) (VID, error)

	// VIDForValue returns the exact value-id for v, if present.
	VIDForValue(v any) (VID, bool)

	// ValueForVID returns the value for vid, if it exists.
	ValueForVID(vid VID) (any, bool)

	// Size returns the number of distinct values held.
	Size() int

	// LowerBound returns the smallest vid whose value is >= v.
	LowerBound(v any) (VID, error)

	// UpperBound returns the smallest vid whose value is > v.
	UpperBound(v any) (VID, error)

	// Type reports the logical column type this dictionary stores.
	Type() ColumnType
}

func typeCheck(ct ColumnType, v any) error {
	switch ct {
	case IntColumn:
		switch v.(type) {
		case int64, int:
			return nil
		}
	case FloatColumn:
		switch v.(type) {
		case float64, float32:
			return nil
		}
	case StringColumn:
		if _, ok := v.(string); ok {
			return nil
		}
	}
	return fmt.Errorf("%w: type %s expects %s, got %T", ErrTypeMismatch, ct, ct, v)
}

func normalizeInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	}
	return 0
}

func normalizeFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	}
	return 0
}

// compare returns -1, 0 or 1 comparing a and b, which must already be
// normalized to the canonical Go type for ct (int64, float64, or a
// NFC-normalized string).
func compare(ct ColumnType, a, b any) int {
	switch ct {
	case IntColumn:
		x, y := normalizeInt(a), normalizeInt(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case FloatColumn:
		x, y := normalizeFloat(a), normalizeFloat(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case StringColumn:
		x, y := a.(string), b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
	return 0
}
