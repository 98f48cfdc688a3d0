package dictionary

import (
	"sort"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// OrderPreserving is the sealed, sorted dictionary used by main. It
// supports bulk-load inserts via Add before Seal; afterwards Add fails
// with ErrSealed. Value-ids equal the value's rank in the sorted order,
// so value_id_a < value_id_b implies value_a < value_b for the same
// column — the invariant every GroupkeyIndex relies on.
type OrderPreserving struct {
	mu     sync.RWMutex
	ct     ColumnType
	values []any // sorted, deduplicated, canonical form
	sealed bool
}

// NewOrderPreserving creates an empty, unsealed dictionary for ct.
func NewOrderPreserving(ct ColumnType) *OrderPreserving {
	return &OrderPreserving{ct: ct}
}

// BuildOrderPreserving builds a sealed dictionary directly from a set of
// raw values, used when a main table is produced in one shot (e.g. by
// the merge engine, which already knows the full value set).
func BuildOrderPreserving(ct ColumnType, raw []any) (*OrderPreserving, error) {
	d := NewOrderPreserving(ct)
	for _, v := range raw {
		if _, err := d.Add(v); err != nil {
			return nil, err
		}
	}
	d.Seal()
	return d, nil
}

func canonicalize(ct ColumnType, v any) any {
	switch ct {
	case IntColumn:
		return normalizeInt(v)
	case FloatColumn:
		return normalizeFloat(v)
	case StringColumn:
		s, _ := v.(string)
		return norm.NFC.String(s)
	}
	return v
}

// Add inserts v during the bulk-load phase, returning its eventual vid.
// Vids are only stable once Seal has been called; callers building a
// dictionary incrementally should call Seal before relying on them.
func (d *OrderPreserving) Add(v any) (VID, error) {
	if err := typeCheck(d.ct, v); err != nil {
		return VIDInvalid, err
	}
	cv := canonicalize(d.ct, v)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return VIDInvalid, ErrSealed
	}

	idx := sort.Search(len(d.values), func(i int) bool {
		return compare(d.ct, d.values[i], cv) >= 0
	})
	if idx < len(d.values) && compare(d.ct, d.values[idx], cv) == 0 {
		return VID(idx), nil
	}
	d.values = append(d.values, nil)
	copy(d.values[idx+1:], d.values[idx:])
	d.values[idx] = cv
	return VID(idx), nil
}

// Seal freezes the dictionary; further Add calls fail.
func (d *OrderPreserving) Seal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sealed = true
}

// Sealed reports whether the dictionary has been sealed.
func (d *OrderPreserving) Sealed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sealed
}

func (d *OrderPreserving) VIDForValue(v any) (VID, bool) {
	if err := typeCheck(d.ct, v); err != nil {
		return VIDInvalid, false
	}
	cv := canonicalize(d.ct, v)

	d.mu.RLock()
	defer d.mu.RUnlock()
	idx := sort.Search(len(d.values), func(i int) bool {
		return compare(d.ct, d.values[i], cv) >= 0
	})
	if idx < len(d.values) && compare(d.ct, d.values[idx], cv) == 0 {
		return VID(idx), true
	}
	return VIDInvalid, false
}

func (d *OrderPreserving) ValueForVID(vid VID) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(vid) < 0 || int(vid) >= len(d.values) {
		return nil, false
	}
	return d.values[vid], true
}

func (d *OrderPreserving) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.values)
}

func (d *OrderPreserving) Type() ColumnType { return d.ct }

// LowerBound returns the smallest vid whose value is >= v.
func (d *OrderPreserving) LowerBound(v any) (VID, error) {
	if err := typeCheck(d.ct, v); err != nil {
		return VIDInvalid, err
	}
	cv := canonicalize(d.ct, v)
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx := sort.Search(len(d.values), func(i int) bool {
		return compare(d.ct, d.values[i], cv) >= 0
	})
	return VID(idx), nil
}

// UpperBound returns the smallest vid whose value is > v.
func (d *OrderPreserving) UpperBound(v any) (VID, error) {
	if err := typeCheck(d.ct, v); err != nil {
		return VIDInvalid, err
	}
	cv := canonicalize(d.ct, v)
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx := sort.Search(len(d.values), func(i int) bool {
		return compare(d.ct, d.values[i], cv) > 0
	})
	return VID(idx), nil
}

// Values returns a copy of the sorted value list, used by the merge
// engine to build the union dictionary without re-deriving order.
func (d *OrderPreserving) Values() []any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]any, len(d.values))
	copy(out, d.values)
	return out
}
