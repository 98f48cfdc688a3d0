package dictionary

import (
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

const numStripes = 16

type stripe struct {
	mu    sync.Mutex
	index map[any]VID
}

// OrderIndifferent is the append-only dictionary used by delta. Add is
// safe under concurrent callers and returns a stable vid for repeated
// inserts of the same value; iteration order is insertion order and
// carries no relationship to value order. Comparisons in delta always
// dereference through the dictionary rather than doing vid arithmetic,
// so LowerBound/UpperBound are deliberately unsupported here.
type OrderIndifferent struct {
	ct      ColumnType
	stripes [numStripes]*stripe

	valuesMu sync.RWMutex
	values   []any
}

// NewOrderIndifferent creates an empty order-indifferent dictionary.
func NewOrderIndifferent(ct ColumnType) *OrderIndifferent {
	d := &OrderIndifferent{ct: ct}
	for i := range d.stripes {
		d.stripes[i] = &stripe{index: make(map[any]VID)}
	}
	return d
}

func hashKey(ct ColumnType, cv any) uint64 {
	switch ct {
	case IntColumn:
		var b [8]byte
		x := uint64(cv.(int64))
		for i := 0; i < 8; i++ {
			b[i] = byte(x >> (8 * i))
		}
		return xxhash.Sum64(b[:])
	case FloatColumn:
		bits := math.Float64bits(cv.(float64))
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(bits >> (8 * i))
		}
		return xxhash.Sum64(b[:])
	case StringColumn:
		return xxhash.Sum64String(cv.(string))
	}
	return 0
}

func (d *OrderIndifferent) stripeFor(cv any) *stripe {
	h := hashKey(d.ct, cv)
	return d.stripes[h%numStripes]
}

func canonicalizeOI(ct ColumnType, v any) any {
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

// Add inserts v, returning its value-id. Concurrent callers presenting
// the same value always observe the same vid.
func (d *OrderIndifferent) Add(v any) (VID, error) {
	if err := typeCheck(d.ct, v); err != nil {
		return VIDInvalid, err
	}
	cv := canonicalizeOI(d.ct, v)
	s := d.stripeFor(cv)

	s.mu.Lock()
	defer s.mu.Unlock()
	if vid, ok := s.index[cv]; ok {
		return vid, nil
	}

	d.valuesMu.Lock()
	vid := VID(len(d.values))
	d.values = append(d.values, cv)
	d.valuesMu.Unlock()

	s.index[cv] = vid
	return vid, nil
}

func (d *OrderIndifferent) VIDForValue(v any) (VID, bool) {
	if err := typeCheck(d.ct, v); err != nil {
		return VIDInvalid, false
	}
	cv := canonicalizeOI(d.ct, v)
	s := d.stripeFor(cv)
	s.mu.Lock()
	defer s.mu.Unlock()
	vid, ok := s.index[cv]
	return vid, ok
}

func (d *OrderIndifferent) ValueForVID(vid VID) (any, bool) {
	d.valuesMu.RLock()
	defer d.valuesMu.RUnlock()
	if int(vid) < 0 || int(vid) >= len(d.values) {
		return nil, false
	}
	return d.values[vid], true
}

func (d *OrderIndifferent) Size() int {
	d.valuesMu.RLock()
	defer d.valuesMu.RUnlock()
	return len(d.values)
}

func (d *OrderIndifferent) Type() ColumnType { return d.ct }

// LowerBound is unsupported: see the type's doc comment.
func (d *OrderIndifferent) LowerBound(v any) (VID, error) {
	return VIDInvalid, ErrNotOrdered
}

// UpperBound is unsupported: see the type's doc comment.
func (d *OrderIndifferent) UpperBound(v any) (VID, error) {
	return VIDInvalid, ErrNotOrdered
}

// Values returns a copy of the values in insertion order, used by the
// merge engine to fold delta's dictionary into the union.
func (d *OrderIndifferent) Values() []any {
	d.valuesMu.RLock()
	defer d.valuesMu.RUnlock()
	out := make([]any, len(d.values))
	copy(out, d.values)
	return out
}
