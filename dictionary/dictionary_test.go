package dictionary

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderPreserving_RoundTrip(t *testing.T) {
	d, err := BuildOrderPreserving(IntColumn, []any{int64(5), int64(1), int64(3), int64(1)})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Size())

	for vid := 0; vid < d.Size(); vid++ {
		v, ok := d.ValueForVID(VID(vid))
		require.True(t, ok)
		gotVid, ok := d.VIDForValue(v)
		require.True(t, ok)
		assert.Equal(t, VID(vid), gotVid)
	}
}

func TestOrderPreserving_Ordering(t *testing.T) {
	d, err := BuildOrderPreserving(IntColumn, []any{int64(1), int64(2), int64(3), int64(5)})
	require.NoError(t, err)

	vidA, _ := d.VIDForValue(int64(1))
	vidB, _ := d.VIDForValue(int64(5))
	assert.Less(t, vidA, vidB)
}

func TestOrderPreserving_Bounds(t *testing.T) {
	d, err := BuildOrderPreserving(IntColumn, []any{int64(1), int64(2), int64(3), int64(5)})
	require.NoError(t, err)

	lb, err := d.LowerBound(int64(3))
	require.NoError(t, err)
	v, _ := d.ValueForVID(lb)
	assert.Equal(t, int64(3), v)

	ub, err := d.UpperBound(int64(3))
	require.NoError(t, err)
	v, _ = d.ValueForVID(ub)
	assert.Equal(t, int64(5), v)

	// value absent: bounds still well defined
	lb, err = d.LowerBound(int64(4))
	require.NoError(t, err)
	v, _ = d.ValueForVID(lb)
	assert.Equal(t, int64(5), v)
}

func TestOrderPreserving_SealedRejectsAdd(t *testing.T) {
	d := NewOrderPreserving(IntColumn)
	_, err := d.Add(int64(1))
	require.NoError(t, err)
	d.Seal()
	_, err = d.Add(int64(2))
	assert.ErrorIs(t, err, ErrSealed)
}

func TestOrderPreserving_NotFound(t *testing.T) {
	d, err := BuildOrderPreserving(IntColumn, []any{int64(1)})
	require.NoError(t, err)
	_, ok := d.VIDForValue(int64(99))
	assert.False(t, ok)
}

func TestOrderIndifferent_StableVid(t *testing.T) {
	d := NewOrderIndifferent(StringColumn)
	vid1, err := d.Add("a")
	require.NoError(t, err)
	vid2, err := d.Add("a")
	require.NoError(t, err)
	assert.Equal(t, vid1, vid2)

	vid3, err := d.Add("b")
	require.NoError(t, err)
	assert.NotEqual(t, vid1, vid3)
}

func TestOrderIndifferent_ConcurrentAdd(t *testing.T) {
	d := NewOrderIndifferent(IntColumn)
	var wg sync.WaitGroup
	results := make([]VID, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vid, err := d.Add(int64(i % 10))
			require.NoError(t, err)
			results[i] = vid
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, d.Size())
	for i := 0; i < 100; i++ {
		assert.Equal(t, results[i%10], results[i])
	}
}

func TestOrderIndifferent_NotOrdered(t *testing.T) {
	d := NewOrderIndifferent(IntColumn)
	_, err := d.LowerBound(int64(1))
	assert.ErrorIs(t, err, ErrNotOrdered)
	_, err = d.UpperBound(int64(1))
	assert.ErrorIs(t, err, ErrNotOrdered)
}

func TestOrderIndifferent_UnicodeNormalization(t *testing.T) {
	d := NewOrderIndifferent(StringColumn)
	// "é" as a single codepoint vs "e"+combining acute accent
	nfc := "é"
	decomposed := "é"
	vid1, err := d.Add(nfc)
	require.NoError(t, err)
	vid2, err := d.Add(decomposed)
	require.NoError(t, err)
	assert.Equal(t, vid1, vid2)
}

func TestTypeMismatch(t *testing.T) {
	d := NewOrderIndifferent(IntColumn)
	_, err := d.Add("not an int")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
