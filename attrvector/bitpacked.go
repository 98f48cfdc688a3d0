package attrvector

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kasuganosora/coretable/dictionary"
)

// pageRows is the number of rows unpacked together on a cache miss.
const pageRows = 1024

// defaultPageCacheSize bounds how many decompressed pages are kept hot.
const defaultPageCacheSize = 64

// BitPacked is the bit-compressed attribute vector used by main once a
// merge has fixed its dictionary size. Rows are packed bitWidth bits at
// a time into a []uint64 word array; reads unpack a whole page (pageRows
// rows) at a time and keep the result in a bounded LRU so repeated scans
// over hot pages skip re-unpacking.
type BitPacked struct {
	mu       sync.RWMutex
	bitWidth int
	rowCount int
	words    []uint64
	pages    *lru.Cache[int, []uint32]
}

// NewBitPacked builds a bit-packed vector holding rowCount rows, each
// needing bitWidth bits (bitWidth is typically bits.Len32(dictSize-1)).
func NewBitPacked(rowCount, bitWidth int) *BitPacked {
	if bitWidth <= 0 {
		bitWidth = 1
	}
	words := make([]uint64, wordsNeeded(rowCount, bitWidth))
	cache, _ := lru.New[int, []uint32](defaultPageCacheSize)
	return &BitPacked{
		bitWidth: bitWidth,
		rowCount: rowCount,
		words:    words,
		pages:    cache,
	}
}

// BuildBitPacked packs a complete slice of value-ids in one shot, sizing
// bitWidth to the maximum vid present (or 1 if vids is empty).
func BuildBitPacked(vids []uint32) *BitPacked {
	maxVid := uint32(0)
	for _, v := range vids {
		if v > maxVid {
			maxVid = v
		}
	}
	bv := NewBitPacked(len(vids), bitsFor(maxVid))
	for row, vid := range vids {
		bv.setLocked(row, dictionary.VID(vid))
	}
	return bv
}

func bitsFor(maxVid uint32) int {
	n := 0
	for maxVid > 0 {
		n++
		maxVid >>= 1
	}
	if n == 0 {
		n = 1
	}
	return n
}

func wordsNeeded(rowCount, bitWidth int) int {
	totalBits := rowCount * bitWidth
	return (totalBits + 63) / 64
}

func (v *BitPacked) pageIndex(row int) int { return row / pageRows }

func (v *BitPacked) setLocked(row int, vid dictionary.VID) {
	bitPos := row * v.bitWidth
	val := uint64(vid)
	mask := uint64(1)<<uint(v.bitWidth) - 1
	val &= mask

	for b := 0; b < v.bitWidth; b++ {
		wordIdx := (bitPos + b) / 64
		bitIdx := uint((bitPos + b) % 64)
		if (val>>uint(b))&1 == 1 {
			v.words[wordIdx] |= 1 << bitIdx
		} else {
			v.words[wordIdx] &^= 1 << bitIdx
		}
	}
}

func (v *BitPacked) getLocked(row int) dictionary.VID {
	bitPos := row * v.bitWidth
	var val uint64
	for b := 0; b < v.bitWidth; b++ {
		wordIdx := (bitPos + b) / 64
		bitIdx := uint((bitPos + b) % 64)
		if (v.words[wordIdx]>>bitIdx)&1 == 1 {
			val |= 1 << uint(b)
		}
	}
	return dictionary.VID(val)
}

func (v *BitPacked) unpackPage(page int) []uint32 {
	start := page * pageRows
	end := start + pageRows
	if end > v.rowCount {
		end = v.rowCount
	}
	out := make([]uint32, 0, end-start)
	for row := start; row < end; row++ {
		out = append(out, uint32(v.getLocked(row)))
	}
	return out
}

func (v *BitPacked) Set(row int, vid dictionary.VID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if row < 0 || row >= v.rowCount {
		return ErrOutOfRange
	}
	v.setLocked(row, vid)
	v.pages.Remove(v.pageIndex(row))
	return nil
}

func (v *BitPacked) Get(row int) (dictionary.VID, error) {
	v.mu.RLock()
	if row < 0 || row >= v.rowCount {
		v.mu.RUnlock()
		return dictionary.VIDInvalid, ErrOutOfRange
	}
	page := v.pageIndex(row)
	if cached, ok := v.pages.Get(page); ok {
		val := cached[row-page*pageRows]
		v.mu.RUnlock()
		return dictionary.VID(val), nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	// Re-check: another goroutine may have populated the cache while we
	// upgraded from read to write lock.
	if cached, ok := v.pages.Get(page); ok {
		return dictionary.VID(cached[row-page*pageRows]), nil
	}
	unpacked := v.unpackPage(page)
	v.pages.Add(page, unpacked)
	return dictionary.VID(unpacked[row-page*pageRows]), nil
}

func (v *BitPacked) Resize(newRowCount int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rowCount = newRowCount
	needed := wordsNeeded(newRowCount, v.bitWidth)
	if needed <= len(v.words) {
		v.words = v.words[:needed]
	} else {
		grown := make([]uint64, needed)
		copy(grown, v.words)
		v.words = grown
	}
	v.pages.Purge()
}

func (v *BitPacked) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rowCount
}

// BitWidth reports the configured bit width per value-id.
func (v *BitPacked) BitWidth() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.bitWidth
}
