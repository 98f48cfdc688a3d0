package index

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kasuganosora/coretable/dictionary"
)

// DefaultPageSize is used when a caller does not override it via config.
const DefaultPageSize = 1024

// PagedIndex is the coarse bit-per-page presence map: present[vid] is a
// roaring.Bitmap of page indices that contain at least one row with that
// value-id. Its purpose is almost entirely realized at merge time, where
// it can be rebuilt from a value-id mapping plus the delta's own
// postings without re-reading table data.
type PagedIndex struct {
	mu       sync.RWMutex
	pageSize int
	present  map[dictionary.VID]*roaring.Bitmap
}

// NewPagedIndex creates an empty paged index with the given page size.
func NewPagedIndex(pageSize int) *PagedIndex {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PagedIndex{pageSize: pageSize, present: make(map[dictionary.VID]*roaring.Bitmap)}
}

func (p *PagedIndex) pageOf(row int) uint32 { return uint32(row / p.pageSize) }

// MarkRow records that row holds vid, used incrementally as rows are
// written (e.g. while building a fresh main table outside of merge).
func (p *PagedIndex) MarkRow(vid dictionary.VID, row int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bm, ok := p.present[vid]
	if !ok {
		bm = roaring.New()
		p.present[vid] = bm
	}
	bm.Add(p.pageOf(row))
}

// CandidatePages returns the page indices that may contain vid.
func (p *PagedIndex) CandidatePages(vid dictionary.VID) []uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	bm, ok := p.present[vid]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// PageSize reports the configured page size.
func (p *PagedIndex) PageSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pageSize
}

// RebuildPagedIndex implements spec.md §4.5 step 4: allocate a fresh
// paged index, copy old bits translated through mapMain (row positions
// are unchanged by a merge — only the dictionary's vids move), then mark
// each delta row's new page under its remapped vid.
func RebuildPagedIndex(old *PagedIndex, mapMain map[dictionary.VID]dictionary.VID, mapDelta []dictionary.VID, mainLen, pageSize int) *PagedIndex {
	fresh := NewPagedIndex(pageSize)

	if old != nil {
		old.mu.RLock()
		for oldVid, bm := range old.present {
			newVid, ok := mapMain[oldVid]
			if !ok {
				continue
			}
			target, ok := fresh.present[newVid]
			if !ok {
				target = roaring.New()
				fresh.present[newVid] = target
			}
			target.Or(bm)
		}
		old.mu.RUnlock()
	}

	for i, newVid := range mapDelta {
		fresh.MarkRow(newVid, mainLen+i)
	}

	return fresh
}
