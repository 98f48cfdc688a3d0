// Package merge implements the TableMerger: the procedure that unifies
// main and delta dictionaries into a fresh order-preserving union,
// remaps every value-id, produces a new main table, and rebuilds the
// paged and group-key indices from the value-id mapping alone.
package merge

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kasuganosora/coretable/attrvector"
	"github.com/kasuganosora/coretable/coltable"
	"github.com/kasuganosora/coretable/dictionary"
	"github.com/kasuganosora/coretable/index"
)

// VisibilityFunc reports whether global row position pos is visible to
// the merge's own sentinel transaction (store.Store.Merge passes a
// closure applying the visibility rule against txn.MergeTID and the
// merge snapshot).
type VisibilityFunc func(pos int) bool

// Result is everything TableMerger.Merge produces for one store.
type Result struct {
	Main          *coltable.Table
	GroupkeyIndex map[int]*index.GroupkeyIndex
	PagedIndex    map[int]*index.PagedIndex
}

// TableMerger orchestrates the per-column union-dictionary build,
// value-id remap, and index rebuild described in spec.md §4.5. Columns
// are processed concurrently, bounded by Concurrency (0 means
// unbounded, matching errgroup.Group's default).
type TableMerger struct {
	Concurrency int
	PageSize    int
}

// NewTableMerger creates a merger with the given column concurrency
// bound and paged-index page size.
func NewTableMerger(concurrency, pageSize int) *TableMerger {
	return &TableMerger{Concurrency: concurrency, PageSize: pageSize}
}

// Merge runs the full merge procedure. indexedCols lists which columns
// need GroupkeyIndex/PagedIndex rebuilt; pagedBefore supplies the prior
// PagedIndex per indexed column (nil entries are treated as empty).
// visible reports row visibility against the merge's sentinel
// transaction; it is consulted once per global row position to build
// the visible-only compaction described in spec.md §4.5's final
// paragraph.
func (m *TableMerger) Merge(ctx context.Context, main, delta *coltable.Table, indexedCols []int, pagedBefore map[int]*index.PagedIndex, visible VisibilityFunc) (*Result, error) {
	mainLen := main.Size()
	deltaLen := delta.Size()
	total := mainLen + deltaLen

	visiblePositions := make([]int, 0, total)
	for pos := 0; pos < total; pos++ {
		if visible(pos) {
			visiblePositions = append(visiblePositions, pos)
		}
	}

	indexedSet := make(map[int]bool, len(indexedCols))
	for _, c := range indexedCols {
		indexedSet[c] = true
	}

	numCols := len(main.Columns)
	newDicts := make([]dictionary.Dictionary, numCols)
	newAttrs := make([]attrvector.AttributeVector, numCols)
	groupIdx := make(map[int]*index.GroupkeyIndex)
	pagedIdx := make(map[int]*index.PagedIndex)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if m.Concurrency > 0 {
		g.SetLimit(m.Concurrency)
	}

	for col := 0; col < numCols; col++ {
		col := col
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			ct := main.Columns[col].Type
			mainDict, ok := main.Dict[col].(*dictionary.OrderPreserving)
			if !ok {
				return fmt.Errorf("merge: column %d main dictionary is not order-preserving", col)
			}
			deltaDict, ok := delta.Dict[col].(*dictionary.OrderIndifferent)
			if !ok {
				return fmt.Errorf("merge: column %d delta dictionary is not order-indifferent", col)
			}

			union := append(append([]any{}, mainDict.Values()...), deltaDict.Values()...)
			newDict, err := dictionary.BuildOrderPreserving(ct, union)
			if err != nil {
				return fmt.Errorf("merge: column %d union dictionary: %w", col, err)
			}

			mapMain := make(map[dictionary.VID]dictionary.VID, mainDict.Size())
			for oldVid := 0; oldVid < mainDict.Size(); oldVid++ {
				v, _ := mainDict.ValueForVID(dictionary.VID(oldVid))
				newVid, _ := newDict.VIDForValue(v)
				mapMain[dictionary.VID(oldVid)] = newVid
			}
			mapDeltaVid := make(map[dictionary.VID]dictionary.VID, deltaDict.Size())
			for oldVid := 0; oldVid < deltaDict.Size(); oldVid++ {
				v, _ := deltaDict.ValueForVID(dictionary.VID(oldVid))
				newVid, _ := newDict.VIDForValue(v)
				mapDeltaVid[dictionary.VID(oldVid)] = newVid
			}

			vids := make([]uint32, 0, len(visiblePositions))
			var mapDeltaRows []dictionary.VID
			for _, pos := range visiblePositions {
				var newVid dictionary.VID
				if pos < mainLen {
					oldVid, err := main.Attr[col].Get(pos)
					if err != nil {
						return err
					}
					newVid = mapMain[oldVid]
				} else {
					r := pos - mainLen
					oldVid, err := delta.Attr[col].Get(r)
					if err != nil {
						return err
					}
					newVid = mapDeltaVid[oldVid]
					if indexedSet[col] {
						mapDeltaRows = append(mapDeltaRows, newVid)
					}
				}
				vids = append(vids, uint32(newVid))
			}

			newDicts[col] = newDict
			newAttrs[col] = attrvector.BuildBitPacked(vids)

			if indexedSet[col] {
				var old *index.PagedIndex
				if pagedBefore != nil {
					old = pagedBefore[col]
				}
				pageSize := m.PageSize
				if pageSize <= 0 {
					pageSize = index.DefaultPageSize
				}
				rebuilt := index.RebuildPagedIndex(old, mapMain, mapDeltaRows, mainLen, pageSize)

				mu.Lock()
				pagedIdx[col] = rebuilt
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	newMain := &coltable.Table{Columns: append([]coltable.Column{}, main.Columns...), Dict: newDicts, Attr: newAttrs}
	newMain.Grow(len(visiblePositions))

	for _, col := range indexedCols {
		gk, err := index.BuildGroupkeyIndex(newMain, col)
		if err != nil {
			return nil, fmt.Errorf("merge: rebuild groupkey index column %d: %w", col, err)
		}
		groupIdx[col] = gk
	}

	return &Result{Main: newMain, GroupkeyIndex: groupIdx, PagedIndex: pagedIdx}, nil
}
