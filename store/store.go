// Package store implements the per-table container that unifies an
// immutable, dictionary-compressed main partition with a mutable delta,
// tracks row visibility via (tid, cid_begin, cid_end) vectors, and
// exposes the atomic append/delete/commit/validate primitives every
// scan and transaction goes through.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kasuganosora/coretable/coltable"
	"github.com/kasuganosora/coretable/dictionary"
	"github.com/kasuganosora/coretable/index"
	"github.com/kasuganosora/coretable/merge"
	"github.com/kasuganosora/coretable/txn"
)

// ErrConcurrentCommit is returned when a CAS on tid[r] loses to another
// transaction, or when a row a caller expects to still hold has already
// moved on.
var ErrConcurrentCommit = errors.New("store: concurrent commit")

// ErrColumnNotFound mirrors coltable.ErrColumnNotFound for callers that
// only import store.
var ErrColumnNotFound = coltable.ErrColumnNotFound

// Store owns one main and one delta table plus the three parallel MVCC
// vectors over their combined row space. vecMu guards the vectors'
// slice headers (resizing on append_to_delta and on merge's swap);
// individual elements are atomic.Uint64 so CAS on tid[r] and free reads
// of cid_begin/cid_end need no further locking once the header itself
// is stable.
type Store struct {
	ID uuid.UUID

	vecMu    sync.RWMutex
	tid      []atomic.Uint64
	cidBegin []atomic.Uint64
	cidEnd   []atomic.Uint64

	growMu sync.Mutex // serializes append_to_delta's reservation + resize

	mainMu sync.RWMutex // guards the main/delta pointers themselves (swapped at merge)
	main   *coltable.Table
	delta  *coltable.Table

	columns     []coltable.Column
	indexedCols []int

	deltaIdxMu sync.RWMutex
	deltaIdx   map[int]*index.DeltaIndex
	groupIdx   map[int]*index.GroupkeyIndex
	pagedIdx   map[int]*index.PagedIndex

	merger *merge.TableMerger

	pendingMu      sync.Mutex
	pendingInserts map[txn.TID][]uint64
	pendingDeletes map[txn.TID][]uint64

	logger *log.Logger
}

// New creates a store with an empty main and empty delta over columns,
// with secondary indices registered for indexedCols.
func New(columns []coltable.Column, indexedCols []int, merger *merge.TableMerger, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{
		ID:             uuid.New(),
		main:           coltable.NewMainTable(columns),
		delta:          coltable.NewDeltaTable(columns),
		columns:        columns,
		indexedCols:    indexedCols,
		deltaIdx:       make(map[int]*index.DeltaIndex),
		groupIdx:       make(map[int]*index.GroupkeyIndex),
		pagedIdx:       make(map[int]*index.PagedIndex),
		merger:         merger,
		pendingInserts: make(map[txn.TID][]uint64),
		pendingDeletes: make(map[txn.TID][]uint64),
		logger:         logger,
	}
	for _, col := range indexedCols {
		s.deltaIdx[col] = index.NewDeltaIndex(columns[col].Type)
	}
	return s
}

// NewRecovered builds a store whose main partition is already fully
// formed (e.g. reloaded from a table dump) plus whatever secondary
// indices were rebuilt alongside it. Every row starts out unconditionally
// visible — cid_begin=0, cid_end=INFINITE_CID, tid=START_TID — the same
// baseline Merge assigns newly compacted rows, since a recovered main
// partition is by definition already durable and committed.
func NewRecovered(
	columns []coltable.Column,
	indexedCols []int,
	main *coltable.Table,
	groupIdx map[int]*index.GroupkeyIndex,
	pagedIdx map[int]*index.PagedIndex,
	merger *merge.TableMerger,
	logger *log.Logger,
) *Store {
	if logger == nil {
		logger = log.Default()
	}

	n := main.Size()
	tid := make([]atomic.Uint64, n)
	cidBegin := make([]atomic.Uint64, n)
	cidEnd := make([]atomic.Uint64, n)
	for i := 0; i < n; i++ {
		tid[i].Store(uint64(txn.StartTID))
		cidBegin[i].Store(0)
		cidEnd[i].Store(uint64(txn.InfiniteCID))
	}

	if groupIdx == nil {
		groupIdx = make(map[int]*index.GroupkeyIndex)
	}
	if pagedIdx == nil {
		pagedIdx = make(map[int]*index.PagedIndex)
	}

	s := &Store{
		ID:             uuid.New(),
		tid:            tid,
		cidBegin:       cidBegin,
		cidEnd:         cidEnd,
		main:           main,
		delta:          coltable.NewDeltaTable(columns),
		columns:        columns,
		indexedCols:    indexedCols,
		deltaIdx:       make(map[int]*index.DeltaIndex),
		groupIdx:       groupIdx,
		pagedIdx:       pagedIdx,
		merger:         merger,
		pendingInserts: make(map[txn.TID][]uint64),
		pendingDeletes: make(map[txn.TID][]uint64),
		logger:         logger,
	}
	for _, col := range indexedCols {
		s.deltaIdx[col] = index.NewDeltaIndex(columns[col].Type)
	}
	return s
}

func (s *Store) mainLen() int {
	s.mainMu.RLock()
	defer s.mainMu.RUnlock()
	return s.main.Size()
}

// AppendToDelta atomically reserves n consecutive delta rows and
// extends all three MVCC vectors with (cid_begin=UNKNOWN, cid_end=INF,
// tid=START_TID). It returns the reserved range as global row positions
// (offset by the main partition's current length). Concurrent callers
// always receive disjoint ranges.
func (s *Store) AppendToDelta(n int) (begin, end uint64) {
	s.growMu.Lock()
	defer s.growMu.Unlock()

	s.mainMu.RLock()
	mainLen := s.main.Size()
	s.mainMu.RUnlock()

	localBegin := s.delta.Size()
	s.delta.Grow(localBegin + n)

	s.vecMu.Lock()
	for i := 0; i < n; i++ {
		var t, cb, ce atomic.Uint64
		t.Store(uint64(txn.StartTID))
		cb.Store(uint64(txn.UnknownCID))
		ce.Store(uint64(txn.InfiniteCID))
		s.tid = append(s.tid, t)
		s.cidBegin = append(s.cidBegin, cb)
		s.cidEnd = append(s.cidEnd, ce)
	}
	s.vecMu.Unlock()

	begin = uint64(mainLen + localBegin)
	end = begin + uint64(n)
	return begin, end
}

// CopyRowToDelta materializes srcTable's srcRow into delta at the
// already-reserved local row dstRow, tags it with tid, and inserts its
// indexed column values into their DeltaIndex under the index's write
// lock.
func (s *Store) CopyRowToDelta(srcTable *coltable.Table, srcRow, dstRow int, tid txn.TID) error {
	for col := range s.columns {
		v, err := srcTable.GetCell(srcRow, col)
		if err != nil {
			return fmt.Errorf("store: copy row to delta: %w", err)
		}
		if err := s.delta.SetCell(dstRow, col, v); err != nil {
			return fmt.Errorf("store: copy row to delta: %w", err)
		}
	}

	global := uint64(s.mainLen() + dstRow)
	s.vecMu.RLock()
	s.tid[global].Store(uint64(tid))
	s.vecMu.RUnlock()

	s.deltaIdxMu.RLock()
	for _, col := range s.indexedCols {
		v, err := s.delta.GetCell(dstRow, col)
		if err != nil {
			s.deltaIdxMu.RUnlock()
			return fmt.Errorf("store: copy row to delta: %w", err)
		}
		s.deltaIdx[col].Insert(v, uint64(dstRow))
	}
	s.deltaIdxMu.RUnlock()

	s.pendingMu.Lock()
	s.pendingInserts[tid] = append(s.pendingInserts[tid], global)
	s.pendingMu.Unlock()

	return nil
}

// MarkForDeletion CASes tid[row] from START_TID to tid. A repeat call by
// the same tid against a still-live row succeeds idempotently; any other
// contention fails with ErrConcurrentCommit.
func (s *Store) MarkForDeletion(row uint64, tid txn.TID) error {
	s.vecMu.RLock()
	defer s.vecMu.RUnlock()

	if s.tid[row].CompareAndSwap(uint64(txn.StartTID), uint64(tid)) {
		s.pendingMu.Lock()
		s.pendingDeletes[tid] = append(s.pendingDeletes[tid], row)
		s.pendingMu.Unlock()
		return nil
	}
	if txn.TID(s.tid[row].Load()) == tid && txn.CID(s.cidEnd[row].Load()) == txn.InfiniteCID {
		return nil
	}
	return fmt.Errorf("store: mark for deletion row %d: %w", row, ErrConcurrentCommit)
}

// UnmarkForDeletion best-effort resets tid[row] to START_TID wherever
// tid[row] == tid, used to roll back a deletion the caller is abandoning.
func (s *Store) UnmarkForDeletion(rows []uint64, tid txn.TID) {
	s.vecMu.RLock()
	defer s.vecMu.RUnlock()
	for _, r := range rows {
		s.tid[r].CompareAndSwap(uint64(tid), uint64(txn.StartTID))
	}
}

// CheckForConcurrentCommit requires tid[r] == tid and cid_end[r] == INF
// for every row, failing the first time either does not hold.
func (s *Store) CheckForConcurrentCommit(rows []uint64, tid txn.TID) error {
	s.vecMu.RLock()
	defer s.vecMu.RUnlock()
	for _, r := range rows {
		if txn.TID(s.tid[r].Load()) != tid || txn.CID(s.cidEnd[r].Load()) != txn.InfiniteCID {
			return fmt.Errorf("store: check concurrent commit row %d: %w", r, ErrConcurrentCommit)
		}
	}
	return nil
}

// ApplyVisibility is spec.md's commit_positions primitive: on the valid
// branch it sets cid_begin[r] = cid and resets tid[r] to START_TID (a
// committed insert has no owner left to contend on); on the invalid
// branch it only sets cid_end[r] = cid, leaving tid[r] untouched, since
// a committed delete's tid should never be reused as a lock target
// (spec.md §9 open question, resolved in favor of reset-on-insert-only).
func (s *Store) ApplyVisibility(rows []uint64, cid txn.CID, valid bool) {
	s.vecMu.RLock()
	defer s.vecMu.RUnlock()
	for _, r := range rows {
		if valid {
			s.cidBegin[r].Store(uint64(cid))
			s.tid[r].Store(uint64(txn.StartTID))
		} else {
			s.cidEnd[r].Store(uint64(cid))
		}
	}
}

// CommitPositions implements txn.CommitHook: it applies ApplyVisibility
// to every row this tid inserted (valid=true) and deleted (valid=false),
// then clears the pending bookkeeping for tid.
func (s *Store) CommitPositions(tid txn.TID, cid txn.CID) error {
	s.pendingMu.Lock()
	inserts := s.pendingInserts[tid]
	deletes := s.pendingDeletes[tid]
	delete(s.pendingInserts, tid)
	delete(s.pendingDeletes, tid)
	s.pendingMu.Unlock()

	s.ApplyVisibility(inserts, cid, true)
	s.ApplyVisibility(deletes, cid, false)
	return nil
}

// isVisible implements the visibility rule of spec.md §3 exactly.
func (s *Store) isVisible(pos uint64, forTid txn.TID, snapshot txn.CID) bool {
	rowTid := txn.TID(s.tid[pos].Load())
	cidBegin := txn.CID(s.cidBegin[pos].Load())
	cidEnd := txn.CID(s.cidEnd[pos].Load())

	if rowTid == forTid {
		return cidBegin > snapshot && cidEnd == txn.InfiniteCID
	}
	return cidBegin <= snapshot && cidEnd > snapshot
}

// ValidatePositions filters positions in place to those visible to tid
// at snapshot, returning the (possibly shorter) surviving slice.
func (s *Store) ValidatePositions(positions []uint64, snapshot txn.CID, tid txn.TID) []uint64 {
	s.vecMu.RLock()
	defer s.vecMu.RUnlock()

	out := positions[:0]
	for _, p := range positions {
		if s.isVisible(p, tid, snapshot) {
			out = append(out, p)
		}
	}
	return out
}

// BuildValidPositions enumerates every row visible to tid at snapshot.
func (s *Store) BuildValidPositions(snapshot txn.CID, tid txn.TID) []uint64 {
	s.vecMu.RLock()
	defer s.vecMu.RUnlock()

	out := make([]uint64, 0, len(s.tid))
	for p := range s.tid {
		if s.isVisible(uint64(p), tid, snapshot) {
			out = append(out, uint64(p))
		}
	}
	return out
}

// Main returns the current main table. Callers must not retain it
// across a Merge call, since merge swaps in a new main.
func (s *Store) Main() *coltable.Table {
	s.mainMu.RLock()
	defer s.mainMu.RUnlock()
	return s.main
}

// Delta returns the current delta table, with the same caveat as Main.
func (s *Store) Delta() *coltable.Table {
	s.mainMu.RLock()
	defer s.mainMu.RUnlock()
	return s.delta
}

// GroupkeyIndex returns the registered group-key index for col, if any.
func (s *Store) GroupkeyIndex(col int) (*index.GroupkeyIndex, bool) {
	s.deltaIdxMu.RLock()
	defer s.deltaIdxMu.RUnlock()
	gk, ok := s.groupIdx[col]
	return gk, ok
}

// DeltaIndex returns the registered delta index for col, if any.
func (s *Store) DeltaIndex(col int) (*index.DeltaIndex, bool) {
	s.deltaIdxMu.RLock()
	defer s.deltaIdxMu.RUnlock()
	di, ok := s.deltaIdx[col]
	return di, ok
}

// Scan runs an IndexAwareScan against this store's registered indices,
// translating delta results by +|main| exactly once (spec.md §9).
func (s *Store) Scan(preds []index.Predicate) (index.PositionRange, error) {
	s.deltaIdxMu.RLock()
	groupIdx := make(map[int]*index.GroupkeyIndex, len(s.groupIdx))
	for k, v := range s.groupIdx {
		groupIdx[k] = v
	}
	deltaIdx := make(map[int]*index.DeltaIndex, len(s.deltaIdx))
	for k, v := range s.deltaIdx {
		deltaIdx[k] = v
	}
	s.deltaIdxMu.RUnlock()

	return index.Scan(preds, groupIdx, deltaIdx, s.mainLen())
}

// Merge runs TableMerger.Merge against the store's current main/delta,
// filtering to rows visible at lastCID under txn.MergeTID, then
// atomically swaps in the new main, a fresh empty delta, and resized
// MVCC vectors with (cid_begin=0, cid_end=INF, tid=START_TID) for every
// surviving row. The swap is a single mutex-guarded pointer publish: readers
// before it see wholly-old state, readers after see wholly-new.
func (s *Store) Merge(ctx context.Context, lastCID txn.CID) error {
	s.mainMu.RLock()
	main := s.main
	delta := s.delta
	s.mainMu.RUnlock()

	s.deltaIdxMu.RLock()
	pagedBefore := make(map[int]*index.PagedIndex, len(s.pagedIdx))
	for k, v := range s.pagedIdx {
		pagedBefore[k] = v
	}
	s.deltaIdxMu.RUnlock()

	s.vecMu.RLock()
	visible := func(pos int) bool { return s.isVisible(uint64(pos), txn.MergeTID, lastCID) }
	result, err := s.merger.Merge(ctx, main, delta, s.indexedCols, pagedBefore, visible)
	s.vecMu.RUnlock()
	if err != nil {
		return fmt.Errorf("store: merge: %w", err)
	}

	newLen := result.Main.Size()
	newTid := make([]atomic.Uint64, newLen)
	newCidBegin := make([]atomic.Uint64, newLen)
	newCidEnd := make([]atomic.Uint64, newLen)
	for i := 0; i < newLen; i++ {
		newTid[i].Store(uint64(txn.StartTID))
		// Merged rows are already durable and compacted: they must be
		// visible to every reader regardless of snapshot, so cid_begin
		// is the earliest possible commit id rather than UNKNOWN_CID
		// (which shares InfiniteCID's bit pattern and would otherwise
		// make every merged row permanently invisible).
		newCidBegin[i].Store(0)
		newCidEnd[i].Store(uint64(txn.InfiniteCID))
	}

	freshDelta := coltable.NewDeltaTable(s.columns)
	freshDeltaIdx := make(map[int]*index.DeltaIndex, len(s.indexedCols))
	for _, col := range s.indexedCols {
		freshDeltaIdx[col] = index.NewDeltaIndex(s.columns[col].Type)
	}

	s.mainMu.Lock()
	s.main = result.Main
	s.delta = freshDelta
	s.mainMu.Unlock()

	s.vecMu.Lock()
	s.tid = newTid
	s.cidBegin = newCidBegin
	s.cidEnd = newCidEnd
	s.vecMu.Unlock()

	s.deltaIdxMu.Lock()
	s.deltaIdx = freshDeltaIdx
	s.groupIdx = result.GroupkeyIndex
	s.pagedIdx = result.PagedIndex
	s.deltaIdxMu.Unlock()

	s.logger.Printf("[STORE] store=%s merged: main=%d delta=0", s.ID, newLen)
	return nil
}

// MainLen returns the current main partition's row count, used by WAL
// replay to translate a logged global row into a delta-local row.
func (s *Store) MainLen() int { return s.mainLen() }

// RecoverDictionaryEntry inserts value at vid into the delta
// dictionary of col, used only while replaying a Dictionary WAL record.
func (s *Store) RecoverDictionaryEntry(col int, value any, vid dictionary.VID) error {
	s.mainMu.RLock()
	deltaDict := s.delta.Dict[col]
	s.mainMu.RUnlock()

	oi, ok := deltaDict.(*dictionary.OrderIndifferent)
	if !ok {
		return fmt.Errorf("store: recover dictionary entry: column %d delta dictionary is not order-indifferent", col)
	}
	return oi.AddAt(value, vid)
}

// RecoverSetDeltaCell writes vid directly into delta's attribute vector
// for col at localRow, used only while replaying a Value WAL record
// (the vid was already resolved against the dictionary by a prior
// Dictionary record, so no dictionary lookup happens here).
func (s *Store) RecoverSetDeltaCell(col, localRow int, vid dictionary.VID) error {
	s.mainMu.RLock()
	attr := s.delta.Attr[col]
	s.mainMu.RUnlock()
	return attr.Set(localRow, vid)
}

// RecoverTagInsert marks the row at global as owned by tid and records
// it as one of tid's pending inserts, mirroring what CopyRowToDelta does
// for a live write path.
func (s *Store) RecoverTagInsert(global uint64, tid txn.TID) {
	s.vecMu.RLock()
	s.tid[global].Store(uint64(tid))
	s.vecMu.RUnlock()

	s.pendingMu.Lock()
	s.pendingInserts[tid] = append(s.pendingInserts[tid], global)
	s.pendingMu.Unlock()
}

// ColumnType reports the logical type of col, used by callers building
// index.Predicate values without re-deriving it from the table.
func (s *Store) ColumnType(col int) (dictionary.ColumnType, error) {
	if col < 0 || col >= len(s.columns) {
		return 0, fmt.Errorf("store: column %d: %w", col, ErrColumnNotFound)
	}
	return s.columns[col].Type, nil
}
