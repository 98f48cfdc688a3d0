package wal

import (
	"fmt"
	"math"

	"github.com/kasuganosora/coretable/dictionary"
	"github.com/kasuganosora/coretable/store"
	"github.com/kasuganosora/coretable/txn"
)

// StoreResolver locates the store a record's TableName belongs to.
// Replay takes a resolver rather than a storagemanager reference
// directly, so this package never imports storagemanager (which in
// turn imports wal to open a table's log).
type StoreResolver interface {
	ResolveStore(tableName string) (*store.Store, error)
}

// pendingRows tracks, per transaction, the rows it inserted and the
// rows it invalidated, mirroring Store's own pendingInserts/pendingDeletes
// bookkeeping — replay has to rebuild that bookkeeping itself since it
// drives Store's lower-level recovery methods instead of the live
// CopyRowToDelta/MarkForDeletion/CommitPositions path.
type pendingRows struct {
	inserts map[txn.TID][]uint64
	deletes map[txn.TID][]uint64
}

func newPendingRows() *pendingRows {
	return &pendingRows{
		inserts: make(map[txn.TID][]uint64),
		deletes: make(map[txn.TID][]uint64),
	}
}

// Replay reconstructs store state from a raw WAL byte stream: it reads
// frames front to back, maintaining a per-tid scratch set of pending
// insert/delete positions. Commit records carry no cid of their own, so
// each store gets its own replay-local cid sequence, strictly
// increasing from 1 as its Commit records are encountered; callers that
// need cids to keep advancing after replay should seed their
// transaction manager from the table's recovered row count rather than
// from this sequence. A truncated trailing frame (the torn tail of a
// write in flight when the process died) ends replay cleanly rather
// than failing it.
func Replay(data []byte, resolver StoreResolver) error {
	pending := make(map[string]*pendingRows)
	nextCID := make(map[string]uint64)

	pendingFor := func(table string) *pendingRows {
		p, ok := pending[table]
		if !ok {
			p = newPendingRows()
			pending[table] = p
		}
		return p
	}

	buf := data
	for len(buf) > 0 {
		payload, consumed, err := decodeFrame(buf)
		if err != nil {
			// A torn tail at the very end of the log is expected after a
			// crash mid-write; stop replay cleanly instead of failing it.
			return nil
		}
		buf = buf[consumed:]

		if len(payload) == 0 {
			return fmt.Errorf("wal: replay: empty record payload")
		}

		switch RecordType(payload[0]) {
		case RecordDictionary:
			rec, err := decodeDictionary(payload)
			if err != nil {
				return err
			}
			st, err := resolver.ResolveStore(rec.TableName)
			if err != nil {
				return fmt.Errorf("wal: replay: dictionary record: %w", err)
			}
			value, err := decodeDictionaryValue(st, int(rec.Column), rec.Value)
			if err != nil {
				return fmt.Errorf("wal: replay: dictionary record: %w", err)
			}
			if err := st.RecoverDictionaryEntry(int(rec.Column), value, dictionary.VID(rec.ValueID)); err != nil {
				return fmt.Errorf("wal: replay: dictionary record: %w", err)
			}

		case RecordValue:
			rec, err := decodeValue(payload)
			if err != nil {
				return err
			}
			st, err := resolver.ResolveStore(rec.TableName)
			if err != nil {
				return fmt.Errorf("wal: replay: value record: %w", err)
			}
			p := pendingFor(rec.TableName)
			tid := txn.TID(rec.TxID)

			if rec.FieldBitmask != 0 {
				mainLen := uint64(st.MainLen())
				if rec.Row < mainLen {
					return fmt.Errorf("wal: replay: value record: row %d is not a delta row (main has %d rows)", rec.Row, mainLen)
				}
				localRow := int(rec.Row - mainLen)
				if localRow >= st.Delta().Size() {
					st.AppendToDelta(localRow - st.Delta().Size() + 1)
				}

				col := 0
				for bit := 0; bit < 64 && col < len(rec.ValueIDs); bit++ {
					if rec.FieldBitmask&(1<<uint(bit)) == 0 {
						continue
					}
					if err := st.RecoverSetDeltaCell(bit, localRow, dictionary.VID(rec.ValueIDs[col])); err != nil {
						return fmt.Errorf("wal: replay: value record: %w", err)
					}
					col++
				}

				st.RecoverTagInsert(rec.Row, tid)
				p.inserts[tid] = append(p.inserts[tid], rec.Row)
			}

			// InvalidatedRow is a nonzero-means-set flag, not an
			// independent row number: the row being invalidated is
			// always Row itself (mirrors the original log format,
			// where field_bitmask and invalidated_row both describe
			// the same logged row rather than two different ones).
			if rec.InvalidatedRow != 0 {
				if err := st.MarkForDeletion(rec.Row, tid); err != nil {
					return fmt.Errorf("wal: replay: value record: invalidate row %d: %w", rec.Row, err)
				}
				p.deletes[tid] = append(p.deletes[tid], rec.Row)
			}

		case RecordCommit:
			rec, err := decodeCommit(payload)
			if err != nil {
				return err
			}
			tid := txn.TID(rec.TxID)
			for table, p := range pending {
				if len(p.inserts[tid]) == 0 && len(p.deletes[tid]) == 0 {
					continue
				}
				st, err := resolver.ResolveStore(table)
				if err != nil {
					return fmt.Errorf("wal: replay: commit record: %w", err)
				}
				cid := nextCID[table] + 1
				nextCID[table] = cid
				for _, row := range p.inserts[tid] {
					st.ApplyVisibility([]uint64{row}, txn.CID(cid), true)
				}
				for _, row := range p.deletes[tid] {
					st.ApplyVisibility([]uint64{row}, txn.CID(cid), false)
				}
				delete(p.inserts, tid)
				delete(p.deletes, tid)
			}
		}
	}
	return nil
}

// decodeDictionaryValue turns a record's raw bytes back into the typed
// value the column's dictionary expects, per the column's declared type.
func decodeDictionaryValue(st *store.Store, col int, raw []byte) (any, error) {
	ct, err := st.ColumnType(col)
	if err != nil {
		return nil, err
	}
	switch ct {
	case dictionary.IntColumn:
		if len(raw) != 8 {
			return nil, fmt.Errorf("wal: int value: want 8 bytes, got %d", len(raw))
		}
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(raw[i])
		}
		return int64(v), nil
	case dictionary.FloatColumn:
		if len(raw) != 8 {
			return nil, fmt.Errorf("wal: float value: want 8 bytes, got %d", len(raw))
		}
		var bits uint64
		for i := 7; i >= 0; i-- {
			bits = bits<<8 | uint64(raw[i])
		}
		return math.Float64frombits(bits), nil
	case dictionary.StringColumn:
		return string(raw), nil
	default:
		return nil, fmt.Errorf("wal: unsupported column type %v", ct)
	}
}
