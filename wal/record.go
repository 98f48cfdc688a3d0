package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// RecordType tags a WAL record's payload shape.
type RecordType byte

const (
	RecordDictionary RecordType = 'D'
	RecordValue      RecordType = 'V'
	RecordCommit     RecordType = 'C'
)

// ErrTruncated is returned by the decode helpers when a record's
// declared length runs past the available bytes, or its checksum does
// not match — both treated as "this is the torn tail of an in-progress
// write", per spec.md §4.6's silently-unspecified crash-mid-write case.
// Replay does not return it for a bad frame: it stops and returns nil.
var ErrTruncated = errors.New("wal: truncated or corrupt record")

// DictionaryRecord extends a store's delta dictionary at Column with
// (Value, ValueID).
type DictionaryRecord struct {
	TableName string
	Column    uint32
	ValueID   uint32
	Value     []byte
}

// ValueRecord carries one row's worth of value-ids, or an invalidation.
type ValueRecord struct {
	TxID            uint64
	TableName       string
	Row             uint64
	InvalidatedRow  uint64
	FieldBitmask    uint64
	ValueIDs        []uint32 // one per set bit in FieldBitmask, low bit first
}

// CommitRecord marks TxID as committed.
type CommitRecord struct {
	TxID uint64
}

func encodeDictionary(r DictionaryRecord) []byte {
	out := make([]byte, 0, 1+1+len(r.TableName)+4+4+4+len(r.Value))
	out = append(out, byte(RecordDictionary))
	out = append(out, byte(len(r.TableName)))
	out = append(out, r.TableName...)
	out = appendU32(out, r.Column)
	out = appendU32(out, r.ValueID)
	out = appendI32(out, int32(len(r.Value)))
	out = append(out, r.Value...)
	return out
}

func encodeValue(r ValueRecord) []byte {
	out := make([]byte, 0, 1+8+1+len(r.TableName)+8+8+8+4*len(r.ValueIDs))
	out = append(out, byte(RecordValue))
	out = appendU64(out, r.TxID)
	out = append(out, byte(len(r.TableName)))
	out = append(out, r.TableName...)
	out = appendU64(out, r.Row)
	out = appendU64(out, r.InvalidatedRow)
	out = appendU64(out, r.FieldBitmask)
	for _, vid := range r.ValueIDs {
		out = appendU32(out, vid)
	}
	return out
}

func encodeCommit(r CommitRecord) []byte {
	out := make([]byte, 0, 1+8)
	out = append(out, byte(RecordCommit))
	out = appendU64(out, r.TxID)
	return out
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendI32(b []byte, v int32) []byte {
	return appendU32(b, uint32(v))
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// frame wraps payload with a little-endian u32 length prefix and a
// trailing xxhash64 checksum of payload alone, the one wire-level
// addition beyond spec.md's literal record layout (see SPEC_FULL.md
// §5.8): it lets Replay detect a torn tail write and stop cleanly
// instead of misparsing whatever partial bytes made it to disk.
func frame(payload []byte) []byte {
	out := make([]byte, 0, 4+len(payload)+8)
	out = appendU32(out, uint32(len(payload)))
	out = append(out, payload...)
	out = appendU64(out, xxhash.Sum64(payload))
	return out
}

// decodeFrame reads one length-prefixed, checksummed record from buf,
// returning the payload and the number of bytes consumed. It returns
// ErrTruncated (not a hard error) whenever buf doesn't yet hold a whole
// valid frame, so callers can stop replay at exactly that point.
func decodeFrame(buf []byte) (payload []byte, consumed int, err error) {
	if len(buf) < 4 {
		return nil, 0, ErrTruncated
	}
	plen := binary.LittleEndian.Uint32(buf[:4])
	total := 4 + int(plen) + 8
	if total < 0 || len(buf) < total {
		return nil, 0, ErrTruncated
	}
	payload = buf[4 : 4+plen]
	wantSum := binary.LittleEndian.Uint64(buf[4+plen : total])
	if xxhash.Sum64(payload) != wantSum {
		return nil, 0, ErrTruncated
	}
	return payload, total, nil
}

func decodeDictionary(payload []byte) (DictionaryRecord, error) {
	if len(payload) < 1+1 {
		return DictionaryRecord{}, fmt.Errorf("wal: dictionary record: %w", ErrTruncated)
	}
	nameLen := int(payload[1])
	off := 2
	if len(payload) < off+nameLen+4+4+4 {
		return DictionaryRecord{}, fmt.Errorf("wal: dictionary record: %w", ErrTruncated)
	}
	name := string(payload[off : off+nameLen])
	off += nameLen
	column := binary.LittleEndian.Uint32(payload[off:])
	off += 4
	valueID := binary.LittleEndian.Uint32(payload[off:])
	off += 4
	valueLen := int(int32(binary.LittleEndian.Uint32(payload[off:])))
	off += 4
	if valueLen < 0 || len(payload) < off+valueLen {
		return DictionaryRecord{}, fmt.Errorf("wal: dictionary record: %w", ErrTruncated)
	}
	value := append([]byte(nil), payload[off:off+valueLen]...)
	return DictionaryRecord{TableName: name, Column: column, ValueID: valueID, Value: value}, nil
}

func decodeValue(payload []byte) (ValueRecord, error) {
	if len(payload) < 1+8+1 {
		return ValueRecord{}, fmt.Errorf("wal: value record: %w", ErrTruncated)
	}
	txID := binary.LittleEndian.Uint64(payload[1:])
	off := 9
	nameLen := int(payload[off])
	off++
	if len(payload) < off+nameLen+8+8+8 {
		return ValueRecord{}, fmt.Errorf("wal: value record: %w", ErrTruncated)
	}
	name := string(payload[off : off+nameLen])
	off += nameLen
	row := binary.LittleEndian.Uint64(payload[off:])
	off += 8
	invalidated := binary.LittleEndian.Uint64(payload[off:])
	off += 8
	bitmask := binary.LittleEndian.Uint64(payload[off:])
	off += 8

	n := bits.OnesCount64(bitmask)
	if len(payload) < off+4*n {
		return ValueRecord{}, fmt.Errorf("wal: value record: %w", ErrTruncated)
	}
	vids := make([]uint32, n)
	for i := 0; i < n; i++ {
		vids[i] = binary.LittleEndian.Uint32(payload[off:])
		off += 4
	}
	return ValueRecord{
		TxID:           txID,
		TableName:      name,
		Row:            row,
		InvalidatedRow: invalidated,
		FieldBitmask:   bitmask,
		ValueIDs:       vids,
	}, nil
}

func decodeCommit(payload []byte) (CommitRecord, error) {
	if len(payload) < 1+8 {
		return CommitRecord{}, fmt.Errorf("wal: commit record: %w", ErrTruncated)
	}
	return CommitRecord{TxID: binary.LittleEndian.Uint64(payload[1:])}, nil
}
