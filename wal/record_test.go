package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeDictionary_RoundTrips(t *testing.T) {
	rec := DictionaryRecord{TableName: "widgets", Column: 2, ValueID: 7, Value: []byte("hello")}
	payload := encodeDictionary(rec)
	got, err := decodeDictionary(payload)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestEncodeDecodeValue_RoundTrips(t *testing.T) {
	rec := ValueRecord{
		TxID: 42, TableName: "widgets", Row: 5, InvalidatedRow: 0,
		FieldBitmask: 0b101, ValueIDs: []uint32{9, 3},
	}
	payload := encodeValue(rec)
	got, err := decodeValue(payload)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestEncodeDecodeCommit_RoundTrips(t *testing.T) {
	rec := CommitRecord{TxID: 99}
	payload := encodeCommit(rec)
	got, err := decodeCommit(payload)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestFrame_DetectsCorruption(t *testing.T) {
	payload := encodeCommit(CommitRecord{TxID: 1})
	framed := frame(payload)
	framed[len(framed)-1] ^= 0xFF // flip a byte in the checksum

	_, _, err := decodeFrame(framed)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestFrame_DetectsShortBuffer(t *testing.T) {
	payload := encodeCommit(CommitRecord{TxID: 1})
	framed := frame(payload)

	_, _, err := decodeFrame(framed[:len(framed)-2])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeFrame_ConsumesExactlyOneRecord(t *testing.T) {
	a := frame(encodeCommit(CommitRecord{TxID: 1}))
	b := frame(encodeCommit(CommitRecord{TxID: 2}))
	buf := append(append([]byte{}, a...), b...)

	payload, consumed, err := decodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, len(a), consumed)

	rec, err := decodeCommit(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.TxID)

	payload2, consumed2, err := decodeFrame(buf[consumed:])
	require.NoError(t, err)
	assert.Equal(t, len(b), consumed2)
	rec2, err := decodeCommit(payload2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec2.TxID)
}
