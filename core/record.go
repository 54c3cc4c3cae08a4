package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// MaxKeyLen and MaxValueLen are the hard limits from the data model (§3).
// MaxValueLen is the default for max_value_size; engines may configure a
// smaller bound but never a larger one.
const (
	MaxKeyLen   = 64 * 1024
	MaxValueLen = 16 * 1024 * 1024
)

// OpTag identifies the kind of a WAL frame. The design reserves space for
// future tags but only OpPut is ever valid; there is no delete or update at
// the engine boundary.
type OpTag uint8

const (
	// OpUnknown is the zero value, reserved so a torn or zeroed frame is
	// rejected by recovery rather than silently treated as a put.
	OpUnknown OpTag = 0
	OpPut     OpTag = 1
)

// Record is the atomic unit of the write path: (sequence, key, value,
// timestamp_ms). Hash is a record-level digest used for debug logging and
// audit trails outside the chain, SHA-256(key || value || be64(timestamp_ms)
// || be64(sequence)) — distinct from the chain package's own leaf hash,
// which the Merkle tree is built from and which omits the timestamp.
type Record struct {
	Sequence    uint64
	Key         []byte
	Value       []byte
	TimestampMs uint64
	Hash        [32]byte
}

// NewRecord builds a Record and computes its record hash.
func NewRecord(seq uint64, key, value []byte, timestampMs uint64) Record {
	r := Record{
		Sequence:    seq,
		Key:         key,
		Value:       value,
		TimestampMs: timestampMs,
	}
	r.Hash = ComputeRecordHash(seq, key, value, timestampMs)
	return r
}

// ComputeRecordHash computes the record hash from raw fields without
// allocating a Record. The chain package does not use it; its Merkle
// leaves are hashed separately.
func ComputeRecordHash(seq uint64, key, value []byte, timestampMs uint64) [32]byte {
	h := sha256.New()
	h.Write(key)
	h.Write(value)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], timestampMs)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
