// Package chain implements the tamper-evident hash-chain audit overlay
// (spec §4.4). It has no teacher equivalent in the base repo — nexusbase
// has no blockchain concept — so its shape is grounded directly on
// original_source/src/storage/blockchain.rs, adapted into the spec's own
// bit-exact block-hash formula and on-disk framing rather than the
// original's bincode+nonce design.
package chain

import (
	"crypto/sha256"
	"encoding/binary"
)

// HashSize is the width of every hash in the chain: block hashes, the
// previous-hash link, and Merkle nodes are all SHA-256.
const HashSize = 32

// Block summarizes one batch of records. It never stores the records
// themselves — only the range of sequences and the Merkle root committing
// to their content — so the chain file stays small regardless of value
// size.
type Block struct {
	Index         uint64
	PreviousHash  [HashSize]byte
	MerkleRoot    [HashSize]byte
	RecordCount   uint64
	FirstSequence uint64
	LastSequence  uint64
	TimestampMs   uint64
	Hash          [HashSize]byte
}

// leafHash is the Merkle leaf for one record: SHA-256(sequence ‖ key ‖ value).
func leafHash(sequence uint64, key, value []byte) [HashSize]byte {
	h := sha256.New()
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	h.Write(seq[:])
	h.Write(key)
	h.Write(value)
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// merkleRoot builds a balanced SHA-256 Merkle tree over leaves, duplicating
// the last element of an odd-sized level when combining (spec §3). An
// empty batch has a zero root.
func merkleRoot(leaves [][HashSize]byte) [HashSize]byte {
	if len(leaves) == 0 {
		return [HashSize]byte{}
	}
	level := leaves
	for len(level) > 1 {
		next := make([][HashSize]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			h := sha256.New()
			h.Write(left[:])
			h.Write(right[:])
			var combined [HashSize]byte
			copy(combined[:], h.Sum(nil))
			next = append(next, combined)
		}
		level = next
	}
	return level[0]
}

// computeHash is block_hash = SHA-256(block_index ‖ previous_hash ‖
// merkle_root ‖ record_count ‖ first_sequence ‖ last_sequence ‖
// timestamp_ms), per spec §3.
func computeHash(index uint64, previousHash, merkleRoot [HashSize]byte, recordCount, firstSeq, lastSeq, timestampMs uint64) [HashSize]byte {
	h := sha256.New()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], index)
	h.Write(buf[:])
	h.Write(previousHash[:])
	h.Write(merkleRoot[:])
	binary.BigEndian.PutUint64(buf[:], recordCount)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], firstSeq)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], lastSeq)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], timestampMs)
	h.Write(buf[:])

	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// genesisBlock is block_index = 0, with previous_hash all-zero and
// record_count zero (spec §3).
func genesisBlock(timestampMs uint64) Block {
	b := Block{Index: 0, TimestampMs: timestampMs}
	b.Hash = computeHash(0, b.PreviousHash, b.MerkleRoot, 0, 0, 0, timestampMs)
	return b
}

// Record is the minimal shape the chain needs from a record: just enough
// to compute its Merkle leaf and track a block's sequence range. The
// engine and sstable/WAL records are wider; callers project down to this
// before handing records to the chain.
type Record struct {
	Sequence uint64
	Key      []byte
	Value    []byte
}

// sealBlock builds the next block from a non-empty ordered batch.
func sealBlock(index uint64, previousHash [HashSize]byte, records []Record, timestampMs uint64) Block {
	leaves := make([][HashSize]byte, len(records))
	for i, r := range records {
		leaves[i] = leafHash(r.Sequence, r.Key, r.Value)
	}
	root := merkleRoot(leaves)
	first, last := records[0].Sequence, records[len(records)-1].Sequence

	b := Block{
		Index:         index,
		PreviousHash:  previousHash,
		MerkleRoot:    root,
		RecordCount:   uint64(len(records)),
		FirstSequence: first,
		LastSequence:  last,
		TimestampMs:   timestampMs,
	}
	b.Hash = computeHash(index, previousHash, root, b.RecordCount, first, last, timestampMs)
	return b
}

// verifyIntegrity recomputes a block's own hash from its fields.
func (b Block) verifyIntegrity() bool {
	return b.Hash == computeHash(b.Index, b.PreviousHash, b.MerkleRoot, b.RecordCount, b.FirstSequence, b.LastSequence, b.TimestampMs)
}
