package chain

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// bodySize is the fixed width of a block's framed fields, excluding the
// block_len and crc32 prefix: block_index u64 | previous_hash [32] |
// merkle_root [32] | record_count u64 | first_sequence u64 |
// last_sequence u64 | timestamp_ms u64 | block_hash [32].
const bodySize = 8 + HashSize + HashSize + 8 + 8 + 8 + 8 + HashSize

// frameSize is a full chain.dat record: block_len u32 | crc32 u32 | body.
const frameSize = 4 + 4 + bodySize

func encodeBody(b Block) []byte {
	buf := make([]byte, bodySize)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], b.Index)
	off += 8
	copy(buf[off:], b.PreviousHash[:])
	off += HashSize
	copy(buf[off:], b.MerkleRoot[:])
	off += HashSize
	binary.LittleEndian.PutUint64(buf[off:], b.RecordCount)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], b.FirstSequence)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], b.LastSequence)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], b.TimestampMs)
	off += 8
	copy(buf[off:], b.Hash[:])
	return buf
}

func decodeBody(buf []byte) Block {
	var b Block
	off := 0
	b.Index = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	copy(b.PreviousHash[:], buf[off:off+HashSize])
	off += HashSize
	copy(b.MerkleRoot[:], buf[off:off+HashSize])
	off += HashSize
	b.RecordCount = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	b.FirstSequence = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	b.LastSequence = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	b.TimestampMs = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	copy(b.Hash[:], buf[off:off+HashSize])
	return b
}

// encodeFrame serializes one block as: block_len u32 | crc32 u32 | body.
func encodeFrame(b Block) []byte {
	body := encodeBody(b)
	frame := make([]byte, 4+4+len(body))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(body))
	copy(frame[8:], body)
	return frame
}

// decodeFrame parses one frame starting at data[0], returning the block and
// the byte length consumed. Every frame is exactly frameSize bytes, since
// a block has no variable-length fields, so "fewer than frameSize bytes
// remain" (errTorn) and "frameSize bytes are present but don't check out"
// (errCorrupt) are distinguishable by byte count alone, never by the
// field values a partial write happened to leave behind.
func decodeFrame(data []byte) (Block, int, error) {
	if len(data) < frameSize {
		return Block{}, 0, fmt.Errorf("chain: %w: only %d of %d bytes present", errTorn, len(data), frameSize)
	}
	blockLen := binary.LittleEndian.Uint32(data[0:4])
	crc := binary.LittleEndian.Uint32(data[4:8])
	if blockLen != uint32(bodySize) {
		return Block{}, 0, fmt.Errorf("chain: %w: unexpected block length %d", errCorrupt, blockLen)
	}
	body := data[8 : 8+bodySize]
	if crc32.ChecksumIEEE(body) != crc {
		return Block{}, 0, fmt.Errorf("chain: %w: checksum mismatch", errCorrupt)
	}
	return decodeBody(body), frameSize, nil
}
