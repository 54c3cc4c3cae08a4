package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// indexEntry is one sparse-index row: the first key of a scan block and
// that block's absolute offset into the data region.
type indexEntry struct {
	key    []byte
	offset uint64
}

// indexBuilder accumulates sparse index entries while a writer streams
// records to disk in ascending key order.
type indexBuilder struct {
	entries []indexEntry
}

func (b *indexBuilder) add(key []byte, offset uint64) {
	b.entries = append(b.entries, indexEntry{key: append([]byte(nil), key...), offset: offset})
}

// encode serializes the index as: index_entries u32, then per entry
// key_len u32 | key | offset u64, per spec §6.
func (b *indexBuilder) encode() []byte {
	var buf bytes.Buffer
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(b.entries)))
	buf.Write(tmp[:])
	for _, e := range b.entries {
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(e.key)))
		buf.Write(tmp[:])
		buf.Write(e.key)
		var off [8]byte
		binary.LittleEndian.PutUint64(off[:], e.offset)
		buf.Write(off[:])
	}
	return buf.Bytes()
}

// sparseIndex is the in-memory, decoded form used by a reader for
// binary-search lookups.
type sparseIndex struct {
	entries []indexEntry
}

func decodeIndex(data []byte) (*sparseIndex, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("sstable: %w: index too short", ErrCorrupt)
	}
	count := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	entries := make([]indexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("sstable: %w: truncated index entry", ErrCorrupt)
		}
		klen := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < klen+8 {
			return nil, fmt.Errorf("sstable: %w: truncated index entry", ErrCorrupt)
		}
		key := append([]byte(nil), data[:klen]...)
		data = data[klen:]
		offset := binary.LittleEndian.Uint64(data[:8])
		data = data[8:]
		entries = append(entries, indexEntry{key: key, offset: offset})
	}
	return &sparseIndex{entries: entries}, nil
}

// blockStart returns the offset of the indexed block whose first key is the
// greatest key ≤ target, or (0, false) if target precedes every entry.
func (idx *sparseIndex) blockStart(target []byte) (uint64, bool) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return bytes.Compare(idx.entries[i].key, target) > 0
	})
	if i == 0 {
		return 0, false
	}
	return idx.entries[i-1].offset, true
}
