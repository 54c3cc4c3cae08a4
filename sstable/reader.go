package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/blockdb/blockdb/sys"
)

// Table is an opened, immutable SSTable. It is read-only and safe for
// concurrent Get calls; the levels package wraps it with a retain count so
// it is only removed from disk once no reader holds it (spec §5).
type Table struct {
	fs   sys.FS
	path string

	data []byte // full file contents; small enough in this exercise to hold in memory

	recordCount uint64
	minKey      []byte
	maxKey      []byte
	dataStart   uint64
	dataEnd     uint64 // == index offset
	index       *sparseIndex
	filter      *bloomFilter
}

// Path returns the table's file path.
func (t *Table) Path() string { return t.path }

// MinKey and MaxKey bound the keys present in this table, per the header.
func (t *Table) MinKey() []byte { return t.minKey }
func (t *Table) MaxKey() []byte { return t.maxKey }

// RecordCount is the number of records in this table.
func (t *Table) RecordCount() uint64 { return t.recordCount }

// Open reads, validates, and indexes the SSTable at path.
func Open(fs sys.FS, path string) (*Table, error) {
	f, err := fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && size > 0 {
		return nil, fmt.Errorf("sstable: read %s: %w", path, err)
	}

	t, err := parseTable(path, data)
	if err != nil {
		return nil, err
	}
	t.fs = fs
	return t, nil
}

func parseTable(path string, data []byte) (*Table, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("sstable: %s: %w: file too short", path, ErrCorrupt)
	}

	footer := data[len(data)-FooterSize:]
	footerCRC := binary.LittleEndian.Uint32(footer[12:16])
	if crc32.ChecksumIEEE(footer[:12]) != footerCRC {
		return nil, fmt.Errorf("sstable: %s: %w: footer checksum mismatch", path, ErrCorrupt)
	}
	indexOffset := binary.LittleEndian.Uint64(footer[0:8])
	indexCRC := binary.LittleEndian.Uint32(footer[8:12])

	if indexOffset > uint64(len(data))-uint64(FooterSize) {
		return nil, fmt.Errorf("sstable: %s: %w: index offset out of range", path, ErrCorrupt)
	}
	indexBytes := data[indexOffset : uint64(len(data))-uint64(FooterSize)]
	if crc32.ChecksumIEEE(indexBytes) != indexCRC {
		return nil, fmt.Errorf("sstable: %s: %w: index checksum mismatch", path, ErrCorrupt)
	}
	idx, err := decodeIndex(indexBytes)
	if err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}

	if len(data) < 16 {
		return nil, fmt.Errorf("sstable: %s: %w: header too short", path, ErrCorrupt)
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	version := binary.LittleEndian.Uint32(data[4:8])
	if magic != Magic {
		return nil, fmt.Errorf("sstable: %s: %w: bad magic", path, ErrCorrupt)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("sstable: %s: %w: unsupported version %d", path, ErrCorrupt, version)
	}
	recordCount := binary.LittleEndian.Uint64(data[8:16])

	off := uint64(16)
	minKey, off, err := readLenPrefixed(data, off)
	if err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}
	maxKey, off, err := readLenPrefixed(data, off)
	if err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}

	t := &Table{
		path:        path,
		data:        data,
		recordCount: recordCount,
		minKey:      minKey,
		maxKey:      maxKey,
		dataStart:   off,
		dataEnd:     indexOffset,
		index:       idx,
	}

	filter, err := newBloomFilter(recordCount, 0.01)
	if err != nil {
		return nil, fmt.Errorf("sstable: %s: bloom filter: %w", path, err)
	}
	if err := t.eachRecord(func(e Entry) error {
		filter.add(e.Key)
		return nil
	}); err != nil {
		return nil, err
	}
	t.filter = filter

	return t, nil
}

func readLenPrefixed(data []byte, off uint64) ([]byte, uint64, error) {
	if off+4 > uint64(len(data)) {
		return nil, 0, fmt.Errorf("%w: truncated length prefix", ErrCorrupt)
	}
	n := uint64(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if off+n > uint64(len(data)) {
		return nil, 0, fmt.Errorf("%w: truncated field", ErrCorrupt)
	}
	return data[off : off+n], off + n, nil
}

// decodeRecordAt parses one data-region record starting at off, returning
// it along with the offset of the next record.
func (t *Table) decodeRecordAt(off uint64) (Entry, uint64, error) {
	key, off, err := readLenPrefixed(t.data, off)
	if err != nil {
		return Entry{}, 0, err
	}
	value, off, err := readLenPrefixed(t.data, off)
	if err != nil {
		return Entry{}, 0, err
	}
	if off+8 > uint64(len(t.data)) {
		return Entry{}, 0, fmt.Errorf("%w: truncated sequence", ErrCorrupt)
	}
	seq := binary.LittleEndian.Uint64(t.data[off : off+8])
	off += 8
	return Entry{Key: key, Value: value, Sequence: seq}, off, nil
}

// eachRecord calls fn for every record in ascending key order.
func (t *Table) eachRecord(fn func(Entry) error) error {
	off := t.dataStart
	for off < t.dataEnd {
		e, next, err := t.decodeRecordAt(off)
		if err != nil {
			return fmt.Errorf("sstable: %s: %w", t.path, err)
		}
		if err := fn(e); err != nil {
			return err
		}
		off = next
	}
	return nil
}

// All returns every record in the table in ascending key order, for use by
// the compaction merge.
func (t *Table) All() ([]Entry, error) {
	var out []Entry
	err := t.eachRecord(func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// Get resolves key to its (sequence, value) pair, per spec §4.3: binary
// search the sparse index for the nearest block start ≤ key, then linear
// scan until key is found, exceeded, or the data region ends.
func (t *Table) Get(key []byte) (sequence uint64, value []byte, err error) {
	if t.filter != nil && !t.filter.mayContain(key) {
		return 0, nil, ErrNotFound
	}

	off := t.dataStart
	if blockOff, ok := t.index.blockStart(key); ok {
		off = blockOff
	}

	for off < t.dataEnd {
		e, next, decErr := t.decodeRecordAt(off)
		if decErr != nil {
			return 0, nil, fmt.Errorf("sstable: %s: %w", t.path, decErr)
		}
		cmp := bytes.Compare(e.Key, key)
		if cmp == 0 {
			return e.Sequence, e.Value, nil
		}
		if cmp > 0 {
			break
		}
		off = next
	}
	return 0, nil, ErrNotFound
}
