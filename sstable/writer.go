package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path"

	"github.com/blockdb/blockdb/sys"
)

// Entry is one record as handed to CreateFrom: the MemTable's timestamp is
// dropped here, since the on-disk data region (spec §6) carries only
// key, value, and sequence — a flushed record's WAL frame remains the
// source of truth for when it was written.
type Entry struct {
	Key      []byte
	Sequence uint64
	Value    []byte
}

// CreateFrom writes a new SSTable at path containing records, which must
// already be in strictly ascending key order (I5). It writes the header,
// data region, sparse index, and footer, then fsyncs the file before
// returning, per spec §4.3.
func CreateFrom(fs sys.FS, path string, records []Entry) error {
	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("sstable: create %s: %w", tmp, err)
	}
	if err := writeTable(f, records); err != nil {
		f.Close()
		fs.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fs.Remove(tmp)
		return fmt.Errorf("sstable: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("sstable: close %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("sstable: rename %s: %w", tmp, err)
	}
	if err := fs.SyncDir(dirOf(path)); err != nil {
		return fmt.Errorf("sstable: fsync dir of %s: %w", path, err)
	}
	return nil
}

func dirOf(p string) string {
	if d := path.Dir(p); d != "" {
		return d
	}
	return "."
}

func writeTable(f sys.File, records []Entry) error {
	var minKey, maxKey []byte
	if len(records) > 0 {
		minKey = records[0].Key
		maxKey = records[len(records)-1].Key
	}

	header := encodeHeader(uint64(len(records)), minKey, maxKey)
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("sstable: write header: %w", err)
	}

	offset := uint64(len(header))
	idx := &indexBuilder{}
	var buf bytes.Buffer
	for i, rec := range records {
		if i%IndexInterval == 0 {
			idx.add(rec.Key, offset)
		}
		buf.Reset()
		encodeRecord(&buf, rec)
		n, err := f.Write(buf.Bytes())
		if err != nil {
			return fmt.Errorf("sstable: write record: %w", err)
		}
		offset += uint64(n)
	}

	indexBytes := idx.encode()
	indexOffset := offset
	if _, err := f.Write(indexBytes); err != nil {
		return fmt.Errorf("sstable: write index: %w", err)
	}
	indexCRC := crc32.ChecksumIEEE(indexBytes)

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint64(footer[0:8], indexOffset)
	binary.LittleEndian.PutUint32(footer[8:12], indexCRC)
	footerCRC := crc32.ChecksumIEEE(footer[:12])
	binary.LittleEndian.PutUint32(footer[12:16], footerCRC)
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("sstable: write footer: %w", err)
	}
	return nil
}

// encodeHeader builds: magic u32 | version u32 | record_count u64 |
// min_key_len u32 | min_key | max_key_len u32 | max_key.
func encodeHeader(count uint64, minKey, maxKey []byte) []byte {
	var buf bytes.Buffer
	var u32 [4]byte
	var u64 [8]byte

	binary.LittleEndian.PutUint32(u32[:], Magic)
	buf.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], FormatVersion)
	buf.Write(u32[:])
	binary.LittleEndian.PutUint64(u64[:], count)
	buf.Write(u64[:])

	binary.LittleEndian.PutUint32(u32[:], uint32(len(minKey)))
	buf.Write(u32[:])
	buf.Write(minKey)
	binary.LittleEndian.PutUint32(u32[:], uint32(len(maxKey)))
	buf.Write(u32[:])
	buf.Write(maxKey)

	return buf.Bytes()
}

// encodeRecord appends key_len u32 | key | value_len u32 | value |
// sequence u64 to buf.
func encodeRecord(buf *bytes.Buffer, rec Entry) {
	var u32 [4]byte
	var u64 [8]byte

	binary.LittleEndian.PutUint32(u32[:], uint32(len(rec.Key)))
	buf.Write(u32[:])
	buf.Write(rec.Key)
	binary.LittleEndian.PutUint32(u32[:], uint32(len(rec.Value)))
	buf.Write(u32[:])
	buf.Write(rec.Value)
	binary.LittleEndian.PutUint64(u64[:], rec.Sequence)
	buf.Write(u64[:])
}
