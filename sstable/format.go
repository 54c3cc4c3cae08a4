// Package sstable implements the immutable, sorted on-disk run produced by
// a MemTable flush or by compaction (spec §4.3). An SSTable is: a fixed
// header, a data region of length-prefixed records in ascending key order,
// a sparse index (every Kth key), and a footer pointing at the index.
package sstable

import "errors"

// Magic is the four-byte file identifier written at the start of every
// SSTable. Its hex digits spell ASCII "BLKD"; it is stored little-endian,
// so the file's first four bytes read "DKLB".
const Magic uint32 = 0x424C4B44

// FormatVersion is the on-disk format version written in the header.
const FormatVersion uint32 = 1

// IndexInterval controls the sparse index density: every IndexIntervalth
// record gets an index entry (spec §4.3, "one entry per ~4 KiB block").
const IndexInterval = 64

var (
	// ErrNotFound is returned by Get when the key is absent from this table.
	ErrNotFound = errors.New("sstable: key not found")
	// ErrCorrupt is returned when a header, index, or footer checksum fails.
	ErrCorrupt = errors.New("sstable: corrupt file")
)

// FooterSize is the fixed size of the trailer written as the last bytes of
// the file: index_offset u64 | index_crc32 u32 | footer_crc32 u32.
const FooterSize = 8 + 4 + 4
