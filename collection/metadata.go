package collection

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	stdpath "path"

	"github.com/blockdb/blockdb/core"
	"github.com/blockdb/blockdb/sys"
)

const metadataVersion uint32 = 1

// IndexDef is a metadata-only secondary index declaration (spec §4.6): the
// core engine never reads it, it is surfaced to higher layers that choose
// to maintain it themselves.
type IndexDef struct {
	Name string
	Spec []byte
}

// Metadata is the persisted record for one collection: name, creation
// time, optional schema descriptor, and settings, per spec §6's metadata
// file layout.
type Metadata struct {
	ID           string
	Name         string
	CreatedAtMs  uint64
	CreatedBy    string
	SchemaBlob   []byte
	SettingsBlob []byte
	Indexes      []IndexDef
}

// encodeMetadata serializes m into the on-disk metadata format: version
// (u32), name (length-prefixed UTF-8), created_at_ms (u64), created_by
// (length-prefixed, possibly empty), schema blob (length-prefixed,
// possibly empty), settings blob (length-prefixed), index count (u32)
// and each index's name and spec (both length-prefixed), followed by a
// CRC-32 trailer over everything before it. ID is not part of the body;
// it is implied by the containing directory name.
func encodeMetadata(m Metadata) []byte {
	var buf []byte
	buf = appendU32(buf, metadataVersion)
	buf = appendLenPrefixed(buf, []byte(m.Name))
	buf = appendU64(buf, m.CreatedAtMs)
	buf = appendLenPrefixed(buf, []byte(m.CreatedBy))
	buf = appendLenPrefixed(buf, m.SchemaBlob)
	buf = appendLenPrefixed(buf, m.SettingsBlob)

	buf = appendU32(buf, uint32(len(m.Indexes)))
	for _, idx := range m.Indexes {
		buf = appendLenPrefixed(buf, []byte(idx.Name))
		buf = appendLenPrefixed(buf, idx.Spec)
	}

	crc := crc32.ChecksumIEEE(buf)
	buf = appendU32(buf, crc)
	return buf
}

func decodeMetadata(id string, data []byte) (Metadata, error) {
	if len(data) < 4 {
		return Metadata{}, fmt.Errorf("collection: %w: metadata too short", core.ErrCorruptFrame)
	}
	body := data[:len(data)-4]
	trailer := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != trailer {
		return Metadata{}, fmt.Errorf("collection: %w: metadata checksum mismatch", core.ErrCorruptFrame)
	}

	off := 0
	version, off, err := readU32(body, off)
	if err != nil {
		return Metadata{}, err
	}
	if version != metadataVersion {
		return Metadata{}, fmt.Errorf("collection: %w: unsupported metadata version %d", core.ErrCorruptFrame, version)
	}

	name, off, err := readLenPrefixed(body, off)
	if err != nil {
		return Metadata{}, err
	}
	createdAtMs, off, err := readU64(body, off)
	if err != nil {
		return Metadata{}, err
	}
	createdBy, off, err := readLenPrefixed(body, off)
	if err != nil {
		return Metadata{}, err
	}
	schema, off, err := readLenPrefixed(body, off)
	if err != nil {
		return Metadata{}, err
	}
	settings, off, err := readLenPrefixed(body, off)
	if err != nil {
		return Metadata{}, err
	}
	indexCount, off, err := readU32(body, off)
	if err != nil {
		return Metadata{}, err
	}
	indexes := make([]IndexDef, 0, indexCount)
	for i := uint32(0); i < indexCount; i++ {
		var idxName, idxSpec []byte
		idxName, off, err = readLenPrefixed(body, off)
		if err != nil {
			return Metadata{}, err
		}
		idxSpec, off, err = readLenPrefixed(body, off)
		if err != nil {
			return Metadata{}, err
		}
		indexes = append(indexes, IndexDef{Name: string(idxName), Spec: idxSpec})
	}

	return Metadata{
		ID:           id,
		Name:         string(name),
		CreatedAtMs:  createdAtMs,
		CreatedBy:    string(createdBy),
		SchemaBlob:   schema,
		SettingsBlob: settings,
		Indexes:      indexes,
	}, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLenPrefixed(buf, field []byte) []byte {
	buf = appendU32(buf, uint32(len(field)))
	return append(buf, field...)
}

func readU32(data []byte, off int) (uint32, int, error) {
	if off+4 > len(data) {
		return 0, 0, fmt.Errorf("collection: %w: truncated u32", core.ErrCorruptFrame)
	}
	return binary.LittleEndian.Uint32(data[off : off+4]), off + 4, nil
}

func readU64(data []byte, off int) (uint64, int, error) {
	if off+8 > len(data) {
		return 0, 0, fmt.Errorf("collection: %w: truncated u64", core.ErrCorruptFrame)
	}
	return binary.LittleEndian.Uint64(data[off : off+8]), off + 8, nil
}

func readLenPrefixed(data []byte, off int) ([]byte, int, error) {
	n, off, err := readU32(data, off)
	if err != nil {
		return nil, 0, err
	}
	if off+int(n) > len(data) {
		return nil, 0, fmt.Errorf("collection: %w: truncated field", core.ErrCorruptFrame)
	}
	return data[off : off+int(n)], off + int(n), nil
}

// writeMetadataFile writes m to path using a temp-file-then-rename swap, so
// a crash mid-write never leaves a half-written metadata file in place.
func writeMetadataFile(fs sys.FS, path string, m Metadata) error {
	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("collection: create %s: %w", tmp, err)
	}
	if _, err := f.Write(encodeMetadata(m)); err != nil {
		f.Close()
		return fmt.Errorf("collection: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("collection: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("collection: close %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("collection: rename %s: %w", tmp, err)
	}
	if dir := stdpath.Dir(path); dir != "" {
		if err := fs.SyncDir(dir); err != nil {
			return fmt.Errorf("collection: fsync dir of %s: %w", path, err)
		}
	}
	return nil
}

func readMetadataFile(fs sys.FS, id, path string) (Metadata, error) {
	f, err := fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()
	size, err := f.Size()
	if err != nil {
		return Metadata{}, err
	}
	data := make([]byte, size)
	if size > 0 {
		if _, err := f.ReadAt(data, 0); err != nil {
			return Metadata{}, err
		}
	}
	return decodeMetadata(id, data)
}
