package wal

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/blockdb/blockdb/sys"
)

// segment is one "wal/<segment_id>.log" file. Segments are immutable once
// rotated away from; the active segment is the only one ever appended to.
type segment struct {
	id   uint64
	path string
	f    sys.File
	size int64

	minSeq, maxSeq uint64
	hasFrames      bool
}

func segmentPath(dir string, id uint64) string {
	return path.Join(dir, fmt.Sprintf("%020d.log", id))
}

func openSegmentForAppend(fs sys.FS, dir string, id uint64) (*segment, error) {
	p := segmentPath(dir, id)
	f, err := fs.OpenFile(p, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment %s: %w", p, err)
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat segment %s: %w", p, err)
	}
	return &segment{id: id, path: p, f: f, size: size}, nil
}

func listSegmentIDs(fs sys.FS, dir string) ([]uint64, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, ".log"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
