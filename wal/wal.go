package wal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blockdb/blockdb/sys"
)

// SyncMode controls when Append's durability guarantee is met.
type SyncMode int

const (
	// SyncDurable fsyncs the active segment before Append returns.
	SyncDurable SyncMode = iota
	// SyncBuffered acknowledges as soon as the frame is handed to the OS;
	// the caller must call Sync explicitly to make buffered frames
	// durable (SyncInterval does this on a timer).
	SyncBuffered
	// SyncInterval acknowledges the same way SyncBuffered does, but the
	// engine runs a background timer that calls Sync periodically, so an
	// Append is durable no later than one tick after it returns rather
	// than only on segment rotation or an explicit Sync call.
	SyncInterval
)

// Options configures a WAL.
type Options struct {
	Dir            string
	SyncMode       SyncMode
	MaxSegmentSize int64
}

const defaultMaxSegmentSize = 64 * 1024 * 1024

// WAL is the append-only, segmented write-ahead log for one collection.
// At most one writer (the engine's write path) ever calls Append. Frames
// are read back only by Open's replay callback — recovery happens once,
// before the engine accepts puts.
type WAL struct {
	mu       sync.Mutex
	fs       sys.FS
	dir      string
	syncMode SyncMode
	maxSize  int64

	segments []*segment // ordered by id ascending; last is active
}

// Open discovers existing segments, replays every valid frame in order by
// calling replay, and prepares a (possibly new) active segment for
// appending. Replay stops at the first corrupt frame; that segment is
// truncated to its last valid byte and no later segment is replayed,
// matching the "stop at first invalid frame" rule in spec §4.1.
func Open(fs sys.FS, opts Options, replay func(Frame) error) (*WAL, error) {
	if opts.MaxSegmentSize == 0 {
		opts.MaxSegmentSize = defaultMaxSegmentSize
	}
	if err := fs.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("wal: mkdir %s: %w", opts.Dir, err)
	}

	w := &WAL{fs: fs, dir: opts.Dir, syncMode: opts.SyncMode, maxSize: opts.MaxSegmentSize}

	ids, err := listSegmentIDs(fs, opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("wal: list segments %s: %w", opts.Dir, err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	stopped := false
	for _, id := range ids {
		seg, err := openSegmentForAppend(fs, opts.Dir, id)
		if err != nil {
			return nil, err
		}
		w.segments = append(w.segments, seg)
		if stopped {
			continue
		}

		data := make([]byte, seg.size)
		if seg.size > 0 {
			if _, err := seg.f.ReadAt(data, 0); err != nil {
				return nil, fmt.Errorf("wal: read segment %s: %w", seg.path, err)
			}
		}

		consumed := 0
		for consumed < len(data) {
			frame, n, derr := decodeFrame(data[consumed:])
			if derr != nil {
				stopped = true
				break
			}
			if seg.hasFrames && frame.Sequence <= seg.maxSeq {
				return nil, fmt.Errorf("wal: segment %s: sequence went backwards at %d", seg.path, frame.Sequence)
			}
			if !seg.hasFrames {
				seg.minSeq = frame.Sequence
				seg.hasFrames = true
			}
			seg.maxSeq = frame.Sequence
			if replay != nil {
				if err := replay(frame); err != nil {
					return nil, err
				}
			}
			consumed += n
		}
		if consumed < len(data) {
			if err := seg.f.Truncate(int64(consumed)); err != nil {
				return nil, fmt.Errorf("wal: truncate %s: %w", seg.path, err)
			}
			seg.size = int64(consumed)
			stopped = true
		}
	}

	if len(w.segments) == 0 {
		seg, err := openSegmentForAppend(fs, opts.Dir, 0)
		if err != nil {
			return nil, err
		}
		w.segments = append(w.segments, seg)
	}

	return w, nil
}

func (w *WAL) active() *segment { return w.segments[len(w.segments)-1] }

// Append serializes and writes a frame to the active segment, rotating to
// a new segment first if the frame would exceed the configured bound. It
// returns the byte offset within the active segment the frame was written
// at. In SyncDurable mode it fsyncs before returning.
func (w *WAL) Append(sequence uint64, key, value []byte, timestampMs uint64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	frame := encodeFrame(sequence, key, value, timestampMs)
	if int64(len(frame)) > w.maxSize {
		return 0, ErrWalFull
	}

	active := w.active()
	if active.size+int64(len(frame)) > w.maxSize {
		if err := active.f.Sync(); err != nil {
			return 0, fmt.Errorf("wal: fsync %s before rotate: %w", active.path, err)
		}
		next, err := openSegmentForAppend(w.fs, w.dir, active.id+1)
		if err != nil {
			return 0, err
		}
		w.segments = append(w.segments, next)
		active = next
	}

	offset := active.size
	if _, err := active.f.Write(frame); err != nil {
		return 0, fmt.Errorf("wal: append %s: %w", active.path, err)
	}
	if !active.hasFrames {
		active.minSeq = sequence
		active.hasFrames = true
	}
	active.maxSeq = sequence
	active.size += int64(len(frame))

	if w.syncMode == SyncDurable {
		if err := active.f.Sync(); err != nil {
			return 0, fmt.Errorf("wal: fsync %s: %w", active.path, err)
		}
	}
	return offset, nil
}

// Sync flushes the active segment to stable storage. Call this explicitly
// after a batch of SyncBuffered appends to upgrade them to durable.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.active().f.Sync(); err != nil {
		return fmt.Errorf("wal: fsync %s: %w", w.active().path, err)
	}
	return nil
}

// TruncateBefore removes every segment whose highest sequence is strictly
// less than sequence — i.e. segments made wholly redundant by a flush
// whose output covers them, per spec §4.1's "never partial" rule.
func (w *WAL) TruncateBefore(sequence uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var keep []*segment
	for _, seg := range w.segments {
		if seg == w.active() || !seg.hasFrames || seg.maxSeq >= sequence {
			keep = append(keep, seg)
			continue
		}
		if err := seg.f.Close(); err != nil {
			return fmt.Errorf("wal: close %s: %w", seg.path, err)
		}
		if err := w.fs.Remove(seg.path); err != nil {
			return fmt.Errorf("wal: remove %s: %w", seg.path, err)
		}
	}
	w.segments = keep
	return nil
}

// Clear removes every segment and starts a fresh, empty one. Used only by
// flush_all.
func (w *WAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, seg := range w.segments {
		seg.f.Close()
		w.fs.Remove(seg.path)
	}
	seg, err := openSegmentForAppend(w.fs, w.dir, 0)
	if err != nil {
		return err
	}
	w.segments = []*segment{seg}
	return nil
}

// Close closes every open segment handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for _, seg := range w.segments {
		if err := seg.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
