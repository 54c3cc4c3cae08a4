// Package levels owns the on-disk SSTable set for one collection: it is
// the single authoritative ordered list behind a read-write lock that
// Design Notes §9 calls for, shared between the writer (flush), the
// background compaction worker, and readers.
package levels

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blockdb/blockdb/sstable"
	"github.com/blockdb/blockdb/sys"
)

// handle wraps an open Table with a retain count: a table is only removed
// from disk once no reader holds it (spec §5's "cyclic or shared
// ownership" resolution).
type handle struct {
	table      *sstable.Table
	level      int
	creation   uint64
	retain     int
	pendingDel bool
}

// Manager tracks every live SSTable for one collection, grouped by level.
type Manager struct {
	mu      sync.RWMutex
	fs      sys.FS
	dir     string // "<collection dir>/sst"
	byID    map[string]*handle
	deleted map[string]*handle // superseded tables still held by a reader

	nextCreationSeq uint64
}

// New returns an empty Manager rooted at dir. Call Load to populate it
// from existing files on disk.
func New(fs sys.FS, dir string) *Manager {
	return &Manager{fs: fs, dir: dir, byID: make(map[string]*handle), deleted: make(map[string]*handle)}
}

// Dir returns the directory holding this collection's SSTable files.
func (m *Manager) Dir() string { return m.dir }

// filename returns "<level>-<creationSeq>.sst" under m.dir.
func (m *Manager) filename(level int, creationSeq uint64) string {
	return path.Join(m.dir, fmt.Sprintf("%d-%d.sst", level, creationSeq))
}

// Load opens every *.sst file under m.dir. Files that fail header, index,
// or footer verification are quarantined (renamed with a .corrupt suffix)
// and skipped, per spec §4.5 recovery step 2.
func (m *Manager) Load() (quarantined []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fs.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("levels: mkdir %s: %w", m.dir, err)
	}
	entries, err := m.fs.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("levels: readdir %s: %w", m.dir, err)
	}

	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasSuffix(name, ".sst") {
			continue
		}
		level, creation, ok := parseFilename(name)
		if !ok {
			continue
		}
		full := path.Join(m.dir, name)
		table, openErr := sstable.Open(m.fs, full)
		if openErr != nil {
			corrupt := full + ".corrupt"
			if renameErr := m.fs.Rename(full, corrupt); renameErr == nil {
				quarantined = append(quarantined, corrupt)
			}
			continue
		}
		m.byID[full] = &handle{table: table, level: level, creation: creation}
		if creation >= m.nextCreationSeq {
			m.nextCreationSeq = creation + 1
		}
	}
	return quarantined, nil
}

func parseFilename(name string) (level int, creation uint64, ok bool) {
	base := strings.TrimSuffix(name, ".sst")
	parts := strings.SplitN(base, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	l, err1 := strconv.Atoi(parts[0])
	c, err2 := strconv.ParseUint(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return l, c, true
}

// NextCreationSeq reserves and returns the next creation sequence number,
// used to name a new SSTable file before it is written.
func (m *Manager) NextCreationSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.nextCreationSeq
	m.nextCreationSeq++
	return seq
}

// Path returns the filename CreateFrom should write to for a new table at
// level with the given creation sequence.
func (m *Manager) Path(level int, creationSeq uint64) string {
	return m.filename(level, creationSeq)
}

// Publish registers a newly-written, already-fsynced SSTable file. The
// writer (flush or compaction) calls this once the file is durable on
// disk.
func (m *Manager) Publish(level int, creationSeq uint64) error {
	full := m.filename(level, creationSeq)
	table, err := sstable.Open(m.fs, full)
	if err != nil {
		return fmt.Errorf("levels: open published table %s: %w", full, err)
	}

	m.mu.Lock()
	m.byID[full] = &handle{table: table, level: level, creation: creationSeq}
	m.mu.Unlock()
	return nil
}

// Remove marks the tables at paths as superseded. A table with zero
// current readers is deleted immediately; otherwise it is deleted when
// its last reader calls Release.
func (m *Manager) Remove(paths []string) error {
	m.mu.Lock()
	var toDelete []string
	for _, p := range paths {
		h, ok := m.byID[p]
		if !ok {
			continue
		}
		delete(m.byID, p)
		if h.retain == 0 {
			toDelete = append(toDelete, p)
		} else {
			h.pendingDel = true
			m.deleted[p] = h
		}
	}
	m.mu.Unlock()

	for _, p := range toDelete {
		if err := m.fs.Remove(p); err != nil {
			return fmt.Errorf("levels: remove %s: %w", p, err)
		}
	}
	return nil
}

// Clear unconditionally removes every tracked table's file, regardless of
// retain count, and forgets all of them. Used only by flush_all, whose
// destructiveness is explicitly the caller's responsibility (spec §4.3).
func (m *Manager) Clear() error {
	m.mu.Lock()
	var paths []string
	for p := range m.byID {
		paths = append(paths, p)
	}
	for p := range m.deleted {
		paths = append(paths, p)
	}
	m.byID = make(map[string]*handle)
	m.deleted = make(map[string]*handle)
	m.mu.Unlock()

	for _, p := range paths {
		if err := m.fs.Remove(p); err != nil {
			return fmt.Errorf("levels: remove %s: %w", p, err)
		}
	}
	return nil
}

// Count returns the number of live tables at level.
func (m *Manager) Count(level int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, h := range m.byID {
		if h.level == level {
			n++
		}
	}
	return n
}

// TotalCount returns the number of live tables across all levels.
func (m *Manager) TotalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// snapshot is an acquired, read-safe view of a table: the caller must call
// Release when done.
type Snapshot struct {
	Table *sstable.Table
	path  string
	mgr   *Manager
}

// Release decrements the retain count, deleting the underlying file if it
// was superseded by compaction while held.
func (s *Snapshot) Release() {
	s.mgr.release(s.path)
}

func (m *Manager) release(p string) {
	m.mu.Lock()
	h, ok := m.deleted[p]
	if !ok {
		h, ok = m.byID[p]
	}
	if !ok {
		m.mu.Unlock()
		return
	}
	h.retain--
	shouldDelete := h.pendingDel && h.retain <= 0
	if shouldDelete {
		delete(m.deleted, p)
	}
	m.mu.Unlock()

	if shouldDelete {
		m.fs.Remove(p)
	}
}

// AllTables returns a snapshot of every live table, acquired so none of
// them can be deleted out from under the caller until Release is called.
// Ordering does not matter for correctness here: invariant I1 guarantees a
// key lives in at most one table at a time, so Get never needs to prefer
// one table's hit over another's.
func (m *Manager) AllTables() []*Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := make([]*Snapshot, 0, len(m.byID))
	paths := make([]string, 0, len(m.byID))
	for p := range m.byID {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		h := m.byID[p]
		h.retain++
		snaps = append(snaps, &Snapshot{Table: h.table, path: p, mgr: m})
	}
	return snaps
}

// TablesAtLevel returns the live tables at level, ordered by creation
// sequence, for use by the compaction picker.
func (m *Manager) TablesAtLevel(level int) []*sstable.Table {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type pair struct {
		creation uint64
		path     string
	}
	var pairs []pair
	for p, h := range m.byID {
		if h.level == level {
			pairs = append(pairs, pair{h.creation, p})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].creation < pairs[j].creation })

	tables := make([]*sstable.Table, len(pairs))
	for i, p := range pairs {
		tables[i] = m.byID[p.path].table
	}
	return tables
}

// PathsAtLevel returns the file paths backing TablesAtLevel(level), in the
// same order, for use when removing compaction inputs.
func (m *Manager) PathsAtLevel(level int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type pair struct {
		creation uint64
		path     string
	}
	var pairs []pair
	for p, h := range m.byID {
		if h.level == level {
			pairs = append(pairs, pair{h.creation, p})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].creation < pairs[j].creation })

	paths := make([]string, len(pairs))
	for i, p := range pairs {
		paths[i] = p.path
	}
	return paths
}
