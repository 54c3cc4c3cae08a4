// Package collection implements the node-level collection manager (spec
// §4.6): it holds N independent engines keyed by an opaque collection id,
// persists each collection's metadata and the node-wide name registry, and
// forwards data operations to the right engine.
package collection

import (
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/google/uuid"

	"github.com/blockdb/blockdb/core"
	"github.com/blockdb/blockdb/engine"
	"github.com/blockdb/blockdb/sys"
)

// Stats is one collection's externally visible statistics (spec §4.6).
// It carries no operations count or last-updated time.
type Stats struct {
	RecordCount     uint64
	TotalSizeBytes  int64
	SSTableCount    int
	ChainBlockCount int
	LastSequence    uint64
}

// record bundles one collection's metadata with its live engine handle.
type record struct {
	meta Metadata
	eng  *engine.Engine
	dir  string

	opsMu sync.Mutex
	ops   uint64 // operations_count, incremented on every successful put and every get
}

// Manager owns every collection on a node: the in-memory map, the
// per-collection metadata files, and the registry.json that lists known
// (id, name) pairs (spec §6). Open still scans every subdirectory of the
// collections root; it does not read the registry to find collections.
type Manager struct {
	mu         sync.RWMutex
	fs         sys.FS
	dir        string // collections root, e.g. "<data_dir>/collections"
	log        *slog.Logger
	engineOpts engine.Options // template; DataDir is overridden per collection

	byID   map[string]*record
	byName map[string]string // name -> id
}

// ManagerOptions configures a new Manager.
type ManagerOptions struct {
	// Dir is the collections root directory.
	Dir string
	// EngineOptions is applied to every collection's engine, with DataDir
	// overridden to that collection's own subdirectory.
	EngineOptions engine.Options
}

// NewManager constructs a Manager rooted at opts.Dir. Call Open to load
// existing collections from disk.
func NewManager(fs sys.FS, opts ManagerOptions) *Manager {
	return &Manager{
		fs:         fs,
		dir:        opts.Dir,
		log:        slog.Default().With("component", "collection.Manager", "dir", opts.Dir),
		engineOpts: opts.EngineOptions,
		byID:       make(map[string]*record),
		byName:     make(map[string]string),
	}
}

func (m *Manager) registryPath() string { return path.Join(m.dir, "registry.json") }

func (m *Manager) collectionDir(id string) string { return path.Join(m.dir, id) }

func (m *Manager) metadataPath(id string) string { return path.Join(m.collectionDir(id), "metadata") }

// Open scans the collections directory and loads every subdirectory with a
// valid metadata file, then reconciles the registry against what it found:
// per spec §6, "a registry/directory discrepancy is resolved by trusting
// the directory contents... and rewriting the registry."
func (m *Manager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fs.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("collection: mkdir %s: %w", m.dir, err)
	}

	entries, err := m.fs.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("collection: readdir %s: %w", m.dir, err)
	}

	var discrepancy bool
	registered, regErr := loadRegistry(m.fs, m.registryPath())
	if regErr != nil {
		m.log.Warn("registry unreadable, rebuilding from directory contents", "error", regErr)
		discrepancy = true
	}
	registeredByID := make(map[string]registryEntry, len(registered))
	for _, r := range registered {
		registeredByID[r.ID] = r
	}

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		id := ent.Name()
		meta, err := readMetadataFile(m.fs, id, m.metadataPath(id))
		if err != nil {
			m.log.Warn("skipping collection with unreadable metadata", "id", id, "error", err)
			continue
		}

		eng, err := engine.Open(m.fs, m.engineOptionsFor(id))
		if err != nil {
			return fmt.Errorf("collection: open engine %s: %w", id, err)
		}

		m.byID[id] = &record{meta: meta, eng: eng, dir: m.collectionDir(id)}
		m.byName[meta.Name] = id

		if _, ok := registeredByID[id]; !ok {
			discrepancy = true
		}
	}

	for id := range registeredByID {
		if _, ok := m.byID[id]; !ok {
			discrepancy = true
		}
	}

	if discrepancy {
		if err := m.rewriteRegistryLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) clock() core.Clock {
	if m.engineOpts.Clock == nil {
		return core.SystemClock
	}
	return m.engineOpts.Clock
}

func (m *Manager) engineOptionsFor(id string) engine.Options {
	opts := m.engineOpts
	opts.DataDir = m.collectionDir(id)
	return opts
}

func (m *Manager) rewriteRegistryLocked() error {
	entries := make([]registryEntry, 0, len(m.byID))
	for id, rec := range m.byID {
		entries = append(entries, registryEntry{ID: id, Name: rec.meta.Name})
	}
	return persistRegistry(m.fs, m.registryPath(), entries)
}

// Create allocates a new collection: checks name uniqueness, assigns a
// "col_"+uuid id (matching the original implementation's convention),
// creates the directory, persists metadata, opens the engine, and updates
// the registry.
func (m *Manager) Create(name string, schemaBlob, settingsBlob []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[name]; exists {
		return "", core.ErrDuplicateName
	}

	id := "col_" + uuid.New().String()
	dir := m.collectionDir(id)
	if err := m.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("collection: mkdir %s: %w", dir, err)
	}

	meta := Metadata{
		ID:           id,
		Name:         name,
		CreatedAtMs:  uint64(m.clock().Now().UnixMilli()),
		SchemaBlob:   schemaBlob,
		SettingsBlob: settingsBlob,
	}
	if err := writeMetadataFile(m.fs, m.metadataPath(id), meta); err != nil {
		return "", err
	}

	eng, err := engine.Open(m.fs, m.engineOptionsFor(id))
	if err != nil {
		return "", fmt.Errorf("collection: open engine %s: %w", id, err)
	}

	m.byID[id] = &record{meta: meta, eng: eng, dir: dir}
	m.byName[name] = id
	if err := m.rewriteRegistryLocked(); err != nil {
		return "", err
	}
	return id, nil
}

// Drop closes the collection's engine and removes its entire directory
// tree. Fails with core.ErrNotFound if absent.
func (m *Manager) Drop(collectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[collectionID]
	if !ok {
		return core.ErrNotFound
	}
	if err := rec.eng.Close(); err != nil {
		m.log.Warn("error closing engine during drop", "id", collectionID, "error", err)
	}
	if err := m.fs.RemoveAll(rec.dir); err != nil {
		return fmt.Errorf("collection: remove %s: %w", rec.dir, err)
	}

	delete(m.byID, collectionID)
	delete(m.byName, rec.meta.Name)
	return m.rewriteRegistryLocked()
}

// List returns the metadata for every known collection.
func (m *Manager) List() []Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Metadata, 0, len(m.byID))
	for _, rec := range m.byID {
		out = append(out, rec.meta)
	}
	return out
}

func (m *Manager) lookup(collectionID string) (*record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[collectionID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return rec, nil
}

// Get returns the engine handle for collectionID.
func (m *Manager) Get(collectionID string) (*engine.Engine, error) {
	rec, err := m.lookup(collectionID)
	if err != nil {
		return nil, err
	}
	return rec.eng, nil
}

// GetByName resolves a collection name to its id, then its engine handle.
func (m *Manager) GetByName(name string) (string, *engine.Engine, error) {
	m.mu.RLock()
	id, ok := m.byName[name]
	m.mu.RUnlock()
	if !ok {
		return "", nil, core.ErrNotFound
	}
	eng, err := m.Get(id)
	return id, eng, err
}

// Put forwards a put to collectionID's engine (spec §4.6 "data ops
// forwarded").
func (m *Manager) Put(collectionID string, key, value []byte) error {
	rec, err := m.lookup(collectionID)
	if err != nil {
		return err
	}
	if err := rec.eng.Put(key, value); err != nil {
		return err
	}
	rec.opsMu.Lock()
	rec.ops++
	rec.opsMu.Unlock()
	return nil
}

// GetValue forwards a get to collectionID's engine.
func (m *Manager) GetValue(collectionID string, key []byte) ([]byte, bool, error) {
	rec, err := m.lookup(collectionID)
	if err != nil {
		return nil, false, err
	}
	v, found, err := rec.eng.Get(key)
	rec.opsMu.Lock()
	rec.ops++
	rec.opsMu.Unlock()
	return v, found, err
}

// lowDiskWarnBytes is the free-space threshold below which Flush and
// FlushAll log a warning before touching disk: a flush writes a new
// SSTable and FlushAll rewrites the chain from genesis, and this node has
// no replica to fail over to if either runs out of room mid-write.
const lowDiskWarnBytes = 64 << 20

// checkDiskUsage reports the collections root's free/total bytes, warning
// if free space is low. Never fails the caller: a disk usage query that
// errors is logged and ignored rather than blocking the flush it was
// meant to guard.
func (m *Manager) checkDiskUsage() {
	free, total, err := DiskUsage(m.dir)
	if err != nil {
		m.log.Debug("disk usage check failed", "error", err)
		return
	}
	if free < lowDiskWarnBytes {
		m.log.Warn("low disk space ahead of flush", "free_bytes", free, "total_bytes", total)
	}
}

// Flush forwards a flush to collectionID's engine.
func (m *Manager) Flush(collectionID string) error {
	rec, err := m.lookup(collectionID)
	if err != nil {
		return err
	}
	m.checkDiskUsage()
	return rec.eng.Flush()
}

// FlushAll forwards a destructive flush_all to collectionID's engine.
func (m *Manager) FlushAll(collectionID string) error {
	rec, err := m.lookup(collectionID)
	if err != nil {
		return err
	}
	m.checkDiskUsage()
	return rec.eng.FlushAll()
}

// Verify forwards a chain verification request to collectionID's engine.
func (m *Manager) Verify(collectionID string) (bool, error) {
	rec, err := m.lookup(collectionID)
	if err != nil {
		return false, err
	}
	return rec.eng.VerifyIntegrity(), nil
}

// CollectionStats reports record_count, total_size_bytes, SSTable count,
// chain block count and last sequence for collectionID. It does not report
// an operations count or a last-updated time.
func (m *Manager) CollectionStats(collectionID string) (Stats, error) {
	rec, err := m.lookup(collectionID)
	if err != nil {
		return Stats{}, err
	}
	s := rec.eng.Stats()
	return Stats{
		RecordCount:     s.RecordCount,
		TotalSizeBytes:  s.Bytes,
		SSTableCount:    s.SSTableCount,
		ChainBlockCount: s.ChainBlockCount,
		LastSequence:    s.LastSequence,
	}, nil
}

// CreateIndex records an index definition into collectionID's metadata.
// The core engine never reads it back; it exists purely so a higher layer
// can discover what indexes it is responsible for maintaining (spec §4.6).
func (m *Manager) CreateIndex(collectionID, indexName string, indexSpec []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[collectionID]
	if !ok {
		return core.ErrNotFound
	}
	for _, idx := range rec.meta.Indexes {
		if idx.Name == indexName {
			return fmt.Errorf("collection: index %q already exists", indexName)
		}
	}
	rec.meta.Indexes = append(rec.meta.Indexes, IndexDef{Name: indexName, Spec: indexSpec})
	return writeMetadataFile(m.fs, m.metadataPath(collectionID), rec.meta)
}

// DropIndex removes an index definition from collectionID's metadata.
func (m *Manager) DropIndex(collectionID, indexName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[collectionID]
	if !ok {
		return core.ErrNotFound
	}
	out := rec.meta.Indexes[:0]
	found := false
	for _, idx := range rec.meta.Indexes {
		if idx.Name == indexName {
			found = true
			continue
		}
		out = append(out, idx)
	}
	if !found {
		return core.ErrNotFound
	}
	rec.meta.Indexes = out
	return writeMetadataFile(m.fs, m.metadataPath(collectionID), rec.meta)
}

// Close closes every collection's engine.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, rec := range m.byID {
		if err := rec.eng.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("collection: close %s: %w", id, err)
		}
	}
	return firstErr
}
