// Package memtable implements the in-memory, ordered staging buffer for
// recently appended records (spec §4.2). Unlike a general LSM memtable, a
// BlockDB MemTable never resolves conflicting versions of a key: at most
// one record may ever occupy a given key, so Insert is a strict
// insert-or-reject rather than an upsert.
package memtable

import (
	"bytes"
	"sync"

	"github.com/INLOpen/skiplist"

	"github.com/blockdb/blockdb/core"
)

// entryOverhead approximates the per-entry bookkeeping cost (skiplist node
// pointers, Go slice headers) added on top of the raw key+value bytes when
// estimating ApproxBytes.
const entryOverhead = 48

// memKey wraps the raw key so the skiplist's generic key type is a
// comparable pointer, mirroring the teacher's MemtableKey wrapper in
// memtable/memtable.go rather than using []byte directly as a type
// parameter.
type memKey struct {
	key []byte
}

// entry is the value stored in the skiplist: everything needed to answer
// Get and to rebuild a Record on flush.
type entry struct {
	key         []byte
	sequence    uint64
	value       []byte
	timestampMs uint64
}

func comparator(a, b *memKey) int { return bytes.Compare(a.key, b.key) }

// MemTable is an ordered key -> (sequence, value) buffer bounded in bytes.
// It has two lifecycle states: active (accepts writes, is queried) and
// immutable (flush-in-progress; queried only). The state itself is tracked
// by the engine, which atomically swaps in a new active MemTable and moves
// the sealed one to its immutable list — MemTable only exposes Seal() so
// a writer accidentally racing a flush fails loudly instead of silently
// corrupting the flush's snapshot.
type MemTable struct {
	mu     sync.RWMutex
	data   *skiplist.SkipList[*memKey, *entry]
	bytes  int64
	sealed bool
}

// New returns an empty, active MemTable.
func New() *MemTable {
	return &MemTable{data: skiplist.NewWithComparator[*memKey, *entry](comparator)}
}

// Insert adds a record to the table. It returns core.ErrDuplicateKey if the
// key is already present — this is the advisory half of invariant I1; the
// engine separately checks SSTables before ever calling Insert.
func (m *MemTable) Insert(key []byte, sequence uint64, value []byte, timestampMs uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed {
		return core.ErrClosed
	}
	// Seek lands on the first key >= the target, so only an equal key is a
	// duplicate.
	if node, ok := m.data.Seek(&memKey{key: key}); ok && node != nil && bytes.Equal(node.Value().key, key) {
		return core.ErrDuplicateKey
	}

	k := append([]byte(nil), key...)
	e := &entry{key: k, sequence: sequence, value: value, timestampMs: timestampMs}
	m.data.Insert(&memKey{key: k}, e)
	m.bytes += int64(len(key)+len(value)) + entryOverhead
	return nil
}

// Get returns the (sequence, value, timestamp) for key, if present.
func (m *MemTable) Get(key []byte) (sequence uint64, value []byte, timestampMs uint64, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.data.Seek(&memKey{key: key})
	if !ok || node == nil || !bytes.Equal(node.Value().key, key) {
		return 0, nil, 0, false
	}
	e := node.Value()
	return e.sequence, e.value, e.timestampMs, true
}

// ApproxBytes returns the running estimate of key+value bytes plus
// per-entry overhead, used by the engine to decide when to flush.
func (m *MemTable) ApproxBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

// Len returns the number of entries currently buffered.
func (m *MemTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Len()
}

// Seal transitions the table to immutable: Insert will fail from this point
// on, but Get and IterOrdered keep working. Flush calls this exactly once,
// under the engine's write lock, before writing the table out to an
// SSTable.
func (m *MemTable) Seal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
}

// Sealed reports whether the table has been sealed.
func (m *MemTable) Sealed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sealed
}

// IterOrdered calls fn for every entry in ascending key order. fn must not
// call back into the MemTable. Used by flush to write an SSTable.
func (m *MemTable) IterOrdered(fn func(key []byte, sequence uint64, value []byte, timestampMs uint64) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it := m.data.NewIterator()
	for it.Next() {
		k := it.Key()
		e := it.Value()
		if err := fn(k.key, e.sequence, e.value, e.timestampMs); err != nil {
			return err
		}
	}
	return nil
}

// Clear empties the table, resets its size to zero, and unseals it. The
// engine's FlushAll does not call it; it swaps in a fresh MemTable instead.
func (m *MemTable) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = skiplist.NewWithComparator[*memKey, *entry](comparator)
	m.bytes = 0
	m.sealed = false
}
