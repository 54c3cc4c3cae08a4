package engine

import (
	"fmt"

	"github.com/blockdb/blockdb/memtable"
	"github.com/blockdb/blockdb/sstable"
)

// Flush seals the active MemTable, writes a new level-0 SSTable, truncates
// the WAL prefix the flushed sequence range makes redundant, and seals
// any pending chain batch, per spec §4.3's flush contract.
func (e *Engine) Flush() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.flushLocked()
}

// flushLocked assumes writeMu is already held.
func (e *Engine) flushLocked() error {
	e.tableMu.Lock()
	if e.active.Len() == 0 {
		e.tableMu.Unlock()
		return nil
	}
	sealed := e.active
	sealed.Seal()
	e.active = memtable.New()
	e.immutables = append(e.immutables, sealed)
	e.tableMu.Unlock()

	var entries []sstable.Entry
	var maxSeq uint64
	if err := sealed.IterOrdered(func(key []byte, sequence uint64, value []byte, _ uint64) error {
		entries = append(entries, sstable.Entry{Key: key, Sequence: sequence, Value: value})
		if sequence > maxSeq {
			maxSeq = sequence
		}
		return nil
	}); err != nil {
		return fmt.Errorf("engine: collect flush entries: %w", err)
	}

	seq := e.levels.NextCreationSeq()
	outPath := e.levels.Path(0, seq)
	if err := sstable.CreateFrom(e.fs, outPath, entries); err != nil {
		return fmt.Errorf("engine: flush write %s: %w", outPath, err)
	}
	if err := e.levels.Publish(0, seq); err != nil {
		return fmt.Errorf("engine: flush publish: %w", err)
	}

	e.tableMu.Lock()
	e.removeImmutable(sealed)
	e.tableMu.Unlock()

	if err := e.wal.TruncateBefore(maxSeq + 1); err != nil {
		return fmt.Errorf("engine: wal truncate: %w", err)
	}
	if err := e.chain.Seal(); err != nil {
		return fmt.Errorf("engine: chain seal: %w", err)
	}
	e.compactor.Wake()
	return nil
}

// removeImmutable drops sealed from the immutable list; caller holds
// tableMu.
func (e *Engine) removeImmutable(sealed *memtable.MemTable) {
	out := e.immutables[:0]
	for _, m := range e.immutables {
		if m != sealed {
			out = append(out, m)
		}
	}
	e.immutables = out
}

// FlushAll clears the MemTable, deletes every SSTable under the
// collection, clears the WAL, and resets the chain to genesis. This is
// destructive; the caller is responsible for deciding it's safe (spec
// §4.3).
func (e *Engine) FlushAll() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.tableMu.Lock()
	e.active = memtable.New()
	e.immutables = nil
	e.tableMu.Unlock()

	if err := e.levels.Clear(); err != nil {
		return fmt.Errorf("engine: clear sstables: %w", err)
	}
	if err := e.wal.Clear(); err != nil {
		return fmt.Errorf("engine: clear wal: %w", err)
	}
	if err := e.chain.ResetToGenesis(); err != nil {
		return fmt.Errorf("engine: reset chain: %w", err)
	}
	e.sequence.Store(0)
	e.sstCache.Clear()
	return nil
}
