package levels

import (
	"bytes"
	"fmt"

	"github.com/blockdb/blockdb/sstable"
)

// Merge performs a multi-way ordered merge across tables. Since BlockDB is
// append-only and I1 guarantees each key exists in at most one live table,
// there are no tombstones and no value to resolve between duplicate keys —
// the merge is a simple k-way interleave (spec §4.5 compaction policy).
func Merge(tables []*sstable.Table) ([]sstable.Entry, error) {
	streams := make([][]sstable.Entry, len(tables))
	for i, t := range tables {
		entries, err := t.All()
		if err != nil {
			return nil, fmt.Errorf("levels: read %s: %w", t.Path(), err)
		}
		streams[i] = entries
	}

	cursors := make([]int, len(streams))
	total := 0
	for _, s := range streams {
		total += len(s)
	}
	out := make([]sstable.Entry, 0, total)

	for {
		best := -1
		for i, c := range cursors {
			if c >= len(streams[i]) {
				continue
			}
			if best == -1 || bytes.Compare(streams[i][c].Key, streams[best][cursors[best]].Key) < 0 {
				best = i
			}
		}
		if best == -1 {
			break
		}
		out = append(out, streams[best][cursors[best]])
		cursors[best]++
	}
	return out, nil
}

// ShouldCompact reports whether level has reached threshold and is
// therefore due for compaction into level+1.
func (m *Manager) ShouldCompact(level int, threshold int) bool {
	return m.Count(level) >= threshold
}

// Compact merges every table at level into one new table at level+1,
// publishes the result, and removes the inputs. It does not itself decide
// whether compaction is due — the engine's background worker calls
// ShouldCompact first.
func (m *Manager) Compact(level int) error {
	tables := m.TablesAtLevel(level)
	if len(tables) < 2 {
		return nil
	}
	merged, err := Merge(tables)
	if err != nil {
		return err
	}

	nextLevel := level + 1
	seq := m.NextCreationSeq()
	outPath := m.Path(nextLevel, seq)
	if err := sstable.CreateFrom(m.fs, outPath, merged); err != nil {
		return fmt.Errorf("levels: compact write %s: %w", outPath, err)
	}
	if err := m.Publish(nextLevel, seq); err != nil {
		return err
	}

	inputs := make([]string, len(tables))
	for i, t := range tables {
		inputs[i] = t.Path()
	}
	return m.Remove(inputs)
}
