package levels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdb/blockdb/sstable"
	"github.com/blockdb/blockdb/sys"
)

func publishTable(t *testing.T, m *Manager, level int, entries []sstable.Entry) {
	t.Helper()
	seq := m.NextCreationSeq()
	require.NoError(t, sstable.CreateFrom(m.fs, m.Path(level, seq), entries))
	require.NoError(t, m.Publish(level, seq))
}

func TestPublishAndAllTables(t *testing.T) {
	fs := sys.NewMemFS()
	m := New(fs, "/sst")
	_, err := m.Load()
	require.NoError(t, err)

	publishTable(t, m, 0, []sstable.Entry{{Key: []byte("a"), Sequence: 1, Value: []byte("1")}})
	publishTable(t, m, 0, []sstable.Entry{{Key: []byte("b"), Sequence: 2, Value: []byte("2")}})

	assert.Equal(t, 2, m.Count(0))
	assert.Equal(t, 2, m.TotalCount())

	snaps := m.AllTables()
	assert.Len(t, snaps, 2)
	for _, s := range snaps {
		s.Release()
	}
}

func TestCompactMergesLevelIntoNext(t *testing.T) {
	fs := sys.NewMemFS()
	m := New(fs, "/sst")
	_, err := m.Load()
	require.NoError(t, err)

	publishTable(t, m, 0, []sstable.Entry{{Key: []byte("a"), Sequence: 1, Value: []byte("1")}})
	publishTable(t, m, 0, []sstable.Entry{{Key: []byte("b"), Sequence: 2, Value: []byte("2")}})

	require.True(t, m.ShouldCompact(0, 2))
	require.NoError(t, m.Compact(0))

	assert.Equal(t, 0, m.Count(0))
	assert.Equal(t, 1, m.Count(1))

	tables := m.TablesAtLevel(1)
	require.Len(t, tables, 1)
	all, err := tables[0].All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []byte("a"), all[0].Key)
	assert.Equal(t, []byte("b"), all[1].Key)
}

func TestRemoveDefersDeleteWhileRetained(t *testing.T) {
	fs := sys.NewMemFS()
	m := New(fs, "/sst")
	_, err := m.Load()
	require.NoError(t, err)

	publishTable(t, m, 0, []sstable.Entry{{Key: []byte("a"), Sequence: 1, Value: []byte("1")}})
	snaps := m.AllTables()
	require.Len(t, snaps, 1)

	require.NoError(t, m.Remove(m.PathsAtLevel(0)))
	assert.Equal(t, 0, m.TotalCount())

	// File must still be readable through the outstanding snapshot.
	_, _, err = snaps[0].Table.Get([]byte("a"))
	require.NoError(t, err)

	snaps[0].Release()
}

func TestLoadQuarantinesCorruptTable(t *testing.T) {
	fs := sys.NewMemFS()
	m := New(fs, "/sst")
	_, err := m.Load()
	require.NoError(t, err)
	publishTable(t, m, 0, []sstable.Entry{{Key: []byte("a"), Sequence: 1, Value: []byte("1")}})

	path := m.PathsAtLevel(0)[0]
	require.NoError(t, fs.FlipByte(path, 0))

	m2 := New(fs, "/sst")
	quarantined, err := m2.Load()
	require.NoError(t, err)
	assert.Len(t, quarantined, 1)
	assert.Equal(t, 0, m2.TotalCount())
}
