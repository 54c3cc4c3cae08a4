package memtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdb/blockdb/core"
)

func TestMemTable_InsertAndGet(t *testing.T) {
	m := New()

	require.NoError(t, m.Insert([]byte("b"), 1, []byte("bval"), 100))
	require.NoError(t, m.Insert([]byte("a"), 2, []byte("aval"), 101))

	seq, v, ts, ok := m.Get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, []byte("aval"), v)
	assert.Equal(t, uint64(101), ts)

	_, _, _, ok = m.Get([]byte("missing"))
	assert.False(t, ok)
}

func TestMemTable_InsertRejectsDuplicateKey(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("k"), 1, []byte("v1"), 0))
	err := m.Insert([]byte("k"), 2, []byte("v2"), 0)
	assert.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestMemTable_IterOrderedIsSorted(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("c"), 3, []byte("3"), 0))
	require.NoError(t, m.Insert([]byte("a"), 1, []byte("1"), 0))
	require.NoError(t, m.Insert([]byte("b"), 2, []byte("2"), 0))

	var keys []string
	require.NoError(t, m.IterOrdered(func(key []byte, sequence uint64, value []byte, timestampMs uint64) error {
		keys = append(keys, string(key))
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestMemTable_SealRejectsFurtherInserts(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("k"), 1, []byte("v"), 0))
	m.Seal()
	assert.True(t, m.Sealed())

	err := m.Insert([]byte("k2"), 2, []byte("v2"), 0)
	assert.ErrorIs(t, err, core.ErrClosed)

	// Get still works after sealing.
	_, _, _, ok := m.Get([]byte("k"))
	assert.True(t, ok)
}

func TestMemTable_ApproxBytesGrows(t *testing.T) {
	m := New()
	assert.EqualValues(t, 0, m.ApproxBytes())
	require.NoError(t, m.Insert([]byte("k"), 1, []byte("value"), 0))
	assert.Greater(t, m.ApproxBytes(), int64(0))
}

func TestMemTable_Clear(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("k"), 1, []byte("v"), 0))
	m.Seal()
	m.Clear()

	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Sealed())
	require.NoError(t, m.Insert([]byte("k"), 1, []byte("v2"), 0))
}
