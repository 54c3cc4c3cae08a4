package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLRUCacheStartsEmpty(t *testing.T) {
	c := NewLRUCache(10)
	require.NotNil(t, c)
	assert.Equal(t, 0, c.Len())
}

func TestPutAndGetRoundTrip(t *testing.T) {
	c := NewLRUCache(3)

	c.Put([]byte("k1"), []byte("v1"))
	c.Put([]byte("k2"), []byte("v2"))
	c.Put([]byte("k3"), []byte("v3"))
	assert.Equal(t, 3, c.Len())

	v, ok := c.Get([]byte("k3"))
	require.True(t, ok)
	assert.Equal(t, []byte("v3"), v)

	v, ok = c.Get([]byte("k1"))
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	_, ok = c.Get([]byte("missing"))
	assert.False(t, ok)
}

func TestPutEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache(3)
	c.Put([]byte("k1"), []byte("v1"))
	c.Put([]byte("k2"), []byte("v2"))
	c.Put([]byte("k3"), []byte("v3"))

	// Touch k3 and k1 so k2 becomes least recently used.
	c.Get([]byte("k3"))
	c.Get([]byte("k1"))

	c.Put([]byte("k4"), []byte("v4"))
	assert.Equal(t, 3, c.Len())

	_, ok := c.Get([]byte("k2"))
	assert.False(t, ok, "k2 should have been evicted as least recently used")

	v, ok := c.Get([]byte("k4"))
	require.True(t, ok)
	assert.Equal(t, []byte("v4"), v)
}

func TestPutUpdatesExistingKeyWithoutGrowing(t *testing.T) {
	c := NewLRUCache(2)
	c.Put([]byte("k"), []byte("v1"))
	c.Put([]byte("k"), []byte("v2"))

	assert.Equal(t, 1, c.Len())
	v, ok := c.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestClearRemovesEveryEntryAndResetsHitRate(t *testing.T) {
	c := NewLRUCache(5)
	c.Put([]byte("k1"), []byte("v1"))
	c.Get([]byte("k1"))
	c.Get([]byte("missing"))

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Zero(t, c.HitRate())

	_, ok := c.Get([]byte("k1"))
	assert.False(t, ok)
}

func TestHitRateTracksGetOutcomes(t *testing.T) {
	c := NewLRUCache(2)
	c.Get([]byte("miss1")) // miss
	c.Put([]byte("k1"), []byte("v1"))
	c.Get([]byte("k1")) // hit
	c.Get([]byte("k1")) // hit

	assert.InDelta(t, 2.0/3.0, c.HitRate(), 1e-9)
}

func TestZeroCapacityDisablesCaching(t *testing.T) {
	c := NewLRUCache(0)

	c.Put([]byte("k1"), []byte("v1"))
	assert.Equal(t, 0, c.Len())

	_, ok := c.Get([]byte("k1"))
	assert.False(t, ok)
	assert.Zero(t, c.HitRate())
}
