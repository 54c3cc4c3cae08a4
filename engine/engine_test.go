package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdb/blockdb/core"
	"github.com/blockdb/blockdb/sys"
)

func testOptions(dir string) Options {
	return Options{
		DataDir:             dir,
		MemtableSizeLimit:   1 << 20,
		CompactionThreshold: 4,
		BlockchainBatchSize: 2,
		Clock:               core.NewFixedClock(time.UnixMilli(1000)),
	}
}

func openTestEngine(t *testing.T, fs sys.FS, dir string) *Engine {
	t.Helper()
	e, err := Open(fs, testOptions(dir))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestAckIntervalModeSyncsOnATimerAndClosesCleanly(t *testing.T) {
	fs := sys.NewMemFS()
	opts := testOptions("/c")
	opts.AckMode = AckInterval
	opts.SyncInterval = 10 * time.Millisecond

	e, err := Open(fs, opts)
	require.NoError(t, err)
	require.NotNil(t, e.syncer)

	require.NoError(t, e.Put([]byte("k1"), []byte("v1")))
	value, found, err := e.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), value)

	// Give the background ticker at least one tick before shutdown, then
	// confirm Close stops the syncer goroutine without hanging.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, e.Close())
}

func TestPutGetRoundTrip(t *testing.T) {
	fs := sys.NewMemFS()
	e := openTestEngine(t, fs, "/c1")

	require.NoError(t, e.Put([]byte("k1"), []byte("v1")))
	v, found, err := e.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), v)

	_, found, err = e.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutRejectsDuplicateKey(t *testing.T) {
	fs := sys.NewMemFS()
	e := openTestEngine(t, fs, "/c1")

	require.NoError(t, e.Put([]byte("k1"), []byte("v1")))
	err := e.Put([]byte("k1"), []byte("v2"))
	assert.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestPutRejectsOversizedKey(t *testing.T) {
	fs := sys.NewMemFS()
	e := openTestEngine(t, fs, "/c1")

	oversized := make([]byte, core.MaxKeyLen+1)
	err := e.Put(oversized, []byte("v"))
	var keyErr *core.KeySizeError
	assert.ErrorAs(t, err, &keyErr)
}

func TestFlushMovesMemtableIntoSSTable(t *testing.T) {
	fs := sys.NewMemFS()
	e := openTestEngine(t, fs, "/c1")

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Flush())

	stats := e.Stats()
	assert.Equal(t, 1, stats.SSTableCount)

	v, found, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), v)
}

func TestGetAfterFlushIsCached(t *testing.T) {
	fs := sys.NewMemFS()
	e := openTestEngine(t, fs, "/c1")

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Flush())

	v1, found, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)

	v2, found, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v1, v2)
}

func TestRecoveryReplaysWAL(t *testing.T) {
	fs := sys.NewMemFS()
	e := openTestEngine(t, fs, "/c1")
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Close())

	e2, err := Open(fs, testOptions("/c1"))
	require.NoError(t, err)
	defer e2.Close()

	v, found, err := e2.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), v)
}

func TestVerifyIntegrityAfterNormalWrites(t *testing.T) {
	fs := sys.NewMemFS()
	e := openTestEngine(t, fs, "/c1")

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Put([]byte("c"), []byte("3")))

	assert.True(t, e.VerifyIntegrity())
}

func TestFlushAllResetsEngine(t *testing.T) {
	fs := sys.NewMemFS()
	e := openTestEngine(t, fs, "/c1")

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Flush())
	require.NoError(t, e.FlushAll())

	stats := e.Stats()
	assert.Zero(t, stats.RecordCount)
	assert.Zero(t, stats.SSTableCount)
	assert.True(t, e.VerifyIntegrity())

	_, found, err := e.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, e.Put([]byte("a"), []byte("new")))
	v, found, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("new"), v)
}

func TestCompactionMergesOverThreshold(t *testing.T) {
	fs := sys.NewMemFS()
	opts := testOptions("/c1")
	opts.CompactionThreshold = 2
	e, err := Open(fs, opts)
	require.NoError(t, err)
	defer e.Close()

	for i := 0; i < 3; i++ {
		key := []byte{byte('a' + i)}
		require.NoError(t, e.Put(key, []byte("v")))
		require.NoError(t, e.Flush())
	}
	e.compactor.runPass()

	v, found, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), v)
}
