package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdb/blockdb/sys"
)

func TestAppendAndReplay(t *testing.T) {
	fs := sys.NewMemFS()
	w, err := Open(fs, Options{Dir: "/w"}, nil)
	require.NoError(t, err)

	_, err = w.Append(1, []byte("a"), []byte("1"), 100)
	require.NoError(t, err)
	_, err = w.Append(2, []byte("b"), []byte("2"), 101)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var replayed []Frame
	w2, err := Open(fs, Options{Dir: "/w"}, func(f Frame) error {
		replayed = append(replayed, f)
		return nil
	})
	require.NoError(t, err)
	defer w2.Close()

	require.Len(t, replayed, 2)
	assert.Equal(t, uint64(1), replayed[0].Sequence)
	assert.Equal(t, []byte("a"), replayed[0].Key)
	assert.Equal(t, uint64(2), replayed[1].Sequence)
	assert.Equal(t, []byte("b"), replayed[1].Key)
}

func TestReplayStopsAtTornFrame(t *testing.T) {
	fs := sys.NewMemFS()
	w, err := Open(fs, Options{Dir: "/w"}, nil)
	require.NoError(t, err)

	_, err = w.Append(1, []byte("a"), []byte("1"), 100)
	require.NoError(t, err)
	_, err = w.Append(2, []byte("b"), []byte("2"), 101)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, fs.TruncateFile(segmentPath("/w", 0), 50))

	var replayed []Frame
	w2, err := Open(fs, Options{Dir: "/w"}, func(f Frame) error {
		replayed = append(replayed, f)
		return nil
	})
	require.NoError(t, err)
	defer w2.Close()

	require.Len(t, replayed, 1)
	assert.Equal(t, uint64(1), replayed[0].Sequence)

	// The segment should now be appendable again without re-replaying the
	// torn tail.
	_, err = w2.Append(5, []byte("c"), []byte("3"), 102)
	require.NoError(t, err)
}

func TestSyncIntervalModeDoesNotFsyncOnAppend(t *testing.T) {
	fs := sys.NewMemFS()
	w, err := Open(fs, Options{Dir: "/w", SyncMode: SyncInterval}, nil)
	require.NoError(t, err)
	defer w.Close()

	// SyncInterval acknowledges like SyncBuffered; the periodic fsync is
	// the engine's job (engine.syncer), not Append's.
	_, err = w.Append(1, []byte("a"), []byte("1"), 100)
	require.NoError(t, err)
	require.NoError(t, w.Sync())
}

func TestTruncateBeforeRemovesRedundantSegments(t *testing.T) {
	fs := sys.NewMemFS()
	w, err := Open(fs, Options{Dir: "/w", MaxSegmentSize: 64}, nil)
	require.NoError(t, err)
	defer w.Close()

	for i := uint64(1); i <= 6; i++ {
		_, err := w.Append(i, []byte("key"), []byte("value-pad"), i)
		require.NoError(t, err)
	}

	require.NoError(t, w.TruncateBefore(5))

	var replayed []Frame
	w2, err := Open(fs, Options{Dir: "/w"}, func(f Frame) error {
		replayed = append(replayed, f)
		return nil
	})
	require.NoError(t, err)
	defer w2.Close()

	for _, f := range replayed {
		assert.GreaterOrEqual(t, f.Sequence, uint64(5))
	}
}

func TestClearRemovesEverySegment(t *testing.T) {
	fs := sys.NewMemFS()
	w, err := Open(fs, Options{Dir: "/w"}, nil)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(1, []byte("a"), []byte("1"), 0)
	require.NoError(t, err)
	require.NoError(t, w.Clear())

	var replayed []Frame
	w2, err := Open(fs, Options{Dir: "/w"}, func(f Frame) error {
		replayed = append(replayed, f)
		return nil
	})
	require.NoError(t, err)
	defer w2.Close()
	assert.Empty(t, replayed)
}
