// Package engine orchestrates the WAL, MemTable, SSTable set, and hash
// chain into one crash-consistent write path per collection (spec §4.5):
// put enforces append-only semantics, schedules flushes, and feeds the
// chain's pending batch; get resolves MemTable then SSTables; background
// compaction serializes its SSTable-set swap with the writer.
package engine

import (
	"time"

	"github.com/blockdb/blockdb/core"
	"github.com/blockdb/blockdb/wal"
)

// AckMode selects when Put's WAL durability requirement is considered
// satisfied, matching the wal_sync_mode configuration option (spec §6).
type AckMode int

const (
	// AckDurable fsyncs the WAL before Put returns (spec's "durable").
	AckDurable AckMode = iota
	// AckBuffered acknowledges once the frame reaches the OS buffer; the
	// engine does not fsync on the hot path in this mode, and a frame is
	// only durable once a later Put rotates the segment.
	AckBuffered
	// AckInterval is AckBuffered plus a background timer that fsyncs the
	// WAL every SyncInterval, matching spec §6's wal_sync_mode:
	// "interval_ms:N" — bounded staleness instead of no durability
	// guarantee at all between rotations.
	AckInterval
)

// defaultSyncInterval is used when AckInterval is selected but
// Options.SyncInterval is left at zero.
const defaultSyncInterval = 200 * time.Millisecond

// Options configures one collection's Engine.
type Options struct {
	// DataDir is the collection's own directory; wal/, sst/, and
	// chain.dat all live under it.
	DataDir string

	// MemtableSizeLimit is the approximate byte budget that triggers a
	// flush (spec's memtable_size_limit).
	MemtableSizeLimit int64

	// AckMode is wal_sync_mode.
	AckMode AckMode

	// SyncInterval is the periodic fsync interval used when AckMode is
	// AckInterval (wal_sync_mode "interval_ms:N"). Ignored otherwise.
	SyncInterval time.Duration

	// CompactionThreshold is the number of SSTables at a level that
	// triggers a merge into the next level.
	CompactionThreshold int

	// BlockchainBatchSize is records per chain block.
	BlockchainBatchSize int

	// MaxValueSize rejects oversized values with InvalidArgument. Zero
	// means core.MaxValueLen.
	MaxValueSize int

	// Clock abstracts wall-clock access for deterministic tests.
	Clock core.Clock
}

func (o Options) withDefaults() Options {
	if o.MemtableSizeLimit <= 0 {
		o.MemtableSizeLimit = 4 << 20
	}
	if o.CompactionThreshold <= 0 {
		o.CompactionThreshold = 4
	}
	if o.BlockchainBatchSize <= 0 {
		o.BlockchainBatchSize = 1000
	}
	if o.MaxValueSize <= 0 {
		o.MaxValueSize = core.MaxValueLen
	}
	if o.Clock == nil {
		o.Clock = core.SystemClock
	}
	if o.AckMode == AckInterval && o.SyncInterval <= 0 {
		o.SyncInterval = defaultSyncInterval
	}
	return o
}

func walSyncMode(mode AckMode) wal.SyncMode {
	switch mode {
	case AckDurable:
		return wal.SyncDurable
	case AckInterval:
		return wal.SyncInterval
	default:
		return wal.SyncBuffered
	}
}
