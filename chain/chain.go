package chain

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/blockdb/blockdb/core"
	"github.com/blockdb/blockdb/sys"
)

// Chain is the append-only, tamper-evident audit log for one collection
// (spec §4.4). It buffers records into a pending batch and seals them into
// a new Block once the batch reaches batchSize, or when the engine forces
// a seal at flush time. It is secondary to the WAL: on disagreement after
// a crash, the engine rebuilds the chain rather than trusting it for
// recovery.
type Chain struct {
	mu        sync.Mutex
	fs        sys.FS
	path      string
	f         sys.File
	clock     core.Clock
	batchSize int

	blocks    []Block
	pending   []Record
	corruptAt *uint64
}

// Open loads an existing chain.dat, discarding a trailing torn frame (a
// block half-written at crash time), and creates a genesis block if the
// file is new or was entirely empty. A full-length frame that fails its
// checksum is never discarded — that is deliberate tampering, not a crash
// artifact — so Open stops loading at that point and records its index;
// Verify surfaces it as a failure instead of it vanishing silently.
func Open(fs sys.FS, path string, batchSize int, clock core.Clock) (*Chain, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	c := &Chain{fs: fs, path: path, batchSize: batchSize, clock: clock}

	data, err := readAll(fs, path)
	if err != nil {
		return nil, fmt.Errorf("chain: read %s: %w", path, err)
	}

	consumed := 0
	for consumed < len(data) {
		b, n, derr := decodeFrame(data[consumed:])
		if derr != nil {
			if errors.Is(derr, errCorrupt) {
				idx := uint64(len(c.blocks))
				c.corruptAt = &idx
			}
			break
		}
		c.blocks = append(c.blocks, b)
		consumed += n
	}
	if c.corruptAt == nil && consumed < len(data) {
		if err := truncateFile(fs, path, int64(consumed)); err != nil {
			return nil, fmt.Errorf("chain: truncate tail of %s: %w", path, err)
		}
	}

	f, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("chain: open %s: %w", path, err)
	}
	c.f = f

	if len(c.blocks) == 0 && c.corruptAt == nil {
		genesis := genesisBlock(nowMs(clock))
		if err := c.appendBlock(genesis); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func nowMs(clock core.Clock) uint64 {
	return uint64(clock.Now().UnixMilli())
}

func (c *Chain) appendBlock(b Block) error {
	if _, err := c.f.Write(encodeFrame(b)); err != nil {
		return fmt.Errorf("chain: write %s: %w", c.path, err)
	}
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("chain: fsync %s: %w", c.path, err)
	}
	c.blocks = append(c.blocks, b)
	return nil
}

// AppendRecord adds a record to the pending batch, sealing a new block if
// the batch has reached batchSize.
func (c *Chain) AppendRecord(sequence uint64, key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, Record{
		Sequence: sequence,
		Key:      append([]byte(nil), key...),
		Value:    append([]byte(nil), value...),
	})
	if len(c.pending) >= c.batchSize {
		return c.sealLocked()
	}
	return nil
}

// Seal forces any pending batch to be sealed into a block immediately,
// even if it has not reached batchSize. The engine calls this on every
// flush (spec §4.3's flush contract: "seals any pending chain batch").
func (c *Chain) Seal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealLocked()
}

func (c *Chain) sealLocked() error {
	if len(c.pending) == 0 {
		return nil
	}
	prev := c.blocks[len(c.blocks)-1].Hash
	block := sealBlock(uint64(len(c.blocks)), prev, c.pending, nowMs(c.clock))
	if err := c.appendBlock(block); err != nil {
		return err
	}
	c.pending = nil
	return nil
}

// Verify scans blocks from genesis, recomputing each block_hash and
// checking previous_hash linkage. ok is false if any block fails, or if
// Open found a tampered frame on disk beyond the last loaded block; the
// index returned is then that of the first failing block (or of the
// tampered frame). On success the index is that of the last block.
func (c *Chain) Verify() (ok bool, lastVerifiedIndex uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) == 0 {
		if c.corruptAt != nil {
			return false, *c.corruptAt
		}
		return true, 0
	}
	for i, b := range c.blocks {
		if !b.verifyIntegrity() {
			return false, uint64(i)
		}
		if i > 0 && b.PreviousHash != c.blocks[i-1].Hash {
			return false, uint64(i)
		}
		if i > 0 && b.Index != c.blocks[i-1].Index+1 {
			return false, uint64(i)
		}
	}
	if c.corruptAt != nil {
		return false, *c.corruptAt
	}
	return true, uint64(len(c.blocks) - 1)
}

// TruncateFrom discards all blocks at index >= i and rewrites the file,
// used by recovery when Verify reports a mismatch at block i (spec §4.5
// step 3): "all blocks ≥ i are truncated and the engine re-seals from
// pending records." Always rewrites, even when i is at or past the end of
// the loaded c.blocks — a corrupt tail detected by Open leaves bytes on
// disk beyond the last loaded block, and the rewrite is what purges them.
func (c *Chain) TruncateFrom(i uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i == 0 {
		return c.resetToGenesisLocked()
	}
	if i < uint64(len(c.blocks)) {
		c.blocks = c.blocks[:i]
	}
	c.corruptAt = nil
	return c.rewriteLocked()
}

// ResetToGenesis discards every block and pending record, leaving only a
// fresh genesis block. Used exclusively by flush_all.
func (c *Chain) ResetToGenesis() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetToGenesisLocked()
}

func (c *Chain) resetToGenesisLocked() error {
	c.blocks = []Block{genesisBlock(nowMs(c.clock))}
	c.pending = nil
	c.corruptAt = nil
	return c.rewriteLocked()
}

// rewriteLocked rewrites chain.dat from c.blocks in full. Called only for
// the rare destructive operations (truncate-on-mismatch, flush_all), never
// on the append hot path.
func (c *Chain) rewriteLocked() error {
	if err := c.f.Close(); err != nil {
		return fmt.Errorf("chain: close %s: %w", c.path, err)
	}
	f, err := c.fs.OpenFile(c.path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("chain: reopen %s: %w", c.path, err)
	}
	for _, b := range c.blocks {
		if _, err := f.Write(encodeFrame(b)); err != nil {
			f.Close()
			return fmt.Errorf("chain: rewrite %s: %w", c.path, err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("chain: fsync %s: %w", c.path, err)
	}
	f2, err := c.fs.OpenFile(c.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		f.Close()
		return fmt.Errorf("chain: reopen append %s: %w", c.path, err)
	}
	f.Close()
	c.f = f2
	return nil
}

// Len returns the number of sealed blocks, including genesis.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Block returns the sealed block at index, if any.
func (c *Chain) Block(index uint64) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= uint64(len(c.blocks)) {
		return Block{}, false
	}
	return c.blocks[index], true
}

// BlockForSequence returns the sealed block whose [FirstSequence,
// LastSequence] range contains sequence, if any.
func (c *Chain) BlockForSequence(sequence uint64) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.blocks {
		if b.RecordCount == 0 {
			continue
		}
		if sequence >= b.FirstSequence && sequence <= b.LastSequence {
			return b, true
		}
	}
	return Block{}, false
}

// Close closes the underlying file handle.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f.Close()
}

func readAll(fs sys.FS, path string) ([]byte, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func truncateFile(fs sys.FS, path string, size int64) error {
	f, err := fs.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}
