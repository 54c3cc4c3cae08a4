package collection

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskUsage reports free and total bytes on the filesystem backing dir,
// used as a defensive precondition check before Flush and FlushAll write
// a new SSTable; compaction does not call it (spec §4.5's flush contract never
// promises to succeed on a full disk, but logging the margin beforehand
// makes an IoError easier to diagnose after the fact).
func DiskUsage(dir string) (freeBytes, totalBytes uint64, err error) {
	usage, err := disk.UsageWithContext(context.Background(), dir)
	if err != nil {
		return 0, 0, fmt.Errorf("collection: disk usage %s: %w", dir, err)
	}
	return usage.Free, usage.Total, nil
}
