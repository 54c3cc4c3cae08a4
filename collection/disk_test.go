package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsageReportsNonZeroTotal(t *testing.T) {
	dir := t.TempDir()

	free, total, err := DiskUsage(dir)
	require.NoError(t, err)
	assert.Greater(t, total, uint64(0))
	assert.LessOrEqual(t, free, total)
}

func TestDiskUsageRejectsMissingDir(t *testing.T) {
	_, _, err := DiskUsage("/no/such/path/for/blockdb/disk/usage/test")
	assert.Error(t, err)
}
