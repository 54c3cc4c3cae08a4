package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdb/blockdb/sys"
)

func TestMetadataEncodeDecodeRoundTrip(t *testing.T) {
	m := Metadata{
		ID:           "col_abc",
		Name:         "orders",
		CreatedAtMs:  1000,
		CreatedBy:    "tester",
		SchemaBlob:   []byte("schema"),
		SettingsBlob: []byte("settings"),
		Indexes:      []IndexDef{{Name: "by_ts", Spec: []byte("ts")}},
	}

	decoded, err := decodeMetadata(m.ID, encodeMetadata(m))
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestWriteMetadataFileSyncsDirectoryAfterRename(t *testing.T) {
	fs := sys.NewMemFS()
	m := Metadata{ID: "col_abc", Name: "orders", CreatedAtMs: 1000}

	require.NoError(t, writeMetadataFile(fs, "/cols/col_abc/metadata", m))
	assert.Equal(t, []string{"/cols/col_abc"}, fs.SyncDirCalls())

	reread, err := readMetadataFile(fs, "col_abc", "/cols/col_abc/metadata")
	require.NoError(t, err)
	assert.Equal(t, m.Name, reread.Name)
}
