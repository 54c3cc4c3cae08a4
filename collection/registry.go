package collection

import (
	"encoding/json"
	"fmt"
	"os"
	stdpath "path"

	"github.com/blockdb/blockdb/sys"
)

// registryEntry is one row of the manager's registry.json: enough to map a
// name to an id without opening every collection's metadata file.
type registryEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// persistRegistry writes entries to path atomically (temp file, fsync,
// rename), the same pattern the teacher's index manifest uses.
func persistRegistry(fs sys.FS, path string, entries []registryEntry) error {
	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("collection: create %s: %w", tmp, err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		f.Close()
		fs.Remove(tmp)
		return fmt.Errorf("collection: encode registry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("collection: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("collection: close %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("collection: rename %s: %w", path, err)
	}
	if dir := stdpath.Dir(path); dir != "" {
		if err := fs.SyncDir(dir); err != nil {
			return fmt.Errorf("collection: fsync dir of %s: %w", path, err)
		}
	}
	return nil
}

// loadRegistry reads entries from path. A missing file is not an error: it
// means a fresh node with no collections yet.
func loadRegistry(fs sys.FS, path string) ([]registryEntry, error) {
	f, err := fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("collection: open %s: %w", path, err)
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil {
		return nil, err
	}

	var entries []registryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("collection: decode registry %s: %w", path, err)
	}
	return entries, nil
}
