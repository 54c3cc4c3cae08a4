// Package sys abstracts the filesystem behind a small trait so the WAL,
// SSTable, and hash-chain writers can run against a real filesystem in
// production and an in-memory one in deterministic crash-recovery tests,
// per Design Notes §9 ("provide a filesystem implementation for production
// and an in-memory implementation for deterministic tests").
package sys

import (
	"io"
	"os"
)

// File is the subset of *os.File every persistent-log writer/reader needs.
type File interface {
	io.Reader
	io.ReaderAt
	io.Writer
	io.WriterAt
	io.Seeker
	io.Closer
	Sync() error
	Truncate(size int64) error
	Size() (int64, error)
	Name() string
}

// FS opens and manipulates files and directories. OSFS is the production
// implementation; MemFS is the deterministic in-memory test double.
type FS interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Remove(name string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(name string) ([]os.DirEntry, error)
	Stat(name string) (os.FileInfo, error)
	SyncDir(path string) error
}

// Default is the filesystem used when no FS is supplied. Production code
// always gets OSFS{}; tests that need crash injection construct a MemFS
// explicitly and thread it through.
var Default FS = OSFS{}
