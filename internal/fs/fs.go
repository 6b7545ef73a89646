// Package fs defines the abstract filesystem contract the sync service
// consumes, and a default implementation backed by the local disk.
package fs

import (
	"errors"
	"io"
)

// ErrNotExist is returned by Stat when path does not exist. It is never
// returned for other kinds of failures.
var ErrNotExist = errors.New("fs: path does not exist")

// FileStat describes a single file or directory's metadata, without a name.
type FileStat struct {
	Mode  uint32
	Size  uint32
	Mtime uint32
}

// Dirent is a FileStat with the entry's name, as yielded by Iterdir.
type Dirent struct {
	Name string
	FileStat
}

// ReadCloser is a byte source with an explicit close, as returned by
// OpenForRead.
type ReadCloser interface {
	io.Reader
	io.Closer
}

// WriteCloser is a byte sink with an explicit close, as returned by
// OpenForWrite.
type WriteCloser interface {
	io.Writer
	io.Closer
}

// AbstractFileSystem is the contract the sync service (internal/sync)
// consumes. Paths are opaque UTF-8 byte strings interpreted entirely by the
// implementation.
type AbstractFileSystem interface {
	// Stat returns path's metadata, or ErrNotExist if it does not exist.
	// Other errors are real failures (permission denied, I/O error, etc).
	Stat(path string) (FileStat, error)

	// Iterdir returns entries of the directory at path, excluding "." and
	// "..", in the filesystem's natural iteration order (no sort
	// guaranteed). The returned slice is finite and non-restartable.
	Iterdir(path string) ([]Dirent, error)

	// OpenForRead opens path for reading.
	OpenForRead(path string) (ReadCloser, error)

	// OpenForWrite opens path for writing with the given Unix permission
	// mode, creating parent directories as needed.
	OpenForWrite(path string, mode uint32) (WriteCloser, error)

	// SetMtime sets path's modification time to the given Unix timestamp.
	// Best-effort on platforms with limited mtime semantics.
	SetMtime(path string, mtime uint32) error

	// Makedirs creates path and any missing parents. It is idempotent.
	Makedirs(path string) error
}
