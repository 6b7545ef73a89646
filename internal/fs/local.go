package fs

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Local implements AbstractFileSystem against the host filesystem, rooted at
// Root (the process's working directory if empty). There is no sandbox:
// paths are joined with Root as given by the sync protocol.
type Local struct {
	Root string
}

// NewLocal creates a Local filesystem rooted at root.
func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) resolve(path string) string {
	if l.Root == "" {
		return path
	}
	return filepath.Join(l.Root, path)
}

func (l *Local) Stat(path string) (FileStat, error) {
	fi, err := os.Stat(l.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return FileStat{}, ErrNotExist
		}
		return FileStat{}, err
	}
	return statFromFileInfo(fi), nil
}

func (l *Local) Iterdir(path string) ([]Dirent, error) {
	entries, err := os.ReadDir(l.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	dents := make([]Dirent, 0, len(entries))
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		dents = append(dents, Dirent{Name: e.Name(), FileStat: statFromFileInfo(fi)})
	}
	return dents, nil
}

func (l *Local) OpenForRead(path string) (ReadCloser, error) {
	f, err := os.Open(l.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return f, nil
}

func (l *Local) OpenForWrite(path string, mode uint32) (WriteCloser, error) {
	full := l.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, err
	}
	perm := fs.FileMode(mode & 0777)
	if perm == 0 {
		perm = 0644
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l *Local) SetMtime(path string, mtime uint32) error {
	t := time.Unix(int64(mtime), 0)
	return os.Chtimes(l.resolve(path), t, t)
}

func (l *Local) Makedirs(path string) error {
	return os.MkdirAll(l.resolve(path), 0755)
}

func statFromFileInfo(fi os.FileInfo) FileStat {
	mode := uint32(fi.Mode().Perm())
	if fi.IsDir() {
		mode |= 0040000 // S_IFDIR
	} else {
		mode |= 0100000 // S_IFREG
	}
	size := fi.Size()
	if size < 0 {
		size = 0
	}
	return FileStat{
		Mode:  mode,
		Size:  uint32(size),
		Mtime: uint32(fi.ModTime().Unix()),
	}
}
