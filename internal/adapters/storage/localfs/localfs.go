package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalFS implements ports.FileStore on the local filesystem.
type LocalFS struct {
	perm os.FileMode
}

func New() *LocalFS {
	return &LocalFS{perm: 0o644}
}

// Put writes r to path, replacing any existing file. The content is first
// written to a temporary file in the same directory and renamed into place,
// so readers never observe a partial artifact.
func (l *LocalFS) Put(ctx context.Context, path string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// The parent directory must already exist.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, err
	}
	if err := tmp.Chmod(l.perm); err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, err
	}
	committed = true
	return n, nil
}
