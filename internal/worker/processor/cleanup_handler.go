package processor

import (
	"os"
	"path/filepath"
	"sync"
)

// WorkDir is a job's private scratch directory. Everything a job writes
// lives below it, and Close removes the whole tree.
type WorkDir struct {
	path string
	once sync.Once
	err  error
}

// NewWorkDir creates a uniquely named directory under root, or under the
// system temp directory when root is empty.
func NewWorkDir(root string) (*WorkDir, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, err
		}
	}
	path, err := os.MkdirTemp(root, "templater-job-")
	if err != nil {
		return nil, err
	}
	return &WorkDir{path: path}, nil
}

func (w *WorkDir) Path() string { return w.path }

// Join returns the path of name inside the directory. name must be a base
// name.
func (w *WorkDir) Join(name string) string {
	return filepath.Join(w.path, filepath.Base(name))
}

// Close removes the directory and its contents. Later calls return the
// result of the first.
func (w *WorkDir) Close() error {
	w.once.Do(func() {
		w.err = os.RemoveAll(w.path)
	})
	return w.err
}
