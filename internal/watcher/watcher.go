// Package watcher reports debounced file changes under a set of paths.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
)

// DefaultDelay groups the burst of events an editor save produces.
const DefaultDelay = 200 * time.Millisecond

// ChangeHandler receives the sorted, de-duplicated paths changed during one
// debounce window.
type ChangeHandler func(ctx context.Context, paths []string) error

// Watcher watches directory trees and single files.
type Watcher struct {
	fsw   *fsnotify.Watcher
	delay time.Duration
	log   *logger.Logger

	mu    sync.RWMutex
	roots []string
	files map[string]struct{}
}

// New creates a watcher. A delay <= 0 means DefaultDelay.
func New(delay time.Duration, log *logger.Logger) (*Watcher, error) {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if log == nil {
		log = logger.Discard()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "watcher.new", "cannot create file watcher")
	}
	return &Watcher{
		fsw:   fsw,
		delay: delay,
		log:   log.WithComponent("watcher"),
		files: map[string]struct{}{},
	}, nil
}

// AddRecursive watches root and every directory below it, including ones
// created later.
func (w *Watcher) AddRecursive(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.Wrap(err, "watcher.add", "invalid path").WithField("path", root)
	}
	if err := w.addTree(abs); err != nil {
		return err
	}
	w.mu.Lock()
	w.roots = append(w.roots, abs)
	w.mu.Unlock()
	return nil
}

// AddFile watches a single file. Its directory is watched so that editors
// replacing the file by rename are still noticed.
func (w *Watcher) AddFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "watcher.add", "invalid path").WithField("path", path)
	}
	if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrap(err, "watcher.add", "cannot watch directory").WithField("path", filepath.Dir(abs))
	}
	w.mu.Lock()
	w.files[abs] = struct{}{}
	w.mu.Unlock()
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrap(err, "watcher.add", "cannot walk directory").WithField("path", path)
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return errors.Wrap(err, "watcher.add", "cannot watch directory").WithField("path", path)
		}
		return nil
	})
}

// relevant reports whether path is a watched file or lies under a root.
func (w *Watcher) relevant(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.files[path]; ok {
		return true
	}
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Run delivers debounced changes to handle until ctx is done. Handler calls
// never overlap. A handler error is logged and watching continues.
func (w *Watcher) Run(ctx context.Context, handle ChangeHandler) error {
	defer w.fsw.Close()

	pending := map[string]struct{}{}
	timer := time.NewTimer(w.delay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod || !w.relevant(ev.Name) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				w.watchNewDir(ev.Name)
			}
			w.log.Debug("file changed", "path", ev.Name, "op", ev.Op.String())
			pending[ev.Name] = struct{}{}
			timer.Reset(w.delay)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err.Error())

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)

			if err := handle(ctx, paths); err != nil {
				w.log.Error("change handler failed", "error", err.Error(), "paths", paths)
			}
		}
	}
}

func (w *Watcher) watchNewDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(path); err != nil {
		w.log.Warn("cannot watch new directory", "path", path, "error", err.Error())
	}
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
