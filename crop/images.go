package crop

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ImageIndex tracks which crop pictures exist in a directory. After Watch
// it follows file creations, renames and removals.
type ImageIndex struct {
	dir    string
	prefix string
	logger *zap.Logger

	mu    sync.RWMutex
	files map[string]struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewImageIndex indexes dir; image URLs are prefix + file name.
func NewImageIndex(dir, prefix string, logger *zap.Logger) *ImageIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageIndex{
		dir:    dir,
		prefix: prefix,
		logger: logger,
		files:  make(map[string]struct{}),
	}
}

func (ix *ImageIndex) Dir() string {
	return ix.dir
}

// Load rescans the directory. A missing directory leaves the index empty.
func (ix *ImageIndex) Load() error {
	entries, err := os.ReadDir(ix.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read image dir %s: %w", ix.dir, err)
	}
	files := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isImage(e.Name()) {
			files[strings.ToLower(e.Name())] = struct{}{}
		}
	}
	ix.mu.Lock()
	ix.files = files
	ix.mu.Unlock()
	return nil
}

// Lookup returns the URL of the crop's picture when the file is present.
func (ix *ImageIndex) Lookup(name string) (string, bool) {
	file := ImageFile(name)
	ix.mu.RLock()
	_, ok := ix.files[file]
	ix.mu.RUnlock()
	if !ok {
		return "", false
	}
	return ix.prefix + file, true
}

func (ix *ImageIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.files)
}

// Watch loads the index and keeps it current until Close.
func (ix *ImageIndex) Watch() error {
	if err := ix.Load(); err != nil {
		return err
	}
	if _, err := os.Stat(ix.dir); err != nil {
		ix.logger.Warn("image directory unavailable, images disabled", zap.String("dir", ix.dir), zap.Error(err))
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(ix.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", ix.dir, err)
	}
	ix.watcher = watcher
	ix.done = make(chan struct{})
	ix.wg.Add(1)
	go ix.run()
	return nil
}

func (ix *ImageIndex) run() {
	defer ix.wg.Done()
	for {
		select {
		case ev, ok := <-ix.watcher.Events:
			if !ok {
				return
			}
			ix.apply(ev)
		case err, ok := <-ix.watcher.Errors:
			if !ok {
				return
			}
			ix.logger.Warn("image watcher error", zap.Error(err))
		case <-ix.done:
			return
		}
	}
}

func (ix *ImageIndex) apply(ev fsnotify.Event) {
	name := strings.ToLower(filepath.Base(ev.Name))
	if !isImage(name) {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		ix.files[name] = struct{}{}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		delete(ix.files, name)
	}
	ix.logger.Debug("image index updated", zap.String("file", name), zap.String("op", ev.Op.String()))
}

// Close stops the watcher, if one is running.
func (ix *ImageIndex) Close() error {
	if ix.watcher == nil {
		return nil
	}
	close(ix.done)
	err := ix.watcher.Close()
	ix.wg.Wait()
	ix.watcher = nil
	return err
}

func isImage(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".jpg")
}
