// Package source provides image sources that feed the pipeline.
package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/SF-300/vigilant-disco/internal/pipeline"
)

const defaultSettle = 500 * time.Millisecond

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// MIMEType returns the image type for path's extension, or "" when path is
// not a supported image.
func MIMEType(path string) string {
	return imageTypes[strings.ToLower(filepath.Ext(path))]
}

// DirWatcher submits image files created in a directory. Each file is read
// once it stops changing for the settle period, and submitted once.
type DirWatcher struct {
	dir    string
	settle time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	seen    map[string]struct{}
	pending chan string
	stop    chan struct{}
	ready   chan struct{}
}

// NewDirWatcher watches dir. A non-positive settle uses 500ms.
func NewDirWatcher(dir string, settle time.Duration, logger *zap.Logger) (*DirWatcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "watch dir %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.Newf("watch dir %s is not a directory", dir)
	}
	if settle <= 0 {
		settle = defaultSettle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirWatcher{
		dir:     dir,
		settle:  settle,
		logger:  logger.Named("dirwatcher").With(zap.String("dir", dir)),
		timers:  make(map[string]*time.Timer),
		seen:    make(map[string]struct{}),
		pending: make(chan string, 64),
		stop:    make(chan struct{}),
		ready:   make(chan struct{}),
	}, nil
}

// Name implements pipeline.Source.
func (w *DirWatcher) Name() string { return "dir" }

// Ready is closed once the directory is being watched.
func (w *DirWatcher) Ready() <-chan struct{} { return w.ready }

// Run watches until ctx ends. Files present before Run are ignored. A
// DirWatcher runs once.
func (w *DirWatcher) Run(ctx context.Context, submit pipeline.SubmitFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create fsnotify watcher")
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return errors.Wrapf(err, "watch %s", w.dir)
	}
	defer w.stopTimers()
	close(w.ready)
	w.logger.Info("watching for images")

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 || MIMEType(evt.Name) == "" {
				continue
			}
			w.schedule(evt.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case path := <-w.pending:
			w.submit(ctx, path, submit)
		}
	}
}

// schedule restarts path's settle timer.
func (w *DirWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, done := w.seen[path]; done {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.seen[path] = struct{}{}
		w.mu.Unlock()
		select {
		case w.pending <- path:
		case <-w.stop:
		}
	})
}

func (w *DirWatcher) stopTimers() {
	close(w.stop)
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *DirWatcher) submit(ctx context.Context, path string, submit pipeline.SubmitFunc) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("read image failed", zap.String("path", path), zap.Error(err))
		return
	}
	img, err := submit(ctx, data, MIMEType(path))
	if err != nil {
		w.logger.Warn("submit image failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("image submitted", zap.String("path", path), zap.Stringer("image_id", img.ID))
}
