// Package watcher ingests files dropped into a directory.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ragapi/internal/domain"
	"ragapi/internal/extract"
	"ragapi/internal/logger"
)

// FileIngester is the pipeline subset the watcher needs.
type FileIngester interface {
	IngestFile(ctx context.Context, in domain.FileInput) (domain.IngestResult, error)
}

// Watcher re-ingests a file once writes to it have been quiet for the
// debounce interval. The source ID is the file name, so with dedup on a
// rewritten file overwrites its units index by index. Units past the end of
// a file that shrank are left in place until the next reset.
type Watcher struct {
	dir      string
	debounce time.Duration
	pipeline FileIngester

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New(dir string, debounce time.Duration, pipeline FileIngester) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{dir: dir, debounce: debounce, pipeline: pipeline, timers: make(map[string]*time.Timer)}
}

// SourceID derives the stable source ID for a watched path.
func SourceID(path string) string {
	return "file:" + filepath.Base(path)
}

// handleEvent returns the path to ingest for ev, or "" when the event is
// ignored.
func (w *Watcher) handleEvent(ev fsnotify.Event) string {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return ""
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return ""
	}
	info, err := os.Stat(ev.Name)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return ev.Name
}

// Scan ingests every regular file already present in the directory.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !extract.Supported(e.Name()) {
			continue
		}
		w.ingest(ctx, filepath.Join(w.dir, e.Name()))
	}
	return nil
}

// Run watches the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	logger.Info("Watching %s for new documents", w.dir)

	ready := make(chan string, 16)
	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if path := w.handleEvent(ev); path != "" {
				w.schedule(ctx, path, ready)
			}
		case path := <-ready:
			w.ingest(ctx, path)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("Skipping %s: %v", path, err)
		return
	}
	defer f.Close()
	res, err := w.pipeline.IngestFile(ctx, domain.FileInput{
		Filename: filepath.Base(path),
		SourceID: SourceID(path),
		Body:     f,
	})
	if err != nil {
		logger.Warn("Failed to ingest %s: %v", path, err)
		return
	}
	logger.Info("Ingested %s as %s (%d units, %d new)", path, res.SourceID, res.UnitsWritten, res.UnitsCreated)
}
