package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/haasonsaas/ragline/pkg/models"
)

// EventOp classifies a watch event.
type EventOp int

const (
	// Upsert means the file was created or changed; Document is set.
	Upsert EventOp = iota
	// Delete means the file is gone; only Path is set.
	Delete
)

// Event reports a change to a file under a watched directory.
type Event struct {
	Op       EventOp
	Path     string
	Document models.Document
}

// WatchOptions configures Watch.
type WatchOptions struct {
	// Debounce coalesces bursts of writes to one file. Default 250ms.
	Debounce time.Duration

	Logger *slog.Logger
}

// Watch reports file changes in dir until ctx is done. Callbacks for one
// path are debounced; callbacks may run concurrently for different paths.
func Watch(ctx context.Context, dir string, opts WatchOptions, fn func(Event)) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
		wg     sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok && t.Stop() {
			wg.Done()
		}
		wg.Add(1)
		timers[path] = time.AfterFunc(debounce, func() {
			defer wg.Done()
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			dispatch(ctx, path, logger, fn)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("document watch error", "dir", dir, "error", err)
		}
	}
}

func dispatch(ctx context.Context, path string, logger *slog.Logger, fn func(Event)) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		fn(Event{Op: Delete, Path: abs})
		return
	}
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	doc, err := LoadDocument(ctx, abs)
	if err != nil {
		if !errors.Is(err, ErrBinaryFile) {
			logger.Warn("reload document failed", "path", abs, "error", err)
		}
		return
	}
	fn(Event{Op: Upsert, Path: abs, Document: doc})
}
