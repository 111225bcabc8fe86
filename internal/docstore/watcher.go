package docstore

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// EventCallback is called for every observed log change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, externalID string)

// Watch observes the log root and reports log changes until ctx is
// cancelled. Bucket directories created at runtime are added to the watch
// list, and logs already inside them are reported as created.
func Watch(ctx context.Context, root string, logger *slog.Logger, cb EventCallback) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	logger.Info("docstore watcher: started", slog.String("root", root))

	emit := func(kind, p string) {
		id, ok := IDFromPath(p)
		if !ok {
			return
		}
		logger.Debug("docstore watcher: change", slog.String("id", id), slog.String("op", kind))
		if cb != nil {
			cb(kind, id)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("docstore watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("docstore watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					walkLogs(ev.Name, func(p string) { emit("created", p) })
					continue
				}
			}
			switch {
			case ev.Op&fsnotify.Create != 0:
				emit("created", ev.Name)
			case ev.Op&fsnotify.Write != 0:
				emit("updated", ev.Name)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				emit("deleted", ev.Name)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("docstore watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func walkLogs(dir string, fn func(string)) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if _, ok := IDFromPath(p); ok {
			fn(p)
		}
		return nil
	})
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
