package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchRoot watches the document root for out-of-band edits to .md files and
// reports them through the callbacks. New subdirectories are picked up as
// they appear. Blocks until ctx is done.
func WatchRoot(ctx context.Context, store *FileStore, log *slog.Logger, onChange func(doc Document), onRemove func(docID string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := addRecursive(watcher, store.RootDir()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			handleEvent(watcher, store, log, event, onChange, onRemove)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", "err", err)
		}
	}
}

func handleEvent(watcher *fsnotify.Watcher, store *FileStore, log *slog.Logger, event fsnotify.Event, onChange func(doc Document), onRemove func(docID string)) {
	// Track directories created after startup.
	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if filepath.Base(event.Name) != ".git" {
				if err := addRecursive(watcher, event.Name); err != nil {
					log.Error("failed to watch new directory", "dir", event.Name, "err", err)
				}
			}
			return
		}
	}

	if strings.Contains(event.Name, string(filepath.Separator)+".git"+string(filepath.Separator)) {
		return
	}
	docID := store.DocID(event.Name)
	if docID == "" {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		log.Info("document removed on disk", "doc", docID)
		onRemove(docID)
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		doc, err := store.Read(docID)
		if err != nil {
			// A write immediately followed by a delete; treat as removal.
			if errors.Is(err, ErrNotFound) {
				onRemove(docID)
				return
			}
			log.Error("failed to read changed document", "doc", docID, "err", err)
			return
		}
		log.Info("document changed on disk", "doc", docID)
		onChange(*doc)
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}
