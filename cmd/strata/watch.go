package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"
)

// debounceDelay is how long a file must stay quiet before it is indexed.
// Editors and downloaders write in bursts.
const debounceDelay = 2 * time.Second

var watchedExts = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".xlsx": true,
	".xlsm": true,
	".json": true,
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	root := cmd.Args().First()
	if root == "" {
		return fmt.Errorf("watch: DIR is required")
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("watch: %s is not a directory", root)
	}

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	slog.Info("watch: started", "root", root)

	// Debounced paths are indexed serially from this loop; the timers
	// only schedule, they never touch the engine.
	ready := make(chan string)
	var mu sync.Mutex
	timers := make(map[string]*time.Timer)

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(debounceDelay)
			return
		}
		timers[path] = time.AfterFunc(debounceDelay, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch: stopped")
			return nil

		case path := <-ready:
			report, err := eng.Index(ctx, path)
			if err != nil {
				slog.Warn("watch: index failed", "path", path, "error", err)
				continue
			}
			if report.Unchanged {
				continue
			}
			slog.Info("watch: indexed", "doc_id", report.DocID,
				"chunks", report.Chunks, "exhausted", len(report.Exhausted))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						slog.Warn("watch: add dir failed", "path", ev.Name, "error", addErr)
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !watchedExts[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			schedule(ev.Name)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch: watcher error", "error", err)
		}
	}
}

// addDirsRecursive adds dir and all of its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
