// Package watch reports batches of changed files under a set of directories.
package watch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/acolita/ashell-monkey/internal/adapters/realclock"
	"github.com/acolita/ashell-monkey/internal/ports"
)

// DefaultDebounce groups the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Match    func(path string) bool // nil accepts every file
	Debounce time.Duration
	Clock    ports.Clock
	Logger   *slog.Logger
}

// Watcher watches directory trees and emits the set of matching files that
// changed, once per quiet period.
type Watcher struct {
	watcher *fsnotify.Watcher
	opts    Options
	changes chan []string
	done    chan struct{}
	stopped chan struct{}
}

// New starts watching dirs and everything below them.
func New(dirs []string, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Match == nil {
		opts.Match = func(string) bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: fsWatcher,
		opts:    opts,
		changes: make(chan []string),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	// Directories are watched rather than files so editors that replace the
	// file on save are still seen.
	for _, dir := range dirs {
		if err := w.addTree(dir); err != nil {
			fsWatcher.Close()
			return nil, err
		}
	}

	go w.watch()
	return w, nil
}

// Changes delivers each debounced batch of changed paths, sorted.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

// Close stops watching and cleans up.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	return err
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && len(d.Name()) > 1 && d.Name()[0] == '.' {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) watch() {
	defer close(w.stopped)

	pending := make(map[string]bool)
	var fire <-chan time.Time
	var out chan []string
	var batch []string

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.opts.Logger.Warn("watch new directory", slog.String("path", event.Name), slog.String("error", err.Error()))
					}
					continue
				}
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(event.Name)
			if !w.opts.Match(path) {
				continue
			}
			w.opts.Logger.Debug("file changed", slog.String("path", path), slog.String("op", event.Op.String()))
			pending[path] = true
			fire = w.opts.Clock.After(w.opts.Debounce)

		case <-fire:
			fire = nil
			for p := range pending {
				batch = append(batch, p)
			}
			clear(pending)
			slices.Sort(batch)
			batch = slices.Compact(batch)
			out = w.changes

		case out <- batch:
			out = nil
			batch = nil

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}
