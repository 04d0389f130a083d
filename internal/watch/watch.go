// Package watch reports edits to frame graph description files.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gogpu/framegraph"
)

// DefaultDebounce is how long a burst of events is collected before it is
// reported.
const DefaultDebounce = 100 * time.Millisecond

// Watcher watches description files and directories of description files.
// Files are watched through their parent directory, so editors that save by
// renaming over the file are seen too.
type Watcher struct {
	w        *fsnotify.Watcher
	debounce time.Duration
	files    map[string]struct{} // files named directly
	dirs     map[string]struct{} // directories walked for *.hcl
}

// New starts watching paths. A debounce <= 0 selects DefaultDebounce.
func New(debounce time.Duration, paths ...string) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{
		w:        fw,
		debounce: debounce,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
	}
	for _, p := range paths {
		if err := w.add(p); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) add(path string) error {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		w.files[path] = struct{}{}
		return w.w.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		w.dirs[p] = struct{}{}
		return w.w.Add(p)
	})
}

// relevant reports whether an event on name concerns a watched description.
func (w *Watcher) relevant(name string) bool {
	name = filepath.Clean(name)
	if _, ok := w.files[name]; ok {
		return true
	}
	if filepath.Ext(name) != ".hcl" {
		return false
	}
	_, ok := w.dirs[filepath.Dir(name)]
	return ok
}

// Run calls onChange with the sorted set of files changed during each
// burst of events until ctx is done. Watcher errors are logged and
// watching continues.
func (w *Watcher) Run(ctx context.Context, onChange func(files []string)) error {
	log := framegraph.Logger()
	changed := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 || !w.relevant(ev.Name) {
				continue
			}
			changed[filepath.Clean(ev.Name)] = struct{}{}
			timer.Reset(w.debounce)
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch: watcher error", "error", err)
		case <-timer.C:
			files := make([]string, 0, len(changed))
			for f := range changed {
				files = append(files, f)
			}
			slices.Sort(files)
			clear(changed)
			onChange(files)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error { return w.w.Close() }
