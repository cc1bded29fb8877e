package approval

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// allowListFile is the on-disk YAML shape for an operator-maintained
// allow-list.
type allowListFile struct {
	Patterns []Entry `yaml:"patterns"`
}

// LoadAllowListFile reads allow-list entries from a YAML file.
func LoadAllowListFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read allow-list file: %w", err)
	}
	var file allowListFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse allow-list file: %w", err)
	}
	return file.Patterns, nil
}

// AllowListWatcher hot-reloads a MemoryAllowList from a YAML file when
// the file changes on disk. A malformed file keeps the last good set.
type AllowListWatcher struct {
	path    string
	list    *MemoryAllowList
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
}

// NewAllowListWatcher loads the file once and begins watching it.
func NewAllowListWatcher(path string, list *MemoryAllowList, logger *slog.Logger) (*AllowListWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := LoadAllowListFile(path)
	if err != nil {
		return nil, err
	}
	list.ReplaceAll(entries)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create allow-list watcher: %w", err)
	}
	// Watch the directory so editor rename-and-replace saves are seen.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch allow-list dir: %w", err)
	}

	w := &AllowListWatcher{
		path:    path,
		list:    list,
		watcher: fw,
		logger:  logger.With("component", "allowlist-watcher"),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *AllowListWatcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("allow-list watch error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *AllowListWatcher) reload() {
	entries, err := LoadAllowListFile(w.path)
	if err != nil {
		w.logger.Warn("allow-list reload failed, keeping previous entries", "error", err)
		return
	}
	w.list.ReplaceAll(entries)
	w.logger.Info("allow-list reloaded", "entries", len(entries))
}

// Close stops watching.
func (w *AllowListWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
