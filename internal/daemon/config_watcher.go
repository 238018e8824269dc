package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/docfleet/internal/config"
	"git.home.luguber.info/inful/docfleet/internal/logfields"
)

// ConfigWatcher watches the YAML config file and reports changes. Settings
// are fixed at startup in this daemon, so the watcher's job is to surface
// which edits will only take effect after a restart, not to hot-apply them.
type ConfigWatcher struct {
	path     string
	current  *config.Settings
	watcher  *fsnotify.Watcher
	debounce time.Duration
	pending  chan struct{}

	// OnChange, when set, receives every successfully reloaded Settings.
	OnChange func(*config.Settings)
}

// NewConfigWatcher watches the directory holding path; watching the parent
// survives editors that replace the file by rename.
func NewConfigWatcher(path string, current *config.Settings) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	return &ConfigWatcher{
		path:     abs,
		current:  current,
		watcher:  watcher,
		debounce: 2 * time.Second,
		pending:  make(chan struct{}, 1),
	}, nil
}

// Run blocks until ctx is done, reacting to file events with a debounce so an
// editor's write burst reloads once.
func (w *ConfigWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	slog.Info("config watcher started", slog.String("path", w.path))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case w.pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", logfields.Error(err))
		case <-w.pending:
			w.reload()
		}
	}
}

func (w *ConfigWatcher) reload() {
	next, err := config.Load(w.path)
	if err != nil {
		slog.Error("config file changed but does not load", logfields.Error(err))
		return
	}
	for _, change := range restartRequired(w.current, next) {
		slog.Warn("config change requires restart", slog.String("setting", change))
	}
	slog.Info("config file reloaded")
	w.current = next
	if w.OnChange != nil {
		w.OnChange(next)
	}
}

// restartRequired lists the settings whose new values cannot take effect in
// the running process.
func restartRequired(old, next *config.Settings) []string {
	var changes []string
	if old.DataDir != next.DataDir {
		changes = append(changes, "data_dir")
	}
	if old.Listen != next.Listen {
		changes = append(changes, "listen")
	}
	if old.BuildWorkers != next.BuildWorkers {
		changes = append(changes, "build_workers")
	}
	if old.AutoBuildInterval != next.AutoBuildInterval {
		changes = append(changes, "auto_build_interval")
	}
	if old.Events != next.Events {
		changes = append(changes, "events")
	}
	return changes
}
