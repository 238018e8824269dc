// Package daemon wires the long-running service: startup recovery, the
// persistent build queue and its worker pool, the auto-build monitor, the log
// janitor, the config watcher, and the HTTP surface.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/docfleet/internal/builder"
	"git.home.luguber.info/inful/docfleet/internal/config"
	"git.home.luguber.info/inful/docfleet/internal/events"
	"git.home.luguber.info/inful/docfleet/internal/logfields"
	"git.home.luguber.info/inful/docfleet/internal/metrics"
	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/proc"
	"git.home.luguber.info/inful/docfleet/internal/provision"
	"git.home.luguber.info/inful/docfleet/internal/publish"
	"git.home.luguber.info/inful/docfleet/internal/store"
)

// shutdownTimeout bounds the reverse-order teardown on SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

// Daemon owns every long-lived component. Construct with New, drive with Run.
type Daemon struct {
	cfg        *config.Settings
	configPath string
	version    string

	store   *store.Store
	layout  publish.Layout
	queue   *Queue
	monitor *Monitor
	janitor *Janitor
	http    *HTTPServer
	events  *events.Publisher
	metrics *metrics.Prometheus
	group   *WorkerGroup
}

// New assembles the daemon. configPath may be empty; then no watcher runs.
func New(cfg *config.Settings, configPath, version string) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	publisher, err := events.New(cfg.Events)
	if err != nil {
		st.Close()
		return nil, err
	}

	layout := publish.Layout{DataDir: cfg.DataDir}
	rec := metrics.NewPrometheus()
	exec := &builder.Executor{
		Store:  st,
		Layout: layout,
		Locks:  publish.NewLocks(),
		Runner: proc.ExecRunner{},
		Provisioner: &provision.Provisioner{
			Runner:        proc.ExecRunner{},
			Timeout:       cfg.SphinxTimeout,
			DefaultPython: cfg.PythonVersion,
			ExtraAllow:    cfg.Extras,
		},
		GitTimeout:        cfg.GitTimeout,
		SphinxTimeout:     cfg.SphinxTimeout,
		DefaultEnvManager: model.EnvManager(cfg.EnvManager),
		Version:           version,
		Metrics:           rec,
		Events:            publisher,
	}
	queue := NewQueue(st, exec, cfg.BuildWorkers, rec, publisher)
	janitor, err := NewJanitor(layout, cfg.LogRetention, clockwork.NewRealClock())
	if err != nil {
		publisher.Close()
		st.Close()
		return nil, err
	}

	return &Daemon{
		cfg:        cfg,
		configPath: configPath,
		version:    version,
		store:      st,
		layout:     layout,
		queue:      queue,
		monitor:    NewMonitor(st, queue, cfg.AutoBuildInterval, cfg.GitTimeout, rec),
		janitor:    janitor,
		http: &HTTPServer{
			Store:      st,
			Layout:     layout,
			Queue:      queue,
			Metrics:    rec,
			Janitor:    janitor,
			GitTimeout: cfg.GitTimeout,
		},
		events:  publisher,
		metrics: rec,
		group:   &WorkerGroup{},
	}, nil
}

// Run starts everything, blocks until ctx is cancelled, then tears down in
// reverse order of startup.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("docfleet starting", slog.String("version", d.version),
		slog.String("data_dir", d.cfg.DataDir))

	if err := Recover(ctx, d.store, d.layout); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.queue.Start(runCtx, d.group)
	d.group.Go(func() { d.monitor.Run(runCtx) })
	d.janitor.Start()
	if d.configPath != "" {
		watcher, err := NewConfigWatcher(d.configPath, d.cfg)
		if err != nil {
			slog.Warn("config watcher unavailable", logfields.Error(err))
		} else {
			d.group.Go(func() { watcher.Run(runCtx) })
		}
	}
	d.http.Start(d.cfg.Listen)
	// A queued backlog from a previous run should not wait for the first tick.
	d.queue.Wake()

	<-ctx.Done()
	slog.Info("docfleet stopping")
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.http.Shutdown(ctx); err != nil {
		slog.Error("http shutdown", logfields.Error(err))
	}
	if err := d.janitor.Stop(); err != nil {
		slog.Error("janitor shutdown", logfields.Error(err))
	}
	if err := d.group.StopAndWait(ctx); err != nil {
		slog.Error("workers did not stop in time", logfields.Error(err))
	}
	d.events.Close()
	if err := d.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	slog.Info("docfleet stopped")
	return nil
}
