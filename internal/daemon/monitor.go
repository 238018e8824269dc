package daemon

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/git"
	"git.home.luguber.info/inful/docfleet/internal/logfields"
	"git.home.luguber.info/inful/docfleet/internal/metrics"
	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/store"
)

// HeadResolver answers what commit a remote ref currently points at.
type HeadResolver interface {
	RemoteHead(ctx context.Context, repo *model.Repository, kind model.RefKind, name string) (string, error)
}

// gitHeadResolver probes remotes with a scoped git driver per repository.
type gitHeadResolver struct {
	timeout time.Duration
}

func (r gitHeadResolver) RemoteHead(ctx context.Context, repo *model.Repository, kind model.RefKind, name string) (string, error) {
	d := git.NewDriver(r.timeout, git.AuthFor(repo))
	d.InsecureTLS = !repo.VerifyTLS
	return d.RemoteHead(ctx, repo.URL, kind, name)
}

// Monitor sweeps the auto-build targets and enqueues a build whenever a
// remote head moved past the last built commit. Sweeps run strictly one at a
// time; an overrunning sweep is followed immediately by the next tick, and
// further missed ticks are not replayed.
type Monitor struct {
	Store    *store.Store
	Queue    *Queue
	Interval time.Duration
	Heads    HeadResolver
	Metrics  metrics.Recorder
}

// NewMonitor builds a monitor probing remotes with the given git timeout.
func NewMonitor(st *store.Store, q *Queue, interval, gitTimeout time.Duration, rec metrics.Recorder) *Monitor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Monitor{
		Store:    st,
		Queue:    q,
		Interval: interval,
		Heads:    gitHeadResolver{timeout: gitTimeout},
		Metrics:  rec,
	}
}

// Run loops until ctx is done. A zero interval disables the monitor.
func (m *Monitor) Run(ctx context.Context) {
	if m.Interval <= 0 {
		slog.Info("auto-build monitor disabled")
		return
	}
	slog.Info("auto-build monitor started", slog.Duration("interval", m.Interval))
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every auto-build target once. Per-target failures are logged
// and never abort the rest of the sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() { m.Metrics.ObserveMonitorSweep(time.Since(start)) }()

	targets, err := m.Store.ListAutoBuildTargets(ctx)
	if err != nil {
		slog.Error("list auto-build targets", logfields.Error(err))
		return
	}
	repos := make(map[int64]*model.Repository, len(targets))
	for i := range targets {
		if ctx.Err() != nil {
			return
		}
		m.probe(ctx, &targets[i], repos)
	}
}

func (m *Monitor) probe(ctx context.Context, target *model.Target, repos map[int64]*model.Repository) {
	active, err := m.Store.HasActiveBuild(ctx, target.ID)
	if err != nil {
		slog.Error("check active build", logfields.TargetID(target.ID), logfields.Error(err))
		return
	}
	if active {
		return
	}

	repo, ok := repos[target.RepositoryID]
	if !ok {
		repo, err = m.Store.GetRepository(ctx, target.RepositoryID)
		if err != nil {
			slog.Error("load repository", logfields.RepoID(target.RepositoryID), logfields.Error(err))
			return
		}
		repos[target.RepositoryID] = repo
	}

	head, err := m.Heads.RemoteHead(ctx, repo, target.RefKind, target.RefName)
	if err != nil {
		slog.Warn("probe remote head",
			logfields.Repository(repo.Name),
			logfields.Ref(target.RefName),
			logfields.Error(err))
		return
	}
	if head == target.LastBuiltCommit {
		return
	}

	err = m.Queue.Enqueue(ctx, &model.Build{
		RepositoryID: repo.ID,
		TargetID:     target.ID,
		Trigger:      model.TriggerAuto,
		RefName:      target.RefName,
	})
	if err != nil {
		slog.Error("enqueue auto build", logfields.TargetID(target.ID), logfields.Error(err))
		return
	}
	m.Metrics.IncMonitorEnqueue()
	slog.Info("remote head moved, build enqueued",
		logfields.Repository(repo.Name),
		logfields.Ref(target.RefName),
		logfields.Commit(head))
}
