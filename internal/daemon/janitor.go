package daemon

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/docfleet/internal/logfields"
	"git.home.luguber.info/inful/docfleet/internal/publish"
)

// janitorInterval is how often the retention sweep runs; the horizon itself
// comes from configuration.
const janitorInterval = time.Hour

// Janitor periodically deletes build logs older than the retention horizon.
type Janitor struct {
	layout    publish.Layout
	retention time.Duration
	clock     clockwork.Clock
	scheduler gocron.Scheduler
}

// NewJanitor builds the scheduled sweep. A zero retention disables it; Start
// then does nothing.
func NewJanitor(layout publish.Layout, retention time.Duration, clock clockwork.Clock) (*Janitor, error) {
	j := &Janitor{layout: layout, retention: retention, clock: clock}
	if retention <= 0 {
		return j, nil
	}
	scheduler, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(janitorInterval),
		gocron.NewTask(j.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}
	j.scheduler = scheduler
	return j, nil
}

func (j *Janitor) Start() {
	if j.scheduler == nil {
		return
	}
	j.scheduler.Start()
	slog.Info("log janitor started",
		slog.Duration("interval", janitorInterval),
		slog.Duration("retention", j.retention))
}

func (j *Janitor) Stop() error {
	if j.scheduler == nil {
		return nil
	}
	return j.scheduler.Shutdown()
}

// sweep runs one retention pass. Also reachable from `docfleet gc` through
// SweepOnce.
func (j *Janitor) sweep() {
	n, err := j.layout.SweepLogs(j.retention, j.clock.Now())
	if err != nil {
		slog.Error("log retention sweep", logfields.Error(err))
		return
	}
	if n > 0 {
		slog.Info("log retention sweep removed logs", slog.Int("removed", n))
	}
}

// SweepOnce runs a single retention pass immediately.
func (j *Janitor) SweepOnce() (int, error) {
	return j.layout.SweepLogs(j.retention, j.clock.Now())
}
