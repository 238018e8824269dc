package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/events"
	"git.home.luguber.info/inful/docfleet/internal/logfields"
	"git.home.luguber.info/inful/docfleet/internal/metrics"
	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/store"
)

// fallbackTick bounds how long a queued job can wait when a wakeup signal was
// dropped because the channel was already full.
const fallbackTick = 3 * time.Second

// BuildRunner drives one claimed build to a terminal state. Implemented by
// builder.Executor.
type BuildRunner interface {
	Run(ctx context.Context, build *model.Build, cancelled func() bool) model.BuildStatus
}

// Queue dispatches persistent queued builds onto a fixed pool of workers. The
// ready set lives in the database; the in-memory channel is only a wakeup
// hint, so a lost signal delays a job by at most one fallback tick.
type Queue struct {
	Store   *store.Store
	Exec    BuildRunner
	Workers int
	Metrics metrics.Recorder
	Events  *events.Publisher

	wake chan struct{}
	busy atomic.Int64

	mu      sync.Mutex
	running map[int64]*atomic.Bool
}

// NewQueue wires a queue over the given executor.
func NewQueue(st *store.Store, exec BuildRunner, workers int, rec metrics.Recorder, ev *events.Publisher) *Queue {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Queue{
		Store:   st,
		Exec:    exec,
		Workers: workers,
		Metrics: rec,
		Events:  ev,
		wake:    make(chan struct{}, 1),
		running: make(map[int64]*atomic.Bool),
	}
}

// Enqueue persists a queued build and wakes the pool. It never blocks on the
// workers.
func (q *Queue) Enqueue(ctx context.Context, build *model.Build) error {
	if err := q.Store.EnqueueBuild(ctx, build); err != nil {
		return err
	}
	slog.Info("build enqueued",
		logfields.BuildID(build.ID),
		logfields.TargetID(build.TargetID),
		logfields.Trigger(string(build.Trigger)))
	q.Events.Publish(build)
	q.refreshDepth(ctx)
	q.Wake()
	return nil
}

// Wake nudges one idle worker. Dropping the signal is fine: either another
// wakeup is already pending or the fallback tick picks the job up.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker pool on the group. Workers exit when ctx is done.
func (q *Queue) Start(ctx context.Context, group *WorkerGroup) {
	for i := 0; i < q.Workers; i++ {
		worker := i
		group.Go(func() { q.workerLoop(ctx, worker) })
	}
	slog.Info("build workers started", slog.Int("workers", q.Workers))
}

func (q *Queue) workerLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(fallbackTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
		q.drain(ctx, worker)
	}
}

// drain claims and runs jobs until the ready set is empty. Claiming inside
// the loop keeps FIFO order: a job enqueued mid-drain is picked up before the
// worker sleeps again.
func (q *Queue) drain(ctx context.Context, worker int) {
	for ctx.Err() == nil {
		build, err := q.Store.ClaimNextQueued(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("claim queued build", logfields.Worker(worker), logfields.Error(err))
			}
			return
		}
		if build == nil {
			return
		}
		q.runOne(ctx, worker, build)
	}
}

func (q *Queue) runOne(ctx context.Context, worker int, build *model.Build) {
	flag := q.register(build.ID)
	defer q.unregister(build.ID)

	q.Metrics.SetBusyWorkers(int(q.busy.Add(1)))
	defer func() { q.Metrics.SetBusyWorkers(int(q.busy.Add(-1))) }()
	q.refreshDepth(ctx)

	slog.Info("build dispatched",
		logfields.Worker(worker),
		logfields.BuildID(build.ID),
		logfields.TargetID(build.TargetID))
	q.Exec.Run(ctx, build, flag.Load)
	// The finished build may have unblocked a queued sibling on its target.
	q.Wake()
}

func (q *Queue) register(id int64) *atomic.Bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	flag := &atomic.Bool{}
	q.running[id] = flag
	return flag
}

func (q *Queue) unregister(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, id)
}

// Cancel requests cancellation of a build. A queued build flips straight to
// cancelled; a running one gets its flag set and stops at the next stage
// boundary unless publication has begun. Returns false when the build is
// already terminal or unknown.
func (q *Queue) Cancel(ctx context.Context, id int64) (bool, error) {
	cancelled, err := q.Store.CancelQueued(ctx, id)
	if err != nil {
		return false, err
	}
	if cancelled {
		q.refreshDepth(ctx)
		return true, nil
	}
	q.mu.Lock()
	flag, ok := q.running[id]
	q.mu.Unlock()
	if !ok {
		return false, nil
	}
	flag.Store(true)
	slog.Info("cancellation requested for running build", logfields.BuildID(id))
	return true, nil
}

func (q *Queue) refreshDepth(ctx context.Context) {
	if n, err := q.Store.QueuedCount(ctx); err == nil {
		q.Metrics.SetQueueDepth(n)
	}
}
