// Package builder drives one build job through the linear pipeline: allocate
// workspace, clone, checkout, provision, generate, inject, publish, finalize.
// Stages run in order with cancellation checked only at stage boundaries;
// every stage streams its child-process output into the per-build log file.
package builder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/events"
	"git.home.luguber.info/inful/docfleet/internal/git"
	"git.home.luguber.info/inful/docfleet/internal/logfields"
	"git.home.luguber.info/inful/docfleet/internal/manifest"
	"git.home.luguber.info/inful/docfleet/internal/metrics"
	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/proc"
	"git.home.luguber.info/inful/docfleet/internal/provision"
	"git.home.luguber.info/inful/docfleet/internal/publish"
	"git.home.luguber.info/inful/docfleet/internal/store"
)

const (
	stageWorkspace = "workspace"
	stageClone     = "clone"
	stageCheckout  = "checkout"
	stageProvision = "provision"
	stageGenerate  = "generate"
	stageInject    = "inject"
	stagePublish   = "publish"
)

// Executor runs builds. One instance is shared by all workers; per-build
// state lives in the buildState below.
type Executor struct {
	Store       *store.Store
	Layout      publish.Layout
	Locks       *publish.Locks
	Runner      proc.Runner
	Provisioner *provision.Provisioner

	GitTimeout    time.Duration
	SphinxTimeout time.Duration
	// DefaultEnvManager applies when the target row does not override it.
	DefaultEnvManager model.EnvManager
	// Version is stamped into the injected navigation block.
	Version string

	Metrics metrics.Recorder
	Events  *events.Publisher
}

// buildState is the mutable state one job threads through its stages.
type buildState struct {
	build  *model.Build
	repo   *model.Repository
	target *model.Target
	slug   string

	workspace string
	srcDir    string
	envDir    string
	outDir    string
	binDir    string
	log       io.Writer

	// published flips when the publish stage begins; cancellation is
	// refused from then on.
	published   bool
	artifactDir string
}

type stageDef struct {
	name string
	fn   func(ctx context.Context, bs *buildState) error
}

// Run drives a claimed (already running) build to a terminal state. The
// cancelled func is polled at stage boundaries; nil means not cancellable.
// Returns the terminal status.
func (e *Executor) Run(ctx context.Context, build *model.Build, cancelled func() bool) model.BuildStatus {
	rec := e.recorder()
	rec.BuildStarted(string(build.Trigger))
	start := time.Now()
	if build.StartedAt != nil {
		start = *build.StartedAt
	}

	bs, logFile, err := e.prepare(ctx, build)
	if err != nil {
		slog.Error("build preparation failed", logfields.BuildID(build.ID), logfields.Error(err))
		return e.finish(ctx, bs, build, model.BuildFailed, model.ErrKindInternal, start)
	}
	defer logFile.Close()
	e.Events.Publish(build)

	stages := []stageDef{
		{stageWorkspace, e.stageWorkspace},
		{stageClone, e.stageClone},
		{stageCheckout, e.stageCheckout},
		{stageProvision, e.stageProvision},
		{stageGenerate, e.stageGenerate},
		{stageInject, e.stageInject},
		{stagePublish, e.stagePublish},
	}
	for _, st := range stages {
		if cancelled != nil && cancelled() && !bs.published {
			fmt.Fprintf(bs.log, "\nbuild cancelled before stage %s\n", st.name)
			return e.finish(ctx, bs, build, model.BuildCancelled, model.ErrKindNone, start)
		}
		select {
		case <-ctx.Done():
			fmt.Fprintf(bs.log, "\nbuild aborted before stage %s: %v\n", st.name, ctx.Err())
			return e.finish(ctx, bs, build, model.BuildFailed, model.ErrKindInternal, start)
		default:
		}

		fmt.Fprintf(bs.log, "\n--- stage %s ---\n", st.name)
		t0 := time.Now()
		err := st.fn(ctx, bs)
		rec.ObserveStageDuration(st.name, time.Since(t0))
		if err != nil {
			se := classifyStage(st.name, err)
			fmt.Fprintf(bs.log, "\nbuild failed: %s: %v\n", se.Kind, se.Err)
			slog.Error("build stage failed",
				logfields.BuildID(build.ID),
				logfields.Stage(st.name),
				logfields.ErrorKind(string(se.Kind)),
				logfields.Error(se.Err))
			return e.finish(ctx, bs, build, model.BuildFailed, se.Kind, start)
		}
	}
	return e.finish(ctx, bs, build, model.BuildSucceeded, model.ErrKindNone, start)
}

// prepare loads the rows, resolves the dispatch-time environment manager and
// opens the append-only log file.
func (e *Executor) prepare(ctx context.Context, build *model.Build) (*buildState, *os.File, error) {
	target, err := e.Store.GetTarget(ctx, build.TargetID)
	if err != nil {
		return nil, nil, fmt.Errorf("load target %d: %w", build.TargetID, err)
	}
	repo, err := e.Store.GetRepository(ctx, target.RepositoryID)
	if err != nil {
		return nil, nil, fmt.Errorf("load repository %d: %w", target.RepositoryID, err)
	}

	// The override in force now wins, not the one at enqueue time.
	manager := target.EnvManager
	if manager == model.EnvManagerInherit {
		manager = e.DefaultEnvManager
	}
	build.EnvManager = manager
	if err := e.Store.SetBuildEnvManager(ctx, build.ID, manager); err != nil {
		return nil, nil, err
	}

	slug := target.Slug()
	logPath := e.Layout.LogPath(repo.ID, slug, build.ID)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("prepare log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open build log: %w", err)
	}
	build.LogPath = logPath

	workspace := e.Layout.WorkspaceDir(repo.ID, slug, build.ID)
	bs := &buildState{
		build:     build,
		repo:      repo,
		target:    target,
		slug:      slug,
		workspace: workspace,
		srcDir:    filepath.Join(workspace, "src"),
		envDir:    filepath.Join(workspace, "env"),
		outDir:    filepath.Join(workspace, "out"),
		log:       logFile,
	}
	fmt.Fprintf(logFile, "build %d: %s %s %s (%s, %s)\n",
		build.ID, repo.Name, target.RefKind, target.RefName, build.Trigger, manager)
	return bs, logFile, nil
}

func (e *Executor) stageWorkspace(ctx context.Context, bs *buildState) error {
	if err := os.RemoveAll(bs.workspace); err != nil {
		return fmt.Errorf("clear stale workspace: %w", err)
	}
	if err := os.MkdirAll(bs.workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return e.Store.SetBuildWorkspace(ctx, bs.build.ID, bs.workspace, bs.build.LogPath)
}

func (e *Executor) driver(bs *buildState) *git.Driver {
	return &git.Driver{
		Runner:      e.Runner,
		Timeout:     e.GitTimeout,
		Auth:        git.AuthFor(bs.repo),
		InsecureTLS: !bs.repo.VerifyTLS,
		KeyDir:      bs.workspace,
		Log:         bs.log,
	}
}

func (e *Executor) stageClone(ctx context.Context, bs *buildState) error {
	commit, err := e.driver(bs).Clone(ctx, bs.repo.URL, bs.srcDir)
	if err != nil {
		return err
	}
	bs.build.Commit = commit
	return e.Store.SetBuildCommit(ctx, bs.build.ID, commit)
}

func (e *Executor) stageCheckout(ctx context.Context, bs *buildState) error {
	commit, err := e.driver(bs).Checkout(ctx, bs.srcDir, bs.target.RefKind, bs.target.RefName)
	if err != nil {
		return err
	}
	bs.build.Commit = commit
	return e.Store.SetBuildCommit(ctx, bs.build.ID, commit)
}

func (e *Executor) stageProvision(ctx context.Context, bs *buildState) error {
	binDir, err := e.Provisioner.Provision(ctx, bs.build.EnvManager, bs.srcDir, bs.envDir, bs.log)
	if err != nil {
		return err
	}
	bs.binDir = binDir
	return nil
}

func (e *Executor) stageGenerate(ctx context.Context, bs *buildState) error {
	docsDir := filepath.Join(bs.srcDir, bs.repo.DocsPath)
	if _, err := os.Stat(docsDir); err != nil {
		return fmt.Errorf("docs path %s missing: %w", bs.repo.DocsPath, err)
	}
	argv := []string{filepath.Join(bs.binDir, "sphinx-build"), "-b", "html", docsDir, bs.outDir}
	fmt.Fprintf(bs.log, "$ %s\n", strings.Join(argv, " "))
	return e.Runner.Run(ctx, proc.Spec{
		Argv:    argv,
		Timeout: e.SphinxTimeout,
		Output:  bs.log,
	})
}

func (e *Executor) stageInject(ctx context.Context, bs *buildState) error {
	if _, err := os.Stat(bs.outDir); err != nil {
		// Let the publish stage report the missing artifact.
		return nil
	}
	n, err := InjectNavigation(bs.outDir, NavParams{
		RepoID:  bs.repo.ID,
		Slug:    bs.slug,
		RefKind: bs.target.RefKind,
		RefName: bs.target.RefName,
		Version: e.Version,
		BuiltAt: time.Now(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(bs.log, "injected navigation into %d pages\n", n)
	return nil
}

// stagePublish swaps the generated tree into the stable artifact path under
// the target's publication lock, then records the publication and, for the
// repository's main target, refreshes project metadata.
func (e *Executor) stagePublish(ctx context.Context, bs *buildState) error {
	bs.published = true
	unlock := e.Locks.Acquire(bs.repo.ID, bs.target.ID)
	defer unlock()

	final := e.Layout.ArtifactDir(bs.repo.ID, bs.slug)
	staged := publish.StagePath(final, bs.build.ID)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("prepare artifact parent: %w", err)
	}
	if err := os.Rename(bs.outDir, staged); err != nil {
		return fmt.Errorf("stage generated output: %w", err)
	}
	if err := publish.Swap(staged, final); err != nil {
		_ = os.RemoveAll(staged)
		return err
	}
	bs.artifactDir = final
	fmt.Fprintf(bs.log, "published to %s\n", final)

	if err := e.Store.RecordPublication(ctx, bs.target.ID, bs.build.Commit, bs.build.ID); err != nil {
		return err
	}
	if bs.repo.MainTargetID != nil && *bs.repo.MainTargetID == bs.target.ID {
		e.updateMetadata(ctx, bs)
	}
	return nil
}

// updateMetadata is best effort: a manifest problem must not fail a build
// whose artifact is already live.
func (e *Executor) updateMetadata(ctx context.Context, bs *buildState) {
	m, err := manifest.Load(bs.srcDir)
	if err != nil || m == nil {
		return
	}
	md := m.Metadata()
	name := md.Name
	if name == "" {
		name = bs.repo.Name
	}
	if err := e.Store.UpdateRepositoryMetadata(ctx, bs.repo.ID, name, md.Version, md.Summary, md.Homepage); err != nil {
		slog.Warn("update repository metadata", logfields.RepoID(bs.repo.ID), logfields.Error(err))
	}
}

// finish writes the terminal state, removes the workspace (the log survives)
// and emits events and metrics. Returns the status for the caller.
func (e *Executor) finish(ctx context.Context, bs *buildState, build *model.Build, status model.BuildStatus, kind model.ErrorKind, start time.Time) model.BuildStatus {
	finished := time.Now()
	artifact := ""
	if bs != nil {
		artifact = bs.artifactDir
		if err := os.RemoveAll(bs.workspace); err != nil {
			slog.Warn("remove workspace", logfields.BuildID(build.ID), logfields.Error(err))
		}
	}
	if err := e.Store.FinishBuild(ctx, build.ID, status, kind, artifact, finished); err != nil {
		slog.Error("persist terminal build state", logfields.BuildID(build.ID), logfields.Error(err))
	}
	build.Status = status
	build.ErrorKind = kind
	build.FinishedAt = &finished
	build.DurationS = finished.Sub(start).Seconds()

	e.recorder().BuildFinished(string(status), finished.Sub(start))
	e.Events.Publish(build)
	slog.Info("build finished",
		logfields.BuildID(build.ID),
		logfields.Status(string(status)),
		logfields.DurationS(build.DurationS))
	return status
}

func (e *Executor) recorder() metrics.Recorder {
	if e.Metrics == nil {
		return metrics.Nop{}
	}
	return e.Metrics
}
