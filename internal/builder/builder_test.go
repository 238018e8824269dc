package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docfleet/internal/metrics"
	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/proc"
	"git.home.luguber.info/inful/docfleet/internal/provision"
	"git.home.luguber.info/inful/docfleet/internal/publish"
	"git.home.luguber.info/inful/docfleet/internal/store"
)

const fakeCommit = "a1b2c3d4e5f60718293a4b5c6d7e8f9012345678"

// toolRunner simulates the external toolchain: git materializes a checkout,
// uv creates the venv layout, sphinx-build writes HTML pages. Per-tool
// failures are injectable.
type toolRunner struct {
	pageBody string
	// failTool makes every invocation of the named binary fail.
	failTool string
	calls    []string
}

func (r *toolRunner) Run(_ context.Context, spec proc.Spec) error {
	r.calls = append(r.calls, strings.Join(spec.Argv, " "))
	tool := filepath.Base(spec.Argv[0])
	if tool == r.failTool {
		return &proc.ExitError{Argv: spec.Argv, Code: 1}
	}
	switch tool {
	case "git":
		return r.git(spec)
	case "uv":
		if spec.Argv[1] == "venv" {
			return os.MkdirAll(filepath.Join(spec.Argv[2], "bin"), 0o755)
		}
		return nil
	case "sphinx-build":
		outDir := spec.Argv[len(spec.Argv)-1]
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}
		body := r.pageBody
		if body == "" {
			body = "<html><head></head><body><p>docs</p></body></html>"
		}
		return os.WriteFile(filepath.Join(outDir, "index.html"), []byte(body), 0o644)
	}
	return fmt.Errorf("unexpected tool %q", tool)
}

func (r *toolRunner) git(spec proc.Spec) error {
	switch spec.Argv[1] {
	case "clone":
		dest := spec.Argv[3]
		if err := os.MkdirAll(filepath.Join(dest, "docs"), 0o755); err != nil {
			return err
		}
		pyproject := "[project]\nname = \"widgets\"\nversion = \"2.4.0\"\ndescription = \"Widget docs\"\n"
		return os.WriteFile(filepath.Join(dest, "pyproject.toml"), []byte(pyproject), 0o644)
	case "-C":
		switch spec.Argv[3] {
		case "rev-parse":
			fmt.Fprintln(spec.Output, fakeCommit)
			return nil
		case "fetch", "checkout":
			return nil
		}
	}
	return fmt.Errorf("unexpected git argv %v", spec.Argv)
}

type fixture struct {
	exec   *Executor
	store  *store.Store
	runner *toolRunner
	repo   *model.Repository
	target *model.Target
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	st, err := store.Open(filepath.Join(dataDir, "docfleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	repo := &model.Repository{
		Name:      "widgets",
		Provider:  "gitea",
		URL:       "https://git.example.com/acme/widgets.git",
		VerifyTLS: true,
	}
	require.NoError(t, st.CreateRepository(ctx, repo))
	target := &model.Target{
		RepositoryID: repo.ID,
		RefKind:      model.RefBranch,
		RefName:      "main",
	}
	require.NoError(t, st.CreateTarget(ctx, target))

	runner := &toolRunner{}
	return &fixture{
		exec: &Executor{
			Store:             st,
			Layout:            publish.Layout{DataDir: dataDir},
			Locks:             publish.NewLocks(),
			Runner:            runner,
			Provisioner:       &provision.Provisioner{Runner: runner},
			GitTimeout:        time.Minute,
			SphinxTimeout:     time.Minute,
			DefaultEnvManager: model.EnvManagerUV,
			Version:           "test",
			Metrics:           metrics.Nop{},
		},
		store:  st,
		runner: runner,
		repo:   repo,
		target: target,
	}
}

func (f *fixture) claim(t *testing.T) *model.Build {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.EnqueueBuild(ctx, &model.Build{
		RepositoryID: f.repo.ID,
		TargetID:     f.target.ID,
		Trigger:      model.TriggerManual,
		RefName:      f.target.RefName,
	}))
	build, err := f.store.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, build)
	return build
}

func TestRunPublishesArtifactAndFinalizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	build := f.claim(t)

	status := f.exec.Run(ctx, build, nil)
	require.Equal(t, model.BuildSucceeded, status)

	artifact := f.exec.Layout.ArtifactDir(f.repo.ID, f.target.Slug())
	page, err := os.ReadFile(filepath.Join(artifact, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), navMarker)

	stored, err := f.store.GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BuildSucceeded, stored.Status)
	assert.Equal(t, fakeCommit, stored.Commit)
	assert.Equal(t, artifact, stored.ArtifactPath)
	assert.Empty(t, stored.WorkspacePath)
	assert.Equal(t, model.EnvManagerUV, stored.EnvManager)

	target, err := f.store.GetTarget(ctx, f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, fakeCommit, target.LastBuiltCommit)
	require.NotNil(t, target.LatestBuildID)
	assert.Equal(t, build.ID, *target.LatestBuildID)

	_, err = os.Stat(f.exec.Layout.WorkspaceDir(f.repo.ID, f.target.Slug(), build.ID))
	assert.True(t, os.IsNotExist(err), "workspace must be removed")
	_, err = os.Stat(stored.LogPath)
	assert.NoError(t, err, "build log must survive the workspace")
}

func TestRunGenerateFailureKeepsPriorArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	artifact := f.exec.Layout.ArtifactDir(f.repo.ID, f.target.Slug())
	require.NoError(t, os.MkdirAll(artifact, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "index.html"), []byte("v1"), 0o644))

	f.runner.failTool = "sphinx-build"
	build := f.claim(t)
	status := f.exec.Run(ctx, build, nil)
	require.Equal(t, model.BuildFailed, status)

	stored, err := f.store.GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ErrKindDocBuild, stored.ErrorKind)
	assert.Empty(t, stored.ArtifactPath)

	page, err := os.ReadFile(filepath.Join(artifact, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(page))
}

func TestRunProvisionFailureClassified(t *testing.T) {
	f := newFixture(t)
	f.runner.failTool = "uv"
	build := f.claim(t)

	status := f.exec.Run(context.Background(), build, nil)
	require.Equal(t, model.BuildFailed, status)

	stored, err := f.store.GetBuild(context.Background(), build.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ErrKindProvision, stored.ErrorKind)
}

func TestRunCancelledBeforeFirstStage(t *testing.T) {
	f := newFixture(t)
	build := f.claim(t)

	status := f.exec.Run(context.Background(), build, func() bool { return true })
	require.Equal(t, model.BuildCancelled, status)

	stored, err := f.store.GetBuild(context.Background(), build.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BuildCancelled, stored.Status)
	assert.Empty(t, stored.ErrorKind)
	assert.Empty(t, f.runner.calls, "no tool may run after cancellation")
}

func TestRunMainTargetRefreshesMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetMainTarget(ctx, f.repo.ID, &f.target.ID))

	build := f.claim(t)
	require.Equal(t, model.BuildSucceeded, f.exec.Run(ctx, build, nil))

	repo, err := f.store.GetRepository(ctx, f.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "widgets", repo.ProjectName)
	assert.Equal(t, "2.4.0", repo.ProjectVersion)
	assert.Equal(t, "Widget docs", repo.ProjectSummary)
}

func TestRunNonMainTargetLeavesMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	build := f.claim(t)
	require.Equal(t, model.BuildSucceeded, f.exec.Run(ctx, build, nil))

	repo, err := f.store.GetRepository(ctx, f.repo.ID)
	require.NoError(t, err)
	assert.Empty(t, repo.ProjectVersion)
}

func TestClassifyStageDefaults(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, model.ErrKindDocBuild, classifyStage(stageGenerate, plain).Kind)
	assert.Equal(t, model.ErrKindPublish, classifyStage(stagePublish, plain).Kind)
	assert.Equal(t, model.ErrKindInternal, classifyStage(stageClone, plain).Kind)
}
