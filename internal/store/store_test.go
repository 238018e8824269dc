package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docfleet/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTarget(t *testing.T, s *Store, refName string) (*model.Repository, *model.Target) {
	t.Helper()
	ctx := context.Background()
	repo := &model.Repository{Name: "demo", URL: "https://example.invalid/demo.git"}
	require.NoError(t, s.CreateRepository(ctx, repo))
	target := &model.Target{RepositoryID: repo.ID, RefKind: model.RefBranch, RefName: refName}
	require.NoError(t, s.CreateTarget(ctx, target))
	return repo, target
}

func enqueue(t *testing.T, s *Store, repo *model.Repository, target *model.Target) *model.Build {
	t.Helper()
	b := &model.Build{
		RepositoryID: repo.ID,
		TargetID:     target.ID,
		Trigger:      model.TriggerManual,
		RefName:      target.RefName,
	}
	require.NoError(t, s.EnqueueBuild(context.Background(), b))
	return b
}

func TestRepositoryRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	repo := &model.Repository{
		Name: "demo", Provider: "gitea", URL: "https://example.invalid/demo.git",
		AuthKind: model.AuthToken, Token: "secret", VerifyTLS: true,
	}
	require.NoError(t, s.CreateRepository(ctx, repo))
	require.NotZero(t, repo.ID)

	got, err := s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
	assert.Equal(t, "docs", got.DocsPath, "docs path defaults")
	assert.Equal(t, model.AuthToken, got.AuthKind)
	assert.Equal(t, "secret", got.Token)

	_, err = s.GetRepository(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTargetUniquePerRepoAndRef(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, _ := seedTarget(t, s, "main")

	dup := &model.Target{RepositoryID: repo.ID, RefKind: model.RefBranch, RefName: "main"}
	assert.Error(t, s.CreateTarget(ctx, dup))

	tag := &model.Target{RepositoryID: repo.ID, RefKind: model.RefTag, RefName: "main"}
	assert.NoError(t, s.CreateTarget(ctx, tag), "same name under a different kind is a new target")
}

func TestClaimOrderIsFIFO(t *testing.T) {
	s := openStore(t)
	repo, t1 := seedTarget(t, s, "main")
	t2 := &model.Target{RepositoryID: repo.ID, RefKind: model.RefBranch, RefName: "dev"}
	require.NoError(t, s.CreateTarget(context.Background(), t2))

	first := enqueue(t, s, repo, t1)
	time.Sleep(2 * time.Millisecond)
	second := enqueue(t, s, repo, t2)

	got, err := s.ClaimNextQueued(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, model.BuildRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	got, err = s.ClaimNextQueued(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
}

func TestClaimSkipsTargetWithRunningBuild(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, target := seedTarget(t, s, "main")

	enqueue(t, s, repo, target)
	running, err := s.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, running)

	// Re-enqueue while running: row persists but must not dispatch.
	waiting := enqueue(t, s, repo, target)
	got, err := s.ClaimNextQueued(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "same target must not run twice concurrently")

	require.NoError(t, s.FinishBuild(ctx, running.ID, model.BuildSucceeded, model.ErrKindNone, "/a", time.Now()))

	got, err = s.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, waiting.ID, got.ID)
}

func TestFinishBuildStampsDuration(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, target := seedTarget(t, s, "main")
	enqueue(t, s, repo, target)

	b, err := s.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetBuildWorkspace(ctx, b.ID, "/ws", "/log"))
	require.NoError(t, s.SetBuildCommit(ctx, b.ID, "abc123"))
	require.NoError(t, s.SetBuildEnvManager(ctx, b.ID, model.EnvManagerUV))

	finished := b.StartedAt.Add(3 * time.Second)
	require.NoError(t, s.FinishBuild(ctx, b.ID, model.BuildSucceeded, model.ErrKindNone, "/artifact", finished))

	got, err := s.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BuildSucceeded, got.Status)
	assert.Equal(t, "abc123", got.Commit)
	assert.Equal(t, model.EnvManagerUV, got.EnvManager)
	assert.Equal(t, "/artifact", got.ArtifactPath)
	assert.Empty(t, got.WorkspacePath, "workspace path cleared at terminal state")
	assert.InDelta(t, 3.0, got.DurationS, 0.1)
}

func TestFinishBuildRejectsNonTerminal(t *testing.T) {
	s := openStore(t)
	repo, target := seedTarget(t, s, "main")
	b := enqueue(t, s, repo, target)
	assert.Error(t, s.FinishBuild(context.Background(), b.ID, model.BuildRunning, model.ErrKindNone, "", time.Now()))
}

func TestCancelQueuedOnly(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, target := seedTarget(t, s, "main")
	b := enqueue(t, s, repo, target)

	ok, err := s.CancelQueued(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BuildCancelled, got.Status)

	// A second cancel is a no-op, and a running build cannot be cancelled here.
	ok, err = s.CancelQueued(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasActiveBuildSuppression(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, target := seedTarget(t, s, "main")

	active, err := s.HasActiveBuild(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, active)

	b := enqueue(t, s, repo, target)
	active, err = s.HasActiveBuild(ctx, target.ID)
	require.NoError(t, err)
	assert.True(t, active, "queued counts as active")

	_, err = s.ClaimNextQueued(ctx)
	require.NoError(t, err)
	active, err = s.HasActiveBuild(ctx, target.ID)
	require.NoError(t, err)
	assert.True(t, active, "running counts as active")

	require.NoError(t, s.FinishBuild(ctx, b.ID, model.BuildFailed, model.ErrKindDocBuild, "", time.Now()))
	active, err = s.HasActiveBuild(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRecordPublicationAndClear(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, target := seedTarget(t, s, "main")
	b := enqueue(t, s, repo, target)

	require.NoError(t, s.RecordPublication(ctx, target.ID, "abc", b.ID))
	got, err := s.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.LastBuiltCommit)
	require.NotNil(t, got.LatestBuildID)
	assert.Equal(t, b.ID, *got.LatestBuildID)

	require.NoError(t, s.ClearLatestBuild(ctx, target.ID))
	got, err = s.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LatestBuildID)
	assert.Equal(t, "abc", got.LastBuiltCommit, "last built commit survives artifact cleanup")
}

func TestRecoverInterrupted(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, target := seedTarget(t, s, "main")
	t2 := &model.Target{RepositoryID: repo.ID, RefKind: model.RefBranch, RefName: "dev"}
	require.NoError(t, s.CreateTarget(ctx, t2))

	enqueue(t, s, repo, target)
	running, err := s.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetBuildWorkspace(ctx, running.ID, "/ws/1", "/log/1"))
	queued := enqueue(t, s, repo, t2)

	interrupted, err := s.RecoverInterrupted(ctx)
	require.NoError(t, err)
	require.Len(t, interrupted, 1)
	assert.Equal(t, running.ID, interrupted[0].ID)
	assert.Equal(t, "/ws/1", interrupted[0].WorkspacePath, "caller gets the workspace to remove")

	got, err := s.GetBuild(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BuildFailed, got.Status)
	assert.Equal(t, model.ErrKindInterrupted, got.ErrorKind)

	got, err = s.GetBuild(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BuildQueued, got.Status, "queued rows survive recovery")
}

func TestDeleteRepositoryCascades(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, target := seedTarget(t, s, "main")
	enqueue(t, s, repo, target)

	require.NoError(t, s.DeleteRepository(ctx, repo.ID))

	_, err := s.GetTarget(ctx, target.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	builds, err := s.ListBuilds(ctx, target.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, builds)
}

func TestUpdateRepositoryMetadata(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, _ := seedTarget(t, s, "main")

	require.NoError(t, s.UpdateRepositoryMetadata(ctx, repo.ID, "demo", "1.2.3", "A demo", "https://demo.invalid"))
	got, err := s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", got.ProjectVersion)
	assert.Equal(t, "https://demo.invalid", got.ProjectHomepage)
}

func TestSetMainTarget(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, target := seedTarget(t, s, "main")

	require.NoError(t, s.SetMainTarget(ctx, repo.ID, &target.ID))
	got, err := s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MainTargetID)
	assert.Equal(t, target.ID, *got.MainTargetID)

	require.NoError(t, s.SetMainTarget(ctx, repo.ID, nil))
	got, err = s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Nil(t, got.MainTargetID)

	assert.ErrorIs(t, s.SetMainTarget(ctx, 999, nil), ErrNotFound)
}

func TestListAutoBuildTargets(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	repo, _ := seedTarget(t, s, "main")
	auto := &model.Target{RepositoryID: repo.ID, RefKind: model.RefBranch, RefName: "dev", AutoBuild: true}
	require.NoError(t, s.CreateTarget(ctx, auto))

	targets, err := s.ListAutoBuildTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "dev", targets[0].RefName)
}
