package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docfleet/internal/metrics"
	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/publish"
	"git.home.luguber.info/inful/docfleet/internal/store"
)

type httpFixture struct {
	store   *store.Store
	layout  publish.Layout
	handler http.Handler
	queue   *Queue
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	dataDir := t.TempDir()
	st, err := store.Open(filepath.Join(dataDir, "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	layout := publish.Layout{DataDir: dataDir}
	queue := NewQueue(st, &fakeRunner{store: st}, 1, metrics.Nop{}, nil)
	janitor, err := NewJanitor(layout, time.Hour, clockwork.NewFakeClock())
	require.NoError(t, err)
	srv := &HTTPServer{
		Store:   st,
		Layout:  layout,
		Queue:   queue,
		Metrics: metrics.NewPrometheus(),
		Janitor: janitor,
	}
	return &httpFixture{store: st, layout: layout, handler: srv.Handler(), queue: queue}
}

func (f *httpFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *httpFixture) createRepo(t *testing.T) model.Repository {
	t.Helper()
	rec := f.do(t, "POST", "/api/repos", map[string]any{
		"name": "widgets",
		"url":  "https://git.example.com/acme/widgets.git",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var repo model.Repository
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repo))
	return repo
}

func (f *httpFixture) createTarget(t *testing.T, repoID int64, refName string) model.Target {
	t.Helper()
	rec := f.do(t, "POST", "/api/repos/"+int64String(repoID)+"/targets", map[string]any{
		"ref_type": "branch",
		"ref_name": refName,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var target model.Target
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &target))
	return target
}

func int64String(id int64) string { return strconv.FormatInt(id, 10) }

func TestHealthz(t *testing.T) {
	f := newHTTPFixture(t)
	rec := f.do(t, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestNavScriptServed(t *testing.T) {
	f := newHTTPFixture(t)
	rec := f.do(t, "GET", "/assets/nav.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "__DOCFLEET_NAV")
}

func TestRepoLifecycle(t *testing.T) {
	f := newHTTPFixture(t)
	repo := f.createRepo(t)
	assert.Equal(t, "docs", repo.DocsPath)
	assert.True(t, repo.VerifyTLS)

	rec := f.do(t, "GET", "/api/repos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var repos []model.Repository
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repos))
	require.Len(t, repos, 1)

	rec = f.do(t, "DELETE", "/api/repos/"+int64String(repo.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, "GET", "/api/repos/"+int64String(repo.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRepoValidation(t *testing.T) {
	f := newHTTPFixture(t)
	rec := f.do(t, "POST", "/api/repos", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/api/repos", map[string]any{
		"name": "x", "url": "https://x", "auth_kind": "kerberos",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDuplicateTargetConflicts(t *testing.T) {
	f := newHTTPFixture(t)
	repo := f.createRepo(t)
	f.createTarget(t, repo.ID, "main")

	rec := f.do(t, "POST", "/api/repos/"+int64String(repo.ID)+"/targets", map[string]any{
		"ref_type": "branch",
		"ref_name": "main",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMainTargetSelection(t *testing.T) {
	f := newHTTPFixture(t)
	repo := f.createRepo(t)
	target := f.createTarget(t, repo.ID, "main")

	rec := f.do(t, "PUT", "/api/repos/"+int64String(repo.ID)+"/main-target",
		map[string]any{"target_id": target.ID})
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := f.store.GetRepository(context.Background(), repo.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MainTargetID)
	assert.Equal(t, target.ID, *stored.MainTargetID)

	// A target of another repository is rejected.
	other := f.createRepo(t)
	foreign := f.createTarget(t, other.ID, "main")
	rec = f.do(t, "PUT", "/api/repos/"+int64String(repo.ID)+"/main-target",
		map[string]any{"target_id": foreign.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualEnqueue(t *testing.T) {
	f := newHTTPFixture(t)
	repo := f.createRepo(t)
	target := f.createTarget(t, repo.ID, "main")

	rec := f.do(t, "POST", "/api/targets/"+int64String(target.ID)+"/builds", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var build model.Build
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &build))
	assert.Equal(t, model.BuildQueued, build.Status)
	assert.Equal(t, model.TriggerManual, build.Trigger)

	rec = f.do(t, "GET", "/api/targets/"+int64String(target.ID)+"/builds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var builds []model.Build
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &builds))
	assert.Len(t, builds, 1)
}

func TestCancelFinishedBuildConflicts(t *testing.T) {
	f := newHTTPFixture(t)
	repo := f.createRepo(t)
	target := f.createTarget(t, repo.ID, "main")
	ctx := context.Background()

	build := &model.Build{RepositoryID: repo.ID, TargetID: target.ID, Trigger: model.TriggerManual, RefName: "main"}
	require.NoError(t, f.store.EnqueueBuild(ctx, build))
	claimed, err := f.store.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.FinishBuild(ctx, claimed.ID, model.BuildSucceeded, model.ErrKindNone, "", time.Now()))

	rec := f.do(t, "POST", "/api/builds/"+int64String(build.ID)+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefsJSONShape(t *testing.T) {
	f := newHTTPFixture(t)
	repo := f.createRepo(t)
	published := f.createTarget(t, repo.ID, "main")
	f.createTarget(t, repo.ID, "develop")
	ctx := context.Background()

	// Publish main: database pointer plus on-disk artifact.
	require.NoError(t, f.store.RecordPublication(ctx, published.ID, "sha", 1))
	artifact := f.layout.ArtifactDir(repo.ID, published.Slug())
	require.NoError(t, os.MkdirAll(artifact, 0o755))

	rec := f.do(t, "GET", "/"+int64String(repo.ID)+"/refs.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Repo struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"repo"`
		Targets []struct {
			RefType     string  `json:"ref_type"`
			RefName     string  `json:"ref_name"`
			Slug        string  `json:"slug"`
			URL         *string `json:"url"`
			HasArtifact bool    `json:"has_artifact"`
		} `json:"targets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, repo.ID, resp.Repo.ID)
	assert.Equal(t, "widgets", resp.Repo.Name)
	require.Len(t, resp.Targets, 2)

	byName := map[string]int{resp.Targets[0].RefName: 0, resp.Targets[1].RefName: 1}
	main := resp.Targets[byName["main"]]
	develop := resp.Targets[byName["develop"]]
	assert.True(t, main.HasArtifact)
	require.NotNil(t, main.URL)
	assert.Equal(t, "/artifacts/"+int64String(repo.ID)+"/"+main.Slug+"/index.html", *main.URL)
	assert.False(t, develop.HasArtifact)
	assert.Nil(t, develop.URL)
}

func TestArtifactServing(t *testing.T) {
	f := newHTTPFixture(t)
	repo := f.createRepo(t)
	target := f.createTarget(t, repo.ID, "main")

	artifact := f.layout.ArtifactDir(repo.ID, target.Slug())
	require.NoError(t, os.MkdirAll(artifact, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "index.html"), []byte("<html></html>"), 0o644))

	rec := f.do(t, "GET", "/artifacts/"+int64String(repo.ID)+"/"+target.Slug()+"/index.html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html></html>", rec.Body.String())
}

func TestDeleteArtifactsClearsPointer(t *testing.T) {
	f := newHTTPFixture(t)
	repo := f.createRepo(t)
	target := f.createTarget(t, repo.ID, "main")
	ctx := context.Background()

	require.NoError(t, f.store.RecordPublication(ctx, target.ID, "sha", 1))
	artifact := f.layout.ArtifactDir(repo.ID, target.Slug())
	require.NoError(t, os.MkdirAll(artifact, 0o755))

	rec := f.do(t, "DELETE", "/api/targets/"+int64String(target.ID)+"/artifacts", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := os.Stat(artifact)
	assert.True(t, os.IsNotExist(err))
	stored, err := f.store.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LatestBuildID)
}

func TestBuildLogDownload(t *testing.T) {
	f := newHTTPFixture(t)
	repo := f.createRepo(t)
	target := f.createTarget(t, repo.ID, "main")
	ctx := context.Background()

	build := &model.Build{RepositoryID: repo.ID, TargetID: target.ID, Trigger: model.TriggerManual, RefName: "main"}
	require.NoError(t, f.store.EnqueueBuild(ctx, build))
	claimed, err := f.store.ClaimNextQueued(ctx)
	require.NoError(t, err)

	logPath := f.layout.LogPath(repo.ID, target.Slug(), claimed.ID)
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte("build output\n"), 0o644))
	require.NoError(t, f.store.SetBuildWorkspace(ctx, claimed.ID, "", logPath))

	rec := f.do(t, "GET", "/api/builds/"+int64String(claimed.ID)+"/log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "build output\n", rec.Body.String())
}
