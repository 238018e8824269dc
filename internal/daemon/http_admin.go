package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"git.home.luguber.info/inful/docfleet/internal/git"
	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/store"
)

// Janitor is optional; POST /api/cleanup/logs without one is a 404.
func (h *HTTPServer) registerAdmin(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/repos", h.handleCreateRepo)
	mux.HandleFunc("GET /api/repos", h.handleListRepos)
	mux.HandleFunc("GET /api/repos/{id}", h.handleGetRepo)
	mux.HandleFunc("DELETE /api/repos/{id}", h.handleDeleteRepo)
	mux.HandleFunc("PUT /api/repos/{id}/main-target", h.handleSetMainTarget)
	mux.HandleFunc("GET /api/repos/{id}/refs", h.handleRemoteRefs)

	mux.HandleFunc("POST /api/repos/{id}/targets", h.handleCreateTarget)
	mux.HandleFunc("GET /api/repos/{id}/targets", h.handleListTargets)
	mux.HandleFunc("DELETE /api/targets/{id}", h.handleDeleteTarget)
	mux.HandleFunc("DELETE /api/targets/{id}/artifacts", h.handleDeleteArtifacts)

	mux.HandleFunc("POST /api/targets/{id}/builds", h.handleEnqueueBuild)
	mux.HandleFunc("GET /api/targets/{id}/builds", h.handleListBuilds)
	mux.HandleFunc("GET /api/builds/{id}", h.handleGetBuild)
	mux.HandleFunc("GET /api/builds/{id}/log", h.handleBuildLog)
	mux.HandleFunc("POST /api/builds/{id}/cancel", h.handleCancelBuild)

	if h.Janitor != nil {
		mux.HandleFunc("POST /api/cleanup/logs", h.handleCleanupLogs)
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

type createRepoRequest struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	URL       string `json:"url"`
	DocsPath  string `json:"docs_path"`
	AuthKind  string `json:"auth_kind"`
	Token     string `json:"token"`
	DeployKey string `json:"deploy_key"`
	VerifyTLS *bool  `json:"verify_tls"`
	Public    bool   `json:"public"`
}

func (h *HTTPServer) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	var req createRepoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}
	switch model.AuthKind(req.AuthKind) {
	case "", model.AuthNone, model.AuthToken, model.AuthSSHAgent, model.AuthSSHKey:
	default:
		writeError(w, http.StatusBadRequest, "unknown auth_kind "+strconv.Quote(req.AuthKind))
		return
	}
	repo := &model.Repository{
		Name:      req.Name,
		Provider:  req.Provider,
		URL:       req.URL,
		DocsPath:  req.DocsPath,
		AuthKind:  model.AuthKind(req.AuthKind),
		Token:     req.Token,
		DeployKey: req.DeployKey,
		VerifyTLS: req.VerifyTLS == nil || *req.VerifyTLS,
		Public:    req.Public,
	}
	if err := h.Store.CreateRepository(r.Context(), repo); err != nil {
		httpStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (h *HTTPServer) handleListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.Store.ListRepositories(r.Context())
	if err != nil {
		httpStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (h *HTTPServer) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}
	repo, err := h.Store.GetRepository(r.Context(), id)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// handleDeleteRepo removes the rows (cascading to targets and builds) and
// then the repository's whole on-disk footprint.
func (h *HTTPServer) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}
	if err := h.Store.DeleteRepository(r.Context(), id); err != nil {
		httpStoreError(w, err)
		return
	}
	if err := h.Layout.PurgeRepository(id); err != nil {
		writeError(w, http.StatusInternalServerError, "rows deleted but disk purge failed: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mainTargetRequest struct {
	TargetID *int64 `json:"target_id"`
}

func (h *HTTPServer) handleSetMainTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}
	var req mainTargetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TargetID != nil {
		target, err := h.Store.GetTarget(r.Context(), *req.TargetID)
		if err != nil {
			httpStoreError(w, err)
			return
		}
		if target.RepositoryID != id {
			writeError(w, http.StatusBadRequest, "target belongs to another repository")
			return
		}
	}
	if err := h.Store.SetMainTarget(r.Context(), id, req.TargetID); err != nil {
		httpStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoteRefs lists a remote's branches or tags for the admin UI's ref
// picker. ?type=tag switches to tags; anything else means branches.
func (h *HTTPServer) handleRemoteRefs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}
	repo, err := h.Store.GetRepository(r.Context(), id)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	kind := model.RefBranch
	if r.URL.Query().Get("type") == string(model.RefTag) {
		kind = model.RefTag
	}
	ctx := r.Context()
	if h.GitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.GitTimeout)
		defer cancel()
	}
	names, err := git.ListRemoteRefs(ctx, repo.URL, kind, git.AuthFor(repo), !repo.VerifyTLS)
	if err != nil {
		writeError(w, http.StatusBadGateway, "remote listing failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": string(kind), "names": names})
}

type createTargetRequest struct {
	RefType    string `json:"ref_type"`
	RefName    string `json:"ref_name"`
	AutoBuild  bool   `json:"auto_build"`
	EnvManager string `json:"env_manager"`
}

func (h *HTTPServer) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	repoID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}
	var req createTargetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind := model.RefKind(req.RefType)
	if kind != model.RefBranch && kind != model.RefTag {
		writeError(w, http.StatusBadRequest, "ref_type must be branch or tag")
		return
	}
	if req.RefName == "" {
		writeError(w, http.StatusBadRequest, "ref_name is required")
		return
	}
	switch model.EnvManager(req.EnvManager) {
	case model.EnvManagerInherit, model.EnvManagerUV, model.EnvManagerPyenv:
	default:
		writeError(w, http.StatusBadRequest, "env_manager must be uv, pyenv or empty")
		return
	}
	if _, err := h.Store.GetRepository(r.Context(), repoID); err != nil {
		httpStoreError(w, err)
		return
	}
	target := &model.Target{
		RepositoryID: repoID,
		RefKind:      kind,
		RefName:      req.RefName,
		AutoBuild:    req.AutoBuild,
		EnvManager:   model.EnvManager(req.EnvManager),
	}
	if err := h.Store.CreateTarget(r.Context(), target); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "target already tracked")
			return
		}
		httpStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, target)
}

func (h *HTTPServer) handleListTargets(w http.ResponseWriter, r *http.Request) {
	repoID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}
	targets, err := h.Store.ListTargets(r.Context(), repoID)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (h *HTTPServer) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return
	}
	target, err := h.Store.GetTarget(r.Context(), id)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	if err := h.Store.DeleteTarget(r.Context(), id); err != nil {
		httpStoreError(w, err)
		return
	}
	if err := h.Layout.RemoveArtifacts(target.RepositoryID, target.Slug()); err != nil {
		writeError(w, http.StatusInternalServerError, "row deleted but artifact removal failed: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteArtifacts drops a target's published tree but keeps the target
// tracked; the latest-build pointer is cleared so refs.json stops linking it.
func (h *HTTPServer) handleDeleteArtifacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return
	}
	target, err := h.Store.GetTarget(r.Context(), id)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	if err := h.Layout.RemoveArtifacts(target.RepositoryID, target.Slug()); err != nil {
		writeError(w, http.StatusInternalServerError, "artifact removal failed: "+err.Error())
		return
	}
	if err := h.Store.ClearLatestBuild(r.Context(), id); err != nil {
		httpStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPServer) handleEnqueueBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return
	}
	target, err := h.Store.GetTarget(r.Context(), id)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	build := &model.Build{
		RepositoryID: target.RepositoryID,
		TargetID:     target.ID,
		Trigger:      model.TriggerManual,
		RefName:      target.RefName,
	}
	if err := h.Queue.Enqueue(r.Context(), build); err != nil {
		httpStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, build)
}

func (h *HTTPServer) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	builds, err := h.Store.ListBuilds(r.Context(), id, limit)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, builds)
}

func (h *HTTPServer) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid build id")
		return
	}
	build, err := h.Store.GetBuild(r.Context(), id)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

func (h *HTTPServer) handleBuildLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid build id")
		return
	}
	build, err := h.Store.GetBuild(r.Context(), id)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	if build.LogPath == "" {
		writeError(w, http.StatusNotFound, "build has no log")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeFile(w, r, build.LogPath)
}

func (h *HTTPServer) handleCancelBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid build id")
		return
	}
	if _, err := h.Store.GetBuild(r.Context(), id); err != nil {
		httpStoreError(w, err)
		return
	}
	ok, err := h.Queue.Cancel(r.Context(), id)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "build already finished")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *HTTPServer) handleCleanupLogs(w http.ResponseWriter, r *http.Request) {
	removed, err := h.Janitor.SweepOnce()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "log sweep failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
