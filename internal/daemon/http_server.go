package daemon

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/logfields"
	"git.home.luguber.info/inful/docfleet/internal/metrics"
	"git.home.luguber.info/inful/docfleet/internal/publish"
	"git.home.luguber.info/inful/docfleet/internal/store"
)

//go:embed assets/nav.js
var assetsFS embed.FS

// HTTPServer is the daemon's single HTTP surface: published artifacts, the
// version-selector support endpoints, health, metrics, and the admin API.
type HTTPServer struct {
	Store   *store.Store
	Layout  publish.Layout
	Queue   *Queue
	Metrics *metrics.Prometheus
	Janitor *Janitor

	// GitTimeout bounds the remote ref listing endpoint.
	GitTimeout time.Duration

	srv *http.Server
}

// Handler assembles the mux. Exposed for tests.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	artifacts := http.FileServer(http.Dir(h.Layout.ArtifactsRoot()))
	mux.Handle("GET /artifacts/", http.StripPrefix("/artifacts/", artifacts))

	assets, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServerFS(assets)))

	mux.HandleFunc("GET /{repo}/refs.json", h.handleRefsJSON)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics.Handler())
	}
	h.registerAdmin(mux)
	return mux
}

// Start runs the server in the background; Shutdown stops it.
func (h *HTTPServer) Start(listen string) {
	h.srv = &http.Server{
		Addr:              listen,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server listening", slog.String("addr", listen))
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", logfields.Error(err))
		}
	}()
}

func (h *HTTPServer) Shutdown(ctx context.Context) error {
	if h.srv == nil {
		return nil
	}
	return h.srv.Shutdown(ctx)
}

// refsResponse is the contract of /{repo-id}/refs.json, consumed by the
// injected nav script.
type refsResponse struct {
	Repo    refsRepo    `json:"repo"`
	Targets []refTarget `json:"targets"`
}

type refsRepo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type refTarget struct {
	ID          int64   `json:"id"`
	RefType     string  `json:"ref_type"`
	RefName     string  `json:"ref_name"`
	Slug        string  `json:"slug"`
	URL         *string `json:"url"`
	HasArtifact bool    `json:"has_artifact"`
}

func (h *HTTPServer) handleRefsJSON(w http.ResponseWriter, r *http.Request) {
	repoID, err := strconv.ParseInt(r.PathValue("repo"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	repo, err := h.Store.GetRepository(r.Context(), repoID)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	targets, err := h.Store.ListTargets(r.Context(), repoID)
	if err != nil {
		httpStoreError(w, err)
		return
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].RefKind != targets[j].RefKind {
			return targets[i].RefKind < targets[j].RefKind
		}
		return targets[i].RefName < targets[j].RefName
	})

	resp := refsResponse{
		Repo:    refsRepo{ID: repo.ID, Name: repo.Name},
		Targets: make([]refTarget, 0, len(targets)),
	}
	for i := range targets {
		t := &targets[i]
		slug := t.Slug()
		// The artifact check is on disk so a manual cleanup takes effect
		// without waiting for database bookkeeping.
		has := t.LatestBuildID != nil && dirExists(h.Layout.ArtifactDir(repo.ID, slug))
		entry := refTarget{
			ID:          t.ID,
			RefType:     string(t.RefKind),
			RefName:     t.RefName,
			Slug:        slug,
			HasArtifact: has,
		}
		if has {
			url := "/artifacts/" + strconv.FormatInt(repo.ID, 10) + "/" + slug + "/index.html"
			entry.URL = &url
		}
		resp.Targets = append(resp.Targets, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode http response", logfields.Error(err))
	}
}

type apiError struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

func httpStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	slog.Error("store query failed", logfields.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
