// Package gittest builds throwaway local git repositories for tests, so the
// driver and the monitor can be exercised against real remotes without
// network access.
package gittest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Repo is a writable fixture repository rooted in a test temp dir.
type Repo struct {
	Dir string

	t    *testing.T
	repo *gogit.Repository
}

// New initializes a repository with main as the default branch.
func New(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName("main"),
		},
	})
	require.NoError(t, err)
	return &Repo{Dir: dir, t: t, repo: repo}
}

func (r *Repo) signature() *object.Signature {
	return &object.Signature{Name: "fixture", Email: "fixture@example.invalid", When: time.Now()}
}

// Commit writes the given files and commits them, returning the commit hash.
func (r *Repo) Commit(msg string, files map[string]string) string {
	r.t.Helper()
	wt, err := r.repo.Worktree()
	require.NoError(r.t, err)
	for name, content := range files {
		path := filepath.Join(r.Dir, name)
		require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
		_, err = wt.Add(name)
		require.NoError(r.t, err)
	}
	hash, err := wt.Commit(msg, &gogit.CommitOptions{Author: r.signature()})
	require.NoError(r.t, err)
	return hash.String()
}

// Branch creates a branch at the current head and checks it out.
func (r *Repo) Branch(name string) {
	r.t.Helper()
	wt, err := r.repo.Worktree()
	require.NoError(r.t, err)
	require.NoError(r.t, wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	}))
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(name string) {
	r.t.Helper()
	wt, err := r.repo.Worktree()
	require.NoError(r.t, err)
	require.NoError(r.t, wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
	}))
}

// Tag creates a lightweight tag at the current head.
func (r *Repo) Tag(name string) {
	r.t.Helper()
	head, err := r.repo.Head()
	require.NoError(r.t, err)
	_, err = r.repo.CreateTag(name, head.Hash(), nil)
	require.NoError(r.t, err)
}

// AnnotatedTag creates an annotated tag at the current head.
func (r *Repo) AnnotatedTag(name, message string) {
	r.t.Helper()
	head, err := r.repo.Head()
	require.NoError(r.t, err)
	_, err = r.repo.CreateTag(name, head.Hash(), &gogit.CreateTagOptions{
		Message: message,
		Tagger:  r.signature(),
	})
	require.NoError(r.t, err)
}

// Head returns the current head commit hash.
func (r *Repo) Head() string {
	r.t.Helper()
	head, err := r.repo.Head()
	require.NoError(r.t, err)
	return head.Hash().String()
}
