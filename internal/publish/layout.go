// Package publish owns the on-disk layout under the data directory: per-build
// workspaces, build logs, and the stable artifact tree the HTTP server serves
// directly. Artifacts are replaced by atomic directory swap under a per-target
// lock and never mutated in place.
package publish

import (
	"path/filepath"
	"strconv"
)

// Layout maps repositories, targets and builds to their directories.
//
//	<data>/repos/<repo-id>/<target-slug>/workspaces/<build-id>/{src,env,out}
//	<data>/repos/<repo-id>/<target-slug>/logs/<build-id>.log
//	<data>/artifacts/<repo-id>/<target-slug>/
type Layout struct {
	DataDir string
}

func (l Layout) ReposRoot() string     { return filepath.Join(l.DataDir, "repos") }
func (l Layout) ArtifactsRoot() string { return filepath.Join(l.DataDir, "artifacts") }

func (l Layout) RepoDir(repoID int64) string {
	return filepath.Join(l.ReposRoot(), strconv.FormatInt(repoID, 10))
}

func (l Layout) TargetDir(repoID int64, slug string) string {
	return filepath.Join(l.RepoDir(repoID), slug)
}

// WorkspaceDir is the private directory of one running build.
func (l Layout) WorkspaceDir(repoID int64, slug string, buildID int64) string {
	return filepath.Join(l.TargetDir(repoID, slug), "workspaces", strconv.FormatInt(buildID, 10))
}

func (l Layout) LogDir(repoID int64, slug string) string {
	return filepath.Join(l.TargetDir(repoID, slug), "logs")
}

func (l Layout) LogPath(repoID int64, slug string, buildID int64) string {
	return filepath.Join(l.LogDir(repoID, slug), strconv.FormatInt(buildID, 10)+".log")
}

// RepoArtifactsDir holds all of one repository's published targets.
func (l Layout) RepoArtifactsDir(repoID int64) string {
	return filepath.Join(l.ArtifactsRoot(), strconv.FormatInt(repoID, 10))
}

// ArtifactDir is the stable published path for a target; the serving layer
// reads it directly.
func (l Layout) ArtifactDir(repoID int64, slug string) string {
	return filepath.Join(l.RepoArtifactsDir(repoID), slug)
}
