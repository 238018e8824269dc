package publish

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RemoveArtifacts deletes a target's published artifact directory, including
// any staging or backup siblings left behind by an interrupted swap.
func (l Layout) RemoveArtifacts(repoID int64, slug string) error {
	final := l.ArtifactDir(repoID, slug)
	parent := filepath.Dir(final)
	entries, err := os.ReadDir(parent)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read artifact parent: %w", err)
	}
	base := filepath.Base(final)
	for _, e := range entries {
		name := e.Name()
		if name == base || strings.HasPrefix(name, base+".") {
			if err := os.RemoveAll(filepath.Join(parent, name)); err != nil {
				return fmt.Errorf("remove artifact %s: %w", name, err)
			}
		}
	}
	return nil
}

// PurgeRepository removes everything a repository left on disk: workspaces,
// logs, and published artifacts.
func (l Layout) PurgeRepository(repoID int64) error {
	if err := os.RemoveAll(l.RepoDir(repoID)); err != nil {
		return fmt.Errorf("remove repo tree: %w", err)
	}
	if err := os.RemoveAll(l.RepoArtifactsDir(repoID)); err != nil {
		return fmt.Errorf("remove repo artifacts: %w", err)
	}
	return nil
}

// SweepLogs deletes build logs older than the horizon across every target and
// returns how many were removed. A zero horizon keeps logs forever.
func (l Layout) SweepLogs(horizon time.Duration, now time.Time) (int, error) {
	if horizon <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-horizon)
	removed := 0
	err := filepath.WalkDir(l.ReposRoot(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".log" {
			return nil
		}
		if filepath.Base(filepath.Dir(path)) != "logs" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if os.IsNotExist(err) {
		err = nil
	}
	return removed, err
}

// RemoveOrphanWorkspaces deletes every workspace directory on disk. Called at
// startup before any worker runs, when every workspace is by definition
// orphaned. Returns the removed paths.
func (l Layout) RemoveOrphanWorkspaces() ([]string, error) {
	var removed []string
	targets, err := l.targetDirs()
	if err != nil {
		return nil, err
	}
	for _, dir := range targets {
		wsRoot := filepath.Join(dir, "workspaces")
		entries, err := os.ReadDir(wsRoot)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("read workspaces %s: %w", wsRoot, err)
		}
		for _, e := range entries {
			path := filepath.Join(wsRoot, e.Name())
			if err := os.RemoveAll(path); err != nil {
				return removed, fmt.Errorf("remove workspace %s: %w", path, err)
			}
			removed = append(removed, path)
		}
	}
	return removed, nil
}

// targetDirs enumerates every <repos>/<repo-id>/<slug> directory.
func (l Layout) targetDirs() ([]string, error) {
	var dirs []string
	repos, err := os.ReadDir(l.ReposRoot())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read repos root: %w", err)
	}
	for _, repo := range repos {
		if !repo.IsDir() {
			continue
		}
		repoDir := filepath.Join(l.ReposRoot(), repo.Name())
		slugs, err := os.ReadDir(repoDir)
		if err != nil {
			return nil, fmt.Errorf("read repo dir %s: %w", repoDir, err)
		}
		for _, slug := range slugs {
			if slug.IsDir() {
				dirs = append(dirs, filepath.Join(repoDir, slug.Name()))
			}
		}
	}
	return dirs, nil
}
