package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/model"
)

const buildColumns = `id, repository_id, target_id, status, trigger_kind, ref_name,
	env_manager, commit_sha, error_kind, log_path, artifact_path, workspace_path,
	created_at, started_at, finished_at, duration_s`

// EnqueueBuild inserts the row in queued and fills ID and enqueue time.
// Enqueue never blocks; the queue lives entirely in this table.
func (s *Store) EnqueueBuild(ctx context.Context, b *model.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.Status = model.BuildQueued
	b.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (repository_id, target_id, status, trigger_kind, ref_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.RepositoryID, b.TargetID, b.Status, b.Trigger, b.RefName, b.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

// ClaimNextQueued transitions the oldest eligible queued build to running and
// returns it, or nil when nothing is dispatchable. A build is eligible when
// its target has no other running build; the guard is re-checked inside the
// UPDATE so the one-running-build-per-target invariant holds even with
// concurrent claimers.
func (s *Store) ClaimNextQueued(ctx context.Context) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		row := s.db.QueryRowContext(ctx, `
			SELECT `+buildColumns+` FROM builds b
			WHERE b.status = 'queued'
			  AND NOT EXISTS (
				SELECT 1 FROM builds r
				WHERE r.target_id = b.target_id AND r.status = 'running')
			ORDER BY b.created_at, b.id
			LIMIT 1`)
		b, err := scanBuild(row)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		started := time.Now()
		res, err := s.db.ExecContext(ctx, `
			UPDATE builds SET status = 'running', started_at = ?
			WHERE id = ? AND status = 'queued'
			  AND NOT EXISTS (
				SELECT 1 FROM builds r
				WHERE r.target_id = builds.target_id AND r.status = 'running')`,
			started.UnixNano(), b.ID)
		if err != nil {
			return nil, fmt.Errorf("claim build: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Lost the race for this row; try the next candidate.
			continue
		}
		b.Status = model.BuildRunning
		b.StartedAt = &started
		return b, nil
	}
}

// SetBuildWorkspace records the workspace and log paths once allocated.
func (s *Store) SetBuildWorkspace(ctx context.Context, id int64, workspace, logPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE builds SET workspace_path = ?, log_path = ? WHERE id = ?",
		workspace, logPath, id)
	if err != nil {
		return fmt.Errorf("set build workspace: %w", err)
	}
	return nil
}

// SetBuildEnvManager records the backend resolved at dispatch time.
func (s *Store) SetBuildEnvManager(ctx context.Context, id int64, m model.EnvManager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE builds SET env_manager = ? WHERE id = ?", m, id)
	if err != nil {
		return fmt.Errorf("set build env manager: %w", err)
	}
	return nil
}

// SetBuildCommit records the resolved commit after clone and checkout.
func (s *Store) SetBuildCommit(ctx context.Context, id int64, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE builds SET commit_sha = ? WHERE id = ?", sha, id)
	if err != nil {
		return fmt.Errorf("set build commit: %w", err)
	}
	return nil
}

// FinishBuild writes the terminal state. The workspace path is cleared since
// the directory is gone by the time this runs.
func (s *Store) FinishBuild(ctx context.Context, id int64, status model.BuildStatus, errKind model.ErrorKind, artifactPath string, finishedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finish build: %s is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE builds
		SET status = ?, error_kind = ?, artifact_path = ?, finished_at = ?,
			workspace_path = '',
			duration_s = CASE WHEN started_at IS NULL THEN 0
				ELSE (? - started_at) / 1e9 END
		WHERE id = ?`,
		status, errKind, artifactPath, finishedAt.UnixNano(), finishedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finish build: %w", err)
	}
	return nil
}

// CancelQueued flips a still-queued build to cancelled. Returns false when
// the build had already left queued.
func (s *Store) CancelQueued(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE builds SET status = 'cancelled', finished_at = ?, workspace_path = ''
		WHERE id = ? AND status = 'queued'`,
		now.UnixNano(), id)
	if err != nil {
		return false, fmt.Errorf("cancel build: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetBuild loads one build or ErrNotFound.
func (s *Store) GetBuild(ctx context.Context, id int64) (*model.Build, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+buildColumns+" FROM builds WHERE id = ?", id)
	return scanBuild(row)
}

// ListBuilds returns builds newest-first, optionally filtered by target.
// limit <= 0 returns everything.
func (s *Store) ListBuilds(ctx context.Context, targetID int64, limit int) ([]model.Build, error) {
	query := "SELECT " + buildColumns + " FROM builds"
	var args []any
	if targetID > 0 {
		query += " WHERE target_id = ?"
		args = append(args, targetID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryBuilds(ctx, query, args...)
}

// ListBuildsForRepository returns a repository's builds newest-first.
func (s *Store) ListBuildsForRepository(ctx context.Context, repoID int64) ([]model.Build, error) {
	return s.queryBuilds(ctx,
		"SELECT "+buildColumns+" FROM builds WHERE repository_id = ? ORDER BY created_at DESC, id DESC",
		repoID)
}

// HasActiveBuild reports whether the target has a queued or running build.
// The monitor uses it to suppress duplicate enqueues.
func (s *Store) HasActiveBuild(ctx context.Context, targetID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM builds WHERE target_id = ? AND status IN ('queued', 'running')",
		targetID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count active builds: %w", err)
	}
	return n > 0, nil
}

// QueuedCount returns the ready-set size for the queue depth gauge.
func (s *Store) QueuedCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM builds WHERE status = 'queued'").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued builds: %w", err)
	}
	return n, nil
}

// RecoverInterrupted fails every build left running by a previous process and
// returns them so the caller can remove their workspaces. Queued rows are
// untouched and dispatch normally.
func (s *Store) RecoverInterrupted(ctx context.Context) ([]model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	interrupted, err := s.queryBuilds(ctx,
		"SELECT "+buildColumns+" FROM builds WHERE status = 'running' ORDER BY id")
	if err != nil {
		return nil, err
	}
	if len(interrupted) == 0 {
		return nil, nil
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE builds
		SET status = 'failed', error_kind = ?, finished_at = ?, workspace_path = '',
			duration_s = CASE WHEN started_at IS NULL THEN 0
				ELSE (? - started_at) / 1e9 END
		WHERE status = 'running'`,
		model.ErrKindInterrupted, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("recover interrupted builds: %w", err)
	}
	return interrupted, nil
}

func (s *Store) queryBuilds(ctx context.Context, query string, args ...any) ([]model.Build, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var builds []model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *b)
	}
	return builds, rows.Err()
}

func scanBuild(row rowScanner) (*model.Build, error) {
	var b model.Build
	var created int64
	var started, finished sql.NullInt64
	err := row.Scan(&b.ID, &b.RepositoryID, &b.TargetID, &b.Status, &b.Trigger,
		&b.RefName, &b.EnvManager, &b.Commit, &b.ErrorKind, &b.LogPath,
		&b.ArtifactPath, &b.WorkspacePath, &created, &started, &finished, &b.DurationS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan build: %w", err)
	}
	b.CreatedAt = time.Unix(0, created)
	b.StartedAt = timePtr(started)
	b.FinishedAt = timePtr(finished)
	return &b, nil
}
