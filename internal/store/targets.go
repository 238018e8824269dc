package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/model"
)

const targetColumns = `id, repository_id, ref_kind, ref_name, auto_build, env_manager,
	last_built_commit, latest_build_id, created_at`

// CreateTarget inserts the row. The (repository, ref kind, ref name) pair is
// unique; a duplicate insert fails.
func (s *Store) CreateTarget(ctx context.Context, t *model.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (repository_id, ref_kind, ref_name, auto_build, env_manager, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.RepositoryID, t.RefKind, t.RefName, t.AutoBuild, t.EnvManager, t.CreatedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicate
		}
		return fmt.Errorf("insert target: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

// GetTarget loads one target or ErrNotFound.
func (s *Store) GetTarget(ctx context.Context, id int64) (*model.Target, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+targetColumns+" FROM targets WHERE id = ?", id)
	return scanTarget(row)
}

// ListTargets returns a repository's targets ordered by kind then name.
func (s *Store) ListTargets(ctx context.Context, repoID int64) ([]model.Target, error) {
	return s.queryTargets(ctx,
		"SELECT "+targetColumns+" FROM targets WHERE repository_id = ? ORDER BY ref_kind, ref_name", repoID)
}

// ListAutoBuildTargets returns every target the monitor sweeps.
func (s *Store) ListAutoBuildTargets(ctx context.Context) ([]model.Target, error) {
	return s.queryTargets(ctx,
		"SELECT "+targetColumns+" FROM targets WHERE auto_build = 1 ORDER BY id")
}

// DeleteTarget removes the row; its builds cascade.
func (s *Store) DeleteTarget(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM targets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPublication stamps a successful publish: the commit the artifact was
// built from and the build it belongs to. Called only after the swap.
func (s *Store) RecordPublication(ctx context.Context, targetID int64, commit string, buildID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE targets SET last_built_commit = ?, latest_build_id = ? WHERE id = ?",
		commit, buildID, targetID)
	if err != nil {
		return fmt.Errorf("record publication: %w", err)
	}
	return nil
}

// ClearLatestBuild detaches the target from its published artifact, used when
// the artifact directory is deleted.
func (s *Store) ClearLatestBuild(ctx context.Context, targetID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE targets SET latest_build_id = NULL WHERE id = ?", targetID)
	if err != nil {
		return fmt.Errorf("clear latest build: %w", err)
	}
	return nil
}

func (s *Store) queryTargets(ctx context.Context, query string, args ...any) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var targets []model.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

func scanTarget(row rowScanner) (*model.Target, error) {
	var t model.Target
	var latest sql.NullInt64
	var created int64
	err := row.Scan(&t.ID, &t.RepositoryID, &t.RefKind, &t.RefName, &t.AutoBuild,
		&t.EnvManager, &t.LastBuiltCommit, &latest, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	if latest.Valid {
		t.LatestBuildID = &latest.Int64
	}
	t.CreatedAt = time.Unix(0, created)
	return &t, nil
}
