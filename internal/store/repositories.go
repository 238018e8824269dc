package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/model"
)

// ErrNotFound reports a missing row.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate reports a unique-constraint violation.
var ErrDuplicate = errors.New("store: already exists")

const repoColumns = `id, name, provider, url, docs_path, auth_kind, token, deploy_key,
	verify_tls, public, main_target_id, project_name, project_version,
	project_summary, project_homepage, created_at, updated_at`

// CreateRepository inserts the row and fills ID and timestamps.
func (s *Store) CreateRepository(ctx context.Context, r *model.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.DocsPath == "" {
		r.DocsPath = "docs"
	}
	if r.AuthKind == "" {
		r.AuthKind = model.AuthNone
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (name, provider, url, docs_path, auth_kind, token,
			deploy_key, verify_tls, public, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Provider, r.URL, r.DocsPath, r.AuthKind, r.Token,
		r.DeployKey, r.VerifyTLS, r.Public, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("insert repository: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// GetRepository loads one repository or ErrNotFound.
func (s *Store) GetRepository(ctx context.Context, id int64) (*model.Repository, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+repoColumns+" FROM repositories WHERE id = ?", id)
	return scanRepository(row)
}

// ListRepositories returns every repository ordered by name.
func (s *Store) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+repoColumns+" FROM repositories ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("query repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

// UpdateRepositoryMetadata writes the manifest-derived project fields. Only
// successful builds of the designated main target call this.
func (s *Store) UpdateRepositoryMetadata(ctx context.Context, id int64, name, version, summary, homepage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE repositories
		SET project_name = ?, project_version = ?, project_summary = ?,
			project_homepage = ?, updated_at = ?
		WHERE id = ?`,
		name, version, summary, homepage, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update repository metadata: %w", err)
	}
	return nil
}

// SetMainTarget designates (or clears, with nil) the metadata-bearing target.
func (s *Store) SetMainTarget(ctx context.Context, repoID int64, targetID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE repositories SET main_target_id = ?, updated_at = ? WHERE id = ?",
		targetID, time.Now().UnixNano(), repoID)
	if err != nil {
		return fmt.Errorf("set main target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRepository removes the row; targets and builds cascade.
func (s *Store) DeleteRepository(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM repositories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*model.Repository, error) {
	var r model.Repository
	var mainTarget sql.NullInt64
	var created, updated int64
	err := row.Scan(&r.ID, &r.Name, &r.Provider, &r.URL, &r.DocsPath, &r.AuthKind,
		&r.Token, &r.DeployKey, &r.VerifyTLS, &r.Public, &mainTarget,
		&r.ProjectName, &r.ProjectVersion, &r.ProjectSummary, &r.ProjectHomepage,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}
	if mainTarget.Valid {
		r.MainTargetID = &mainTarget.Int64
	}
	r.CreatedAt = time.Unix(0, created)
	r.UpdatedAt = time.Unix(0, updated)
	return &r, nil
}
