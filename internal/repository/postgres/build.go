package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/repository"
)

func marshalFiles(files []domain.GeneratedFile) ([]byte, error) {
	if files == nil {
		files = []domain.GeneratedFile{}
	}
	data, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("marshal build files: %w", err)
	}
	return data, nil
}

// CreateBuildOutput inserts a new build in generating state.
func (r *Repository) CreateBuildOutput(ctx context.Context, build *domain.BuildOutput) error {
	data, err := marshalFiles(build.Files)
	if err != nil {
		return err
	}
	const query = `INSERT INTO build_outputs
		(id, project_id, framework, styling, typescript, status, files, verified, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.pool.Exec(ctx, query, build.ID, build.ProjectID, build.Framework, build.Styling,
		build.TypeScript, build.Status, data, build.Verified, build.Error, build.CreatedAt, build.UpdatedAt)
	return err
}

// UpdateBuildFiles overwrites the file set of an in-flight build.
func (r *Repository) UpdateBuildFiles(ctx context.Context, buildID string, files []domain.GeneratedFile) error {
	data, err := marshalFiles(files)
	if err != nil {
		return err
	}
	const query = `UPDATE build_outputs SET files = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, buildID, data, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// FinishBuild transitions a generating build to a terminal status. Builds
// already finished are left untouched.
func (r *Repository) FinishBuild(ctx context.Context, buildID, status, buildErr string, verified bool, files []domain.GeneratedFile) error {
	data, err := marshalFiles(files)
	if err != nil {
		return err
	}
	const query = `UPDATE build_outputs
		SET status = $2, error = $3, verified = $4, files = $5, updated_at = $6
		WHERE id = $1 AND status = 'generating'`
	tag, err := r.pool.Exec(ctx, query, buildID, status, buildErr, verified, data, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanBuild(row pgx.Row) (*domain.BuildOutput, error) {
	var build domain.BuildOutput
	var data []byte
	if err := row.Scan(&build.ID, &build.ProjectID, &build.Framework, &build.Styling, &build.TypeScript,
		&build.Status, &data, &build.Verified, &build.Error, &build.PreviewURL, &build.PreviewToken,
		&build.CreatedAt, &build.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &build.Files); err != nil {
			return nil, fmt.Errorf("unmarshal build files: %w", err)
		}
	}
	return &build, nil
}

const buildColumns = `id, project_id, framework, styling, typescript, status, files, verified,
	error, COALESCE(preview_url, ''), preview_token, created_at, updated_at`

// GetBuildOutput fetches a build by identifier.
func (r *Repository) GetBuildOutput(ctx context.Context, buildID string) (*domain.BuildOutput, error) {
	query := `SELECT ` + buildColumns + ` FROM build_outputs WHERE id = $1`
	return scanBuild(r.pool.QueryRow(ctx, query, buildID))
}

// GetLatestCompleteBuild returns the newest complete build for a project.
func (r *Repository) GetLatestCompleteBuild(ctx context.Context, projectID string) (*domain.BuildOutput, error) {
	query := `SELECT ` + buildColumns + ` FROM build_outputs
		WHERE project_id = $1 AND status = 'complete'
		ORDER BY created_at DESC LIMIT 1`
	return scanBuild(r.pool.QueryRow(ctx, query, projectID))
}

// ListBuildsByProject returns recent builds for a project.
func (r *Repository) ListBuildsByProject(ctx context.Context, projectID string, limit int) ([]domain.BuildOutput, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + buildColumns + ` FROM build_outputs
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	builds := make([]domain.BuildOutput, 0)
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *build)
	}
	return builds, rows.Err()
}

// SetBuildPreview stores preview deployment details for a build.
func (r *Repository) SetBuildPreview(ctx context.Context, buildID, url string, token []byte) error {
	const query = `UPDATE build_outputs SET preview_url = $2, preview_token = $3, updated_at = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, buildID, url, token, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClearBuildPreview drops preview details for a build.
func (r *Repository) ClearBuildPreview(ctx context.Context, buildID string) error {
	const query = `UPDATE build_outputs SET preview_url = NULL, preview_token = NULL, updated_at = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, buildID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
