package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/repository"
)

const siteColumns = `id, project_id, slug, hosting_project_id, deployment_id, url,
	build_output_id, status, created_at, updated_at`

func scanSite(row pgx.Row) (*domain.PublishedSite, error) {
	var site domain.PublishedSite
	if err := row.Scan(&site.ID, &site.ProjectID, &site.Slug, &site.HostingProjectID, &site.DeploymentID,
		&site.URL, &site.BuildOutputID, &site.Status, &site.CreatedAt, &site.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &site, nil
}

// UpsertSite writes the single publication row for a project. A slug held by
// a live site of another project is refused so published addresses are never
// silently reassigned.
func (r *Repository) UpsertSite(ctx context.Context, site *domain.PublishedSite) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const ownerQuery = `SELECT project_id, status FROM published_sites WHERE slug = $1`
	var ownerProject, ownerStatus string
	err = tx.QueryRow(ctx, ownerQuery, site.Slug).Scan(&ownerProject, &ownerStatus)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return err
	case ownerProject != site.ProjectID && ownerStatus != domain.SiteStatusDeleted:
		return repository.ErrSlugTaken
	case ownerProject != site.ProjectID:
		return fmt.Errorf("slug %q retired by another project", site.Slug)
	}

	const query = `INSERT INTO published_sites
		(id, project_id, slug, hosting_project_id, deployment_id, url, build_output_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_id) DO UPDATE SET
			slug = EXCLUDED.slug,
			hosting_project_id = EXCLUDED.hosting_project_id,
			deployment_id = EXCLUDED.deployment_id,
			url = EXCLUDED.url,
			build_output_id = EXCLUDED.build_output_id,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, query, site.ID, site.ProjectID, site.Slug, site.HostingProjectID,
		site.DeploymentID, site.URL, site.BuildOutputID, site.Status, site.CreatedAt, site.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetSiteByProject returns the publication row for a project, deleted or not.
func (r *Repository) GetSiteByProject(ctx context.Context, projectID string) (*domain.PublishedSite, error) {
	query := `SELECT ` + siteColumns + ` FROM published_sites WHERE project_id = $1`
	return scanSite(r.pool.QueryRow(ctx, query, projectID))
}

// GetSiteBySlug returns the publication row holding a slug.
func (r *Repository) GetSiteBySlug(ctx context.Context, slug string) (*domain.PublishedSite, error) {
	query := `SELECT ` + siteColumns + ` FROM published_sites WHERE slug = $1`
	return scanSite(r.pool.QueryRow(ctx, query, slug))
}

// MarkSiteDeleted soft-deletes a publication row, keeping the hosting project
// identity for cheap republish.
func (r *Repository) MarkSiteDeleted(ctx context.Context, siteID string) error {
	const query = `UPDATE published_sites SET status = 'deleted', updated_at = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, siteID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
