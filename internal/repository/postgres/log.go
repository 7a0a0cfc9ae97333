package postgres

import (
	"context"

	"github.com/splax/sitesmith/internal/domain"
)

// AppendLog inserts an activity log entry.
func (r *Repository) AppendLog(ctx context.Context, entry domain.ActivityLog) error {
	const query = `INSERT INTO project_logs (project_id, source, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, entry.ProjectID, entry.Source, entry.Level, entry.Message, entry.Metadata, entry.CreatedAt)
	return err
}

// ListLogsByProject returns recent activity log entries.
func (r *Repository) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ActivityLog, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, project_id, source, level, message, metadata, created_at
		FROM project_logs WHERE project_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ActivityLog, 0)
	for rows.Next() {
		var entry domain.ActivityLog
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &entry.Source, &entry.Level, &entry.Message, &entry.Metadata, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
