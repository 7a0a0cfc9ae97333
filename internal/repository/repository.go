package repository

import (
	"context"

	"github.com/splax/sitesmith/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// ProjectRepository persists projects and their build configuration.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	UpsertBuildConfig(ctx context.Context, cfg *domain.BuildConfig) error
	GetBuildConfig(ctx context.Context, projectID string) (*domain.BuildConfig, error)
}

// BuildRepository stores generation pipeline output.
type BuildRepository interface {
	CreateBuildOutput(ctx context.Context, build *domain.BuildOutput) error
	// UpdateBuildFiles overwrites the persisted file set for an in-flight
	// build so partial progress survives a later failure.
	UpdateBuildFiles(ctx context.Context, buildID string, files []domain.GeneratedFile) error
	// FinishBuild moves a build from generating to a terminal status. It must
	// not touch builds already finished.
	FinishBuild(ctx context.Context, buildID, status, buildErr string, verified bool, files []domain.GeneratedFile) error
	GetBuildOutput(ctx context.Context, buildID string) (*domain.BuildOutput, error)
	GetLatestCompleteBuild(ctx context.Context, projectID string) (*domain.BuildOutput, error)
	ListBuildsByProject(ctx context.Context, projectID string, limit int) ([]domain.BuildOutput, error)
	SetBuildPreview(ctx context.Context, buildID, url string, token []byte) error
	ClearBuildPreview(ctx context.Context, buildID string) error
}

// SiteRepository stores published site records.
type SiteRepository interface {
	// UpsertSite keeps at most one non-deleted row per project and refuses to
	// hand a live slug to a different project.
	UpsertSite(ctx context.Context, site *domain.PublishedSite) error
	GetSiteByProject(ctx context.Context, projectID string) (*domain.PublishedSite, error)
	GetSiteBySlug(ctx context.Context, slug string) (*domain.PublishedSite, error)
	MarkSiteDeleted(ctx context.Context, siteID string) error
}

// LogRepository handles activity log persistence and retrieval.
type LogRepository interface {
	AppendLog(ctx context.Context, entry domain.ActivityLog) error
	ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ActivityLog, error)
}
