package project

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/repository"
)

var (
	errInvalidName      = errors.New("project name is required")
	errInvalidFramework = errors.New("framework must be react, vue, or static")
	errMissingOwner     = errors.New("owner id required")
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	OwnerID     string
	Name        string
	Description string
	Brief       string
}

// ConfigInput holds generation settings for a project.
type ConfigInput struct {
	ProjectID  string
	Framework  string
	Styling    string
	TypeScript bool
}

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{projects: projects, logger: logger}
}

// Create registers a new project.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, errMissingOwner
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, errInvalidName
	}
	project := &domain.Project{
		ID:          uuid.NewString(),
		OwnerID:     input.OwnerID,
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		Brief:       input.Brief,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "owner_id", project.OwnerID)
	return project, nil
}

// Get returns a project by id.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	return s.projects.GetProjectByID(ctx, projectID)
}

// List returns the owner's projects.
func (s Service) List(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return s.projects.ListProjectsByOwner(ctx, ownerID)
}

// SetConfig validates and upserts the project's generation settings.
func (s Service) SetConfig(ctx context.Context, input ConfigInput) (*domain.BuildConfig, error) {
	framework := strings.ToLower(strings.TrimSpace(input.Framework))
	switch framework {
	case domain.FrameworkReact, domain.FrameworkVue, domain.FrameworkStatic:
	default:
		return nil, errInvalidFramework
	}
	cfg := &domain.BuildConfig{
		ProjectID:  input.ProjectID,
		Framework:  framework,
		Styling:    strings.TrimSpace(input.Styling),
		TypeScript: input.TypeScript,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.projects.UpsertBuildConfig(ctx, cfg); err != nil {
		return nil, err
	}
	s.logger.Info("build config updated", "project_id", cfg.ProjectID, "framework", cfg.Framework)
	return cfg, nil
}

// GetConfig returns the project's generation settings.
func (s Service) GetConfig(ctx context.Context, projectID string) (*domain.BuildConfig, error) {
	return s.projects.GetBuildConfig(ctx, projectID)
}
