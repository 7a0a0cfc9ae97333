package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/hosting"
	"github.com/splax/sitesmith/internal/repository"
	"github.com/splax/sitesmith/pkg/config"
)

// Publish errors surfaced to handlers.
var (
	ErrNoCompleteBuild = errors.New("publish: project has no complete build")
	ErrInvalidSlug     = errors.New("publish: invalid slug")
	ErrNotPublished    = errors.New("publish: project is not published")
)

// Provider is the slice of the hosting client the publish flow needs.
type Provider interface {
	EnsureProject(ctx context.Context, name string) (hosting.Project, error)
	UploadFile(ctx context.Context, file domain.GeneratedFile) (hosting.FileRef, error)
	CreateDeployment(ctx context.Context, projectName string, refs []hosting.FileRef) (hosting.Deployment, error)
	WaitForReady(ctx context.Context, deploymentID string, interval, ceiling time.Duration) (hosting.Deployment, error)
	AddProjectDomain(ctx context.Context, projectID, domainName string) error
	RemoveProjectDomain(ctx context.Context, projectID, domainName string) error
}

// Service publishes the latest complete build of a project to a stable
// subdomain. At most one live publication exists per project.
type Service struct {
	projects repository.ProjectRepository
	builds   repository.BuildRepository
	sites    repository.SiteRepository
	provider Provider
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New constructs a publish service.
func New(projects repository.ProjectRepository, builds repository.BuildRepository, sites repository.SiteRepository, provider Provider, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		projects: projects,
		builds:   builds,
		sites:    sites,
		provider: provider,
		logger:   logger,
		cfg:      cfg,
	}
}

// SiteStatus is the publication state reported to callers.
type SiteStatus struct {
	Site          *domain.PublishedSite
	Stale         bool
	LatestBuildID string
}

// Publish deploys the latest complete build under the project's slug.
// Republishing the build that is already live is a no-op returning the
// current record.
func (s Service) Publish(ctx context.Context, projectID, requestedSlug string) (*domain.PublishedSite, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	build, err := s.builds.GetLatestCompleteBuild(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoCompleteBuild
		}
		return nil, err
	}
	if len(build.Files) == 0 {
		return nil, ErrNoCompleteBuild
	}

	existing, err := s.sites.GetSiteByProject(ctx, projectID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == domain.SiteStatusReady && existing.BuildOutputID == build.ID {
		s.logger.Info("publish is a no-op, build already live", "project_id", projectID, "build_id", build.ID)
		return existing, nil
	}

	slug, err := s.resolveSlug(ctx, project, requestedSlug, existing)
	if err != nil {
		return nil, err
	}

	hostingProjectID := ""
	if existing != nil {
		hostingProjectID = existing.HostingProjectID
	}
	if hostingProjectID == "" {
		hostingProject, err := s.provider.EnsureProject(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("ensure hosting project: %w", err)
		}
		hostingProjectID = hostingProject.ID
	}

	deployment, err := s.deploy(ctx, slug, build.Files)
	if err != nil {
		return nil, err
	}

	domainName := slug + "." + s.cfg.PublishDomain
	if err := s.provider.AddProjectDomain(ctx, hostingProjectID, domainName); err != nil {
		return nil, fmt.Errorf("assign domain %s: %w", domainName, err)
	}

	now := time.Now().UTC()
	site := &domain.PublishedSite{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		Slug:             slug,
		HostingProjectID: hostingProjectID,
		DeploymentID:     deployment.ID,
		URL:              "https://" + domainName,
		BuildOutputID:    build.ID,
		Status:           domain.SiteStatusReady,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if existing != nil {
		site.ID = existing.ID
		site.CreatedAt = existing.CreatedAt
	}
	if err := s.sites.UpsertSite(ctx, site); err != nil {
		return nil, err
	}
	s.logger.Info("site published", "project_id", projectID, "slug", slug, "build_id", build.ID, "deployment_id", deployment.ID)
	return site, nil
}

// Unpublish detaches the domain and soft-deletes the publication record. The
// hosting project is kept so a republish reuses it.
func (s Service) Unpublish(ctx context.Context, projectID string) error {
	site, err := s.sites.GetSiteByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotPublished
		}
		return err
	}
	if site.Status == domain.SiteStatusDeleted {
		return ErrNotPublished
	}
	domainName := site.Slug + "." + s.cfg.PublishDomain
	if err := s.provider.RemoveProjectDomain(ctx, site.HostingProjectID, domainName); err != nil {
		return fmt.Errorf("detach domain %s: %w", domainName, err)
	}
	if err := s.sites.MarkSiteDeleted(ctx, site.ID); err != nil {
		return err
	}
	s.logger.Info("site unpublished", "project_id", projectID, "slug", site.Slug)
	return nil
}

// Status reports the publication record and whether it lags the latest
// complete build.
func (s Service) Status(ctx context.Context, projectID string) (SiteStatus, error) {
	site, err := s.sites.GetSiteByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return SiteStatus{}, ErrNotPublished
		}
		return SiteStatus{}, err
	}
	status := SiteStatus{Site: site}
	latest, err := s.builds.GetLatestCompleteBuild(ctx, projectID)
	if err == nil {
		status.LatestBuildID = latest.ID
		status.Stale = site.IsStale(latest.ID)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return SiteStatus{}, err
	}
	return status, nil
}

// deploy uploads every file content-addressed, creates the deployment, and
// waits for readiness.
func (s Service) deploy(ctx context.Context, name string, files []domain.GeneratedFile) (hosting.Deployment, error) {
	refs := make([]hosting.FileRef, 0, len(files))
	for _, file := range files {
		ref, err := s.provider.UploadFile(ctx, file)
		if err != nil {
			return hosting.Deployment{}, err
		}
		refs = append(refs, ref)
	}
	deployment, err := s.provider.CreateDeployment(ctx, name, refs)
	if err != nil {
		return hosting.Deployment{}, fmt.Errorf("create deployment: %w", err)
	}
	ready, err := s.provider.WaitForReady(ctx, deployment.ID, s.cfg.DeployPollEvery, s.cfg.DeployPollCeiling)
	if err != nil {
		return hosting.Deployment{}, fmt.Errorf("deployment %s never became ready: %w", deployment.ID, err)
	}
	return ready, nil
}

// resolveSlug picks the publication slug. An existing record always wins so
// republishing never moves a site; otherwise a valid caller-supplied slug is
// tried, then a name-derived one with deterministic hash suffixes appended on
// collision.
func (s Service) resolveSlug(ctx context.Context, project *domain.Project, requested string, existing *domain.PublishedSite) (string, error) {
	if existing != nil && existing.Slug != "" {
		return existing.Slug, nil
	}
	if requested != "" {
		if !ValidSlug(requested) {
			return "", ErrInvalidSlug
		}
		free, err := s.slugAvailable(ctx, project.ID, requested)
		if err != nil {
			return "", err
		}
		if !free {
			return "", repository.ErrSlugTaken
		}
		return requested, nil
	}

	base := Slugify(project.Name)
	candidates := []string{
		base,
		withSuffix(base, hashSuffix(project.ID, 4)),
		withSuffix(base, hashSuffix(project.ID, 8)),
		withSuffix(base, hashSuffix(project.ID, 12)),
	}
	for _, candidate := range candidates {
		free, err := s.slugAvailable(ctx, project.ID, candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not derive a free slug for project %s: %w", project.ID, repository.ErrSlugTaken)
}

// slugAvailable reports whether a slug can serve this project. Slugs of
// deleted sites stay retired rather than moving between projects.
func (s Service) slugAvailable(ctx context.Context, projectID, slug string) (bool, error) {
	owner, err := s.sites.GetSiteBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return owner.ProjectID == projectID, nil
}
