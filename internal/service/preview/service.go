package preview

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/hosting"
	"github.com/splax/sitesmith/internal/repository"
	"github.com/splax/sitesmith/pkg/config"
	"github.com/splax/sitesmith/pkg/crypto"
)

// ErrBuildNotPreviewable means the build has no deliverable file tree.
var ErrBuildNotPreviewable = errors.New("preview: build has no files to deploy")

// Provider is the slice of the hosting client the preview flow needs.
type Provider interface {
	EnsureProject(ctx context.Context, name string) (hosting.Project, error)
	UploadFile(ctx context.Context, file domain.GeneratedFile) (hosting.FileRef, error)
	CreateDeployment(ctx context.Context, projectName string, refs []hosting.FileRef) (hosting.Deployment, error)
	WaitForReady(ctx context.Context, deploymentID string, interval, ceiling time.Duration) (hosting.Deployment, error)
	Reachable(ctx context.Context, target string) bool
}

// Service deploys token-gated previews of builds to throwaway hosting
// projects.
type Service struct {
	builds   repository.BuildRepository
	provider Provider
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New constructs a preview service.
func New(builds repository.BuildRepository, provider Provider, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{builds: builds, provider: provider, logger: logger, cfg: cfg}
}

// Result is a ready preview: the deployed URL and the access token the
// share link carries.
type Result struct {
	URL   string
	Token string
}

// Preview returns a gated preview deployment for a build, reusing the
// existing one while it is still reachable.
func (s Service) Preview(ctx context.Context, buildID string) (Result, error) {
	build, err := s.builds.GetBuildOutput(ctx, buildID)
	if err != nil {
		return Result{}, err
	}
	if len(build.Files) == 0 {
		return Result{}, ErrBuildNotPreviewable
	}

	if build.PreviewURL != "" && s.provider.Reachable(ctx, build.PreviewURL) {
		token, err := crypto.DecryptToString(s.cfg.TokenEncryptionKey, build.PreviewToken)
		if err == nil {
			s.logger.Info("reusing preview", "build_id", buildID, "url", build.PreviewURL)
			return Result{URL: build.PreviewURL, Token: token}, nil
		}
		s.logger.Warn("stored preview token unreadable, regenerating", "build_id", buildID, "error", err)
	}
	if build.PreviewURL != "" {
		if err := s.builds.ClearBuildPreview(ctx, buildID); err != nil {
			s.logger.Warn("clear stale preview failed", "build_id", buildID, "error", err)
		}
	}
	return s.create(ctx, build)
}

func (s Service) create(ctx context.Context, build *domain.BuildOutput) (Result, error) {
	token, err := randomHex(16)
	if err != nil {
		return Result{}, fmt.Errorf("generate preview token: %w", err)
	}
	name, err := randomHex(6)
	if err != nil {
		return Result{}, fmt.Errorf("generate preview name: %w", err)
	}
	projectName := "preview-" + name

	if _, err := s.provider.EnsureProject(ctx, projectName); err != nil {
		return Result{}, fmt.Errorf("create preview project: %w", err)
	}

	statusURL := strings.TrimRight(s.cfg.PublicAPIURL, "/") + "/public/builds/" + build.ID + "/status"
	editorURL := strings.TrimRight(s.cfg.AppURL, "/") + "/projects/" + build.ProjectID
	gated := InjectPreviewScripts(build.Files, token, statusURL, editorURL)
	refs := make([]hosting.FileRef, 0, len(gated))
	for _, file := range gated {
		ref, err := s.provider.UploadFile(ctx, file)
		if err != nil {
			return Result{}, err
		}
		refs = append(refs, ref)
	}
	deployment, err := s.provider.CreateDeployment(ctx, projectName, refs)
	if err != nil {
		return Result{}, fmt.Errorf("create preview deployment: %w", err)
	}
	ready, err := s.provider.WaitForReady(ctx, deployment.ID, s.cfg.DeployPollEvery, s.cfg.DeployPollCeiling)
	if err != nil {
		return Result{}, fmt.Errorf("preview deployment never became ready: %w", err)
	}

	url := ready.URL
	if url != "" && !hasScheme(url) {
		url = "https://" + url
	}
	sealed, err := crypto.EncryptString(s.cfg.TokenEncryptionKey, token)
	if err != nil {
		return Result{}, fmt.Errorf("seal preview token: %w", err)
	}
	if err := s.builds.SetBuildPreview(ctx, build.ID, url, sealed); err != nil {
		return Result{}, err
	}
	s.logger.Info("preview created", "build_id", build.ID, "url", url, "project", projectName)
	return Result{URL: url, Token: token}, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hasScheme(url string) bool {
	return len(url) > 8 && (url[:7] == "http://" || url[:8] == "https://")
}
