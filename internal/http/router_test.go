package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/hosting"
	"github.com/splax/sitesmith/internal/repository"
	"github.com/splax/sitesmith/internal/service/auth"
	"github.com/splax/sitesmith/internal/service/build"
	"github.com/splax/sitesmith/internal/service/logs"
	"github.com/splax/sitesmith/internal/service/preview"
	"github.com/splax/sitesmith/internal/service/project"
	"github.com/splax/sitesmith/internal/service/publish"
	"github.com/splax/sitesmith/internal/verify"
	"github.com/splax/sitesmith/internal/ws"
	"github.com/splax/sitesmith/pkg/config"
)

type memUsers struct {
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*domain.User{}, byEmail: map[string]*domain.User{}}
}

func (m *memUsers) CreateUser(ctx context.Context, user *domain.User) error {
	m.byID[user.ID] = user
	m.byEmail[user.Email] = user
	return nil
}

func (m *memUsers) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func (m *memUsers) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	user, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

type memProjects struct {
	projects map[string]*domain.Project
	configs  map[string]*domain.BuildConfig
}

func newMemProjects() *memProjects {
	return &memProjects{projects: map[string]*domain.Project{}, configs: map[string]*domain.BuildConfig{}}
}

func (m *memProjects) CreateProject(ctx context.Context, p *domain.Project) error {
	m.projects[p.ID] = p
	return nil
}

func (m *memProjects) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	p, ok := m.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (m *memProjects) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	var out []domain.Project
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memProjects) UpsertBuildConfig(ctx context.Context, cfg *domain.BuildConfig) error {
	m.configs[cfg.ProjectID] = cfg
	return nil
}

func (m *memProjects) GetBuildConfig(ctx context.Context, projectID string) (*domain.BuildConfig, error) {
	cfg, ok := m.configs[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cfg, nil
}

type memBuilds struct {
	builds map[string]*domain.BuildOutput
}

func newMemBuilds() *memBuilds {
	return &memBuilds{builds: map[string]*domain.BuildOutput{}}
}

func (m *memBuilds) CreateBuildOutput(ctx context.Context, b *domain.BuildOutput) error {
	copied := *b
	m.builds[b.ID] = &copied
	return nil
}

func (m *memBuilds) UpdateBuildFiles(ctx context.Context, buildID string, files []domain.GeneratedFile) error {
	if b, ok := m.builds[buildID]; ok {
		b.Files = files
	}
	return nil
}

func (m *memBuilds) FinishBuild(ctx context.Context, buildID, status, buildErr string, verified bool, files []domain.GeneratedFile) error {
	if b, ok := m.builds[buildID]; ok && b.Status == domain.BuildStatusGenerating {
		b.Status = status
		b.Error = buildErr
		b.Verified = verified
		if files != nil {
			b.Files = files
		}
	}
	return nil
}

func (m *memBuilds) GetBuildOutput(ctx context.Context, buildID string) (*domain.BuildOutput, error) {
	b, ok := m.builds[buildID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *b
	return &copied, nil
}

func (m *memBuilds) GetLatestCompleteBuild(ctx context.Context, projectID string) (*domain.BuildOutput, error) {
	var latest *domain.BuildOutput
	for _, b := range m.builds {
		if b.ProjectID == projectID && b.Status == domain.BuildStatusComplete {
			if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
				latest = b
			}
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (m *memBuilds) ListBuildsByProject(ctx context.Context, projectID string, limit int) ([]domain.BuildOutput, error) {
	var out []domain.BuildOutput
	for _, b := range m.builds {
		if b.ProjectID == projectID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memBuilds) SetBuildPreview(ctx context.Context, buildID, url string, token []byte) error {
	if b, ok := m.builds[buildID]; ok {
		b.PreviewURL = url
		b.PreviewToken = token
	}
	return nil
}

func (m *memBuilds) ClearBuildPreview(ctx context.Context, buildID string) error {
	if b, ok := m.builds[buildID]; ok {
		b.PreviewURL = ""
		b.PreviewToken = nil
	}
	return nil
}

type memSites struct {
	sites map[string]*domain.PublishedSite
}

func newMemSites() *memSites { return &memSites{sites: map[string]*domain.PublishedSite{}} }

func (m *memSites) UpsertSite(ctx context.Context, site *domain.PublishedSite) error {
	copied := *site
	m.sites[site.ProjectID] = &copied
	return nil
}

func (m *memSites) GetSiteByProject(ctx context.Context, projectID string) (*domain.PublishedSite, error) {
	site, ok := m.sites[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *site
	return &copied, nil
}

func (m *memSites) GetSiteBySlug(ctx context.Context, slug string) (*domain.PublishedSite, error) {
	for _, site := range m.sites {
		if site.Slug == slug {
			copied := *site
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memSites) MarkSiteDeleted(ctx context.Context, siteID string) error {
	for _, site := range m.sites {
		if site.ID == siteID {
			site.Status = domain.SiteStatusDeleted
			return nil
		}
	}
	return repository.ErrNotFound
}

type memLogs struct{}

func (memLogs) AppendLog(ctx context.Context, entry domain.ActivityLog) error { return nil }

func (memLogs) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ActivityLog, error) {
	return []domain.ActivityLog{}, nil
}

type routerGenerator struct{}

func (routerGenerator) Stream(ctx context.Context, prompt string, onDelta func(string) error) error {
	return onDelta("===FILE: index.html===\n<html></html>\n===END FILE===\n")
}

func (routerGenerator) Fix(ctx context.Context, diagnostics string, files []domain.GeneratedFile) ([]domain.GeneratedFile, error) {
	return nil, nil
}

type routerVerifier struct{}

func (routerVerifier) Verify(ctx context.Context, files []domain.GeneratedFile) verify.Result {
	return verify.Result{Outcome: verify.OutcomeSuccess}
}

type routerProvider struct{}

func (routerProvider) EnsureProject(ctx context.Context, name string) (hosting.Project, error) {
	return hosting.Project{ID: "prj_" + name, Name: name}, nil
}

func (routerProvider) UploadFile(ctx context.Context, file domain.GeneratedFile) (hosting.FileRef, error) {
	return hosting.FileRef{File: file.Path, SHA: hosting.Digest(file.Content), Size: len(file.Content)}, nil
}

func (routerProvider) CreateDeployment(ctx context.Context, name string, refs []hosting.FileRef) (hosting.Deployment, error) {
	return hosting.Deployment{ID: "dpl_1", ReadyState: hosting.StateReady}, nil
}

func (routerProvider) WaitForReady(ctx context.Context, id string, interval, ceiling time.Duration) (hosting.Deployment, error) {
	return hosting.Deployment{ID: id, URL: "x.vercel.app", ReadyState: hosting.StateReady}, nil
}

func (routerProvider) AddProjectDomain(ctx context.Context, projectID, domainName string) error {
	return nil
}

func (routerProvider) RemoveProjectDomain(ctx context.Context, projectID, domainName string) error {
	return nil
}

func (routerProvider) Reachable(ctx context.Context, target string) bool { return false }

func setupRouter(t *testing.T) (*Router, *memProjects, *memBuilds) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{
		JWTSecret:          "test-secret",
		TokenEncryptionKey: "test-key",
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    time.Hour,
		GenerateBudget:     time.Minute,
		DeadlineMargin:     time.Second,
		MaxFixIterations:   3,
		PublishDomain:      "sitesmith.app",
		DeployPollEvery:    time.Millisecond,
		DeployPollCeiling:  time.Second,
	}
	users := newMemUsers()
	projects := newMemProjects()
	builds := newMemBuilds()
	sites := newMemSites()
	hub := ws.NewHub()
	logSvc := logs.New(memLogs{}, hub, logger)
	provider := routerProvider{}

	authSvc := auth.New(users, logger, cfg)
	projectSvc := project.New(projects, logger)
	buildSvc := build.New(projects, builds, routerGenerator{}, routerVerifier{}, hub, logSvc, logger, cfg)
	publishSvc := publish.New(projects, builds, sites, provider, logger, cfg)
	previewSvc := preview.New(builds, provider, logger, cfg)

	router := NewRouter(logger, authSvc, projectSvc, buildSvc, publishSvc, previewSvc, logSvc, NewMemoryRateLimiter(), nil)
	t.Cleanup(router.Close)
	return router, projects, builds
}

func signupToken(t *testing.T, router *Router, email string) string {
	t.Helper()
	body := bytes.NewBufferString(`{"email":"` + email + `","password":"longenough"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status = %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Tokens struct {
			AccessToken string `json:"AccessToken"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if payload.Tokens.AccessToken == "" {
		t.Fatal("signup returned no access token")
	}
	return payload.Tokens.AccessToken
}

func authedRequest(method, target, token string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	router, _, _ := setupRouter(t)
	token := signupToken(t, router, "owner@example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/projects", token,
		bytes.NewBufferString(`{"name":"Demo Site","brief":"landing page"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create project status = %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPut, "/projects/"+created.ID+"/config", token,
		bytes.NewBufferString(`{"framework":"react","typescript":true}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("set config status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/projects/"+created.ID, token, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get project status = %d", rr.Code)
	}
}

func TestForeignProjectAnswers404(t *testing.T) {
	router, projects, _ := setupRouter(t)
	token := signupToken(t, router, "a@example.com")
	projects.projects["other"] = &domain.Project{ID: "other", OwnerID: "someone-else", Name: "x"}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/projects/other", token, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for foreign project", rr.Code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	router, _, _ := setupRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/projects", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestPublishRouteMapsServiceErrors(t *testing.T) {
	router, _, _ := setupRouter(t)
	token := signupToken(t, router, "p@example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/projects", token,
		bytes.NewBufferString(`{"name":"No Build Yet"}`)))
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	// No complete build yet: publish must conflict, not 500.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/projects/"+created.ID+"/publish", token,
		bytes.NewBufferString(`{}`)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("publish status = %d, want 409: %s", rr.Code, rr.Body.String())
	}

	// Unpublished project: site status is 404.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/projects/"+created.ID+"/site", token, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("site status = %d, want 404", rr.Code)
	}
}

func TestPublishAndSiteStatusOverHTTP(t *testing.T) {
	router, _, builds := setupRouter(t)
	token := signupToken(t, router, "s@example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/projects", token,
		bytes.NewBufferString(`{"name":"Shippable"}`)))
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	builds.builds["b1"] = &domain.BuildOutput{
		ID:        "b1",
		ProjectID: created.ID,
		Status:    domain.BuildStatusComplete,
		Files:     []domain.GeneratedFile{{Path: "index.html", Content: "<html></html>"}},
		CreatedAt: time.Now().UTC(),
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/projects/"+created.ID+"/publish", token,
		bytes.NewBufferString(`{}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("publish status = %d: %s", rr.Code, rr.Body.String())
	}
	var site struct {
		Slug string `json:"slug"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &site); err != nil {
		t.Fatalf("decode site: %v", err)
	}
	if site.Slug != "shippable" {
		t.Fatalf("slug = %s", site.Slug)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/projects/"+created.ID+"/site", token, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("site status = %d", rr.Code)
	}
	var status struct {
		Stale bool   `json:"stale"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Stale {
		t.Fatal("fresh publication reported stale")
	}
	if status.URL != "https://shippable.sitesmith.app" {
		t.Fatalf("url = %s", status.URL)
	}
}

func TestPublicBuildStatusStates(t *testing.T) {
	router, _, builds := setupRouter(t)
	token := signupToken(t, router, "pub@example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/projects", token,
		bytes.NewBufferString(`{"name":"Banner Demo"}`)))
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	builds.builds["b1"] = &domain.BuildOutput{
		ID:        "b1",
		ProjectID: created.ID,
		Status:    domain.BuildStatusComplete,
		Files:     []domain.GeneratedFile{{Path: "index.html", Content: "<html></html>"}},
		CreatedAt: time.Now().UTC(),
	}

	state := func() string {
		t.Helper()
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/builds/b1/status", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("public status = %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatal("public status endpoint must be CORS-open")
		}
		var payload struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		return payload.State
	}

	// The endpoint is for preview banners: no Authorization header anywhere.
	if got := state(); got != "not_published" {
		t.Fatalf("state = %s, want not_published", got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/projects/"+created.ID+"/publish", token,
		bytes.NewBufferString(`{}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("publish status = %d: %s", rr.Code, rr.Body.String())
	}
	if got := state(); got != "published" {
		t.Fatalf("state = %s, want published", got)
	}

	builds.builds["b2"] = &domain.BuildOutput{
		ID:        "b2",
		ProjectID: created.ID,
		Status:    domain.BuildStatusComplete,
		Files:     []domain.GeneratedFile{{Path: "index.html", Content: "<html>v2</html>"}},
		CreatedAt: time.Now().UTC().Add(time.Second),
	}
	if got := state(); got != "update_available" {
		t.Fatalf("state = %s, want update_available", got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/builds/missing/status", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown build status = %d, want 404", rr.Code)
	}
}

func TestSignupRateLimitEnforced(t *testing.T) {
	router, _, _ := setupRouter(t)
	var last int
	for i := 0; i < rateLimitSignup+1; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/signup",
			bytes.NewBufferString(`{"email":"x@example.com","password":"short"}`))
		req.RemoteAddr = "10.0.0.9:1234"
		router.ServeHTTP(rr, req)
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after exhausting window", last)
	}
}
