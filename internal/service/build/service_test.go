package build

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/repository"
	"github.com/splax/sitesmith/internal/service/logs"
	"github.com/splax/sitesmith/internal/verify"
	"github.com/splax/sitesmith/internal/ws"
	"github.com/splax/sitesmith/pkg/config"
)

type stubProjectRepo struct {
	project *domain.Project
	cfg     *domain.BuildConfig
}

func (s *stubProjectRepo) CreateProject(ctx context.Context, project *domain.Project) error {
	return nil
}

func (s *stubProjectRepo) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	if s.project == nil || s.project.ID != projectID {
		return nil, repository.ErrNotFound
	}
	return s.project, nil
}

func (s *stubProjectRepo) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return nil, nil
}

func (s *stubProjectRepo) UpsertBuildConfig(ctx context.Context, cfg *domain.BuildConfig) error {
	return nil
}

func (s *stubProjectRepo) GetBuildConfig(ctx context.Context, projectID string) (*domain.BuildConfig, error) {
	if s.cfg == nil {
		return nil, repository.ErrNotFound
	}
	return s.cfg, nil
}

type stubBuildRepo struct {
	mu       sync.Mutex
	created  *domain.BuildOutput
	updates  [][]domain.GeneratedFile
	finished chan finishCall
}

type finishCall struct {
	status   string
	buildErr string
	verified bool
	files    []domain.GeneratedFile
}

func newStubBuildRepo() *stubBuildRepo {
	return &stubBuildRepo{finished: make(chan finishCall, 1)}
}

func (s *stubBuildRepo) CreateBuildOutput(ctx context.Context, build *domain.BuildOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = build
	return nil
}

func (s *stubBuildRepo) UpdateBuildFiles(ctx context.Context, buildID string, files []domain.GeneratedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]domain.GeneratedFile, len(files))
	copy(snapshot, files)
	s.updates = append(s.updates, snapshot)
	return nil
}

func (s *stubBuildRepo) FinishBuild(ctx context.Context, buildID, status, buildErr string, verified bool, files []domain.GeneratedFile) error {
	s.finished <- finishCall{status: status, buildErr: buildErr, verified: verified, files: files}
	return nil
}

func (s *stubBuildRepo) GetBuildOutput(ctx context.Context, buildID string) (*domain.BuildOutput, error) {
	return nil, repository.ErrNotFound
}

func (s *stubBuildRepo) GetLatestCompleteBuild(ctx context.Context, projectID string) (*domain.BuildOutput, error) {
	return nil, repository.ErrNotFound
}

func (s *stubBuildRepo) ListBuildsByProject(ctx context.Context, projectID string, limit int) ([]domain.BuildOutput, error) {
	return nil, nil
}

func (s *stubBuildRepo) SetBuildPreview(ctx context.Context, buildID, url string, token []byte) error {
	return nil
}

func (s *stubBuildRepo) ClearBuildPreview(ctx context.Context, buildID string) error {
	return nil
}

type stubLogRepo struct{}

func (stubLogRepo) AppendLog(ctx context.Context, entry domain.ActivityLog) error {
	return nil
}

func (stubLogRepo) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ActivityLog, error) {
	return nil, nil
}

type stubGenerator struct {
	deltas    []string
	streamErr error
	fixes     []domain.GeneratedFile
	fixCalls  int
	gate      chan struct{}
}

func (g *stubGenerator) Stream(ctx context.Context, prompt string, onDelta func(string) error) error {
	if g.gate != nil {
		<-g.gate
	}
	for _, delta := range g.deltas {
		if err := onDelta(delta); err != nil {
			return err
		}
	}
	return g.streamErr
}

func (g *stubGenerator) Fix(ctx context.Context, diagnostics string, files []domain.GeneratedFile) ([]domain.GeneratedFile, error) {
	g.fixCalls++
	return g.fixes, nil
}

type stubVerifier struct {
	results []verify.Result
}

func (s *stubVerifier) Verify(ctx context.Context, files []domain.GeneratedFile) verify.Result {
	if len(s.results) == 0 {
		return verify.Result{Outcome: verify.OutcomeSuccess}
	}
	res := s.results[0]
	s.results = s.results[1:]
	return res
}

func testService(projects *stubProjectRepo, builds *stubBuildRepo, gen *stubGenerator, verifier *stubVerifier) Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub()
	logSvc := logs.New(stubLogRepo{}, hub, logger)
	cfg := config.APIConfig{
		GenerateBudget:   time.Minute,
		DeadlineMargin:   time.Second,
		MaxFixIterations: 3,
	}
	return New(projects, builds, gen, verifier, hub, logSvc, logger, cfg)
}

func testProjectRepo() *stubProjectRepo {
	return &stubProjectRepo{
		project: &domain.Project{ID: "proj-1", Name: "Demo", Brief: "a landing page"},
		cfg:     &domain.BuildConfig{ProjectID: "proj-1", Framework: domain.FrameworkReact, TypeScript: true},
	}
}

func waitFinish(t *testing.T, builds *stubBuildRepo) finishCall {
	t.Helper()
	select {
	case call := <-builds.finished:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline never finished")
		return finishCall{}
	}
}

const sampleStream = "===FILE: package.json===\n{}\n===END FILE===\n" +
	"===FILE: index.html===\n<html></html>\n===END FILE===\n"

func TestStartRunsPipelineToVerifiedComplete(t *testing.T) {
	builds := newStubBuildRepo()
	gen := &stubGenerator{deltas: []string{sampleStream}}
	svc := testService(testProjectRepo(), builds, gen, &stubVerifier{})

	build, err := svc.Start(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if build.Status != domain.BuildStatusGenerating {
		t.Fatalf("initial status = %s", build.Status)
	}

	call := waitFinish(t, builds)
	if call.status != domain.BuildStatusComplete {
		t.Fatalf("status = %s, want complete", call.status)
	}
	if !call.verified {
		t.Fatal("expected verified build")
	}
	if len(call.files) != 2 {
		t.Fatalf("files = %d, want 2", len(call.files))
	}
}

func TestPipelinePersistsFilesIncrementally(t *testing.T) {
	builds := newStubBuildRepo()
	gen := &stubGenerator{deltas: []string{sampleStream}}
	svc := testService(testProjectRepo(), builds, gen, &stubVerifier{})

	if _, err := svc.Start(context.Background(), "proj-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFinish(t, builds)

	builds.mu.Lock()
	defer builds.mu.Unlock()
	if len(builds.updates) < 2 {
		t.Fatalf("updates = %d, want one per completed file", len(builds.updates))
	}
	if len(builds.updates[0]) != 1 || builds.updates[0][0].Path != "package.json" {
		t.Fatalf("first update = %+v", builds.updates[0])
	}
}

func TestPipelineFailsWhenNoFilesExtracted(t *testing.T) {
	builds := newStubBuildRepo()
	gen := &stubGenerator{deltas: []string{"I cannot help with that."}}
	svc := testService(testProjectRepo(), builds, gen, &stubVerifier{})

	if _, err := svc.Start(context.Background(), "proj-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	call := waitFinish(t, builds)
	if call.status != domain.BuildStatusFailed {
		t.Fatalf("status = %s, want failed", call.status)
	}
	if call.buildErr == "" {
		t.Fatal("expected a persisted failure reason")
	}
}

func TestPipelineDeliversUnverifiedAfterRepairBudget(t *testing.T) {
	builds := newStubBuildRepo()
	gen := &stubGenerator{
		deltas: []string{sampleStream},
		fixes:  []domain.GeneratedFile{{Path: "index.html", Content: "<html>v2</html>"}},
	}
	verifier := &stubVerifier{results: []verify.Result{
		{Outcome: verify.OutcomeCodeFailure, Diagnostics: "e1"},
		{Outcome: verify.OutcomeCodeFailure, Diagnostics: "e2"},
		{Outcome: verify.OutcomeCodeFailure, Diagnostics: "e3"},
		{Outcome: verify.OutcomeCodeFailure, Diagnostics: "e4"},
	}}
	svc := testService(testProjectRepo(), builds, gen, verifier)

	if _, err := svc.Start(context.Background(), "proj-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	call := waitFinish(t, builds)
	if call.status != domain.BuildStatusComplete {
		t.Fatalf("status = %s, want complete (unverified delivery)", call.status)
	}
	if call.verified {
		t.Fatal("expected unverified result")
	}
	if gen.fixCalls != 3 {
		t.Fatalf("fix calls = %d, want 3", gen.fixCalls)
	}
}

func TestPipelineTreatsInfraFailureAsOptimisticPass(t *testing.T) {
	builds := newStubBuildRepo()
	gen := &stubGenerator{deltas: []string{sampleStream}}
	verifier := &stubVerifier{results: []verify.Result{
		{Outcome: verify.OutcomeInfraFailure, Stage: "install"},
	}}
	svc := testService(testProjectRepo(), builds, gen, verifier)

	if _, err := svc.Start(context.Background(), "proj-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	call := waitFinish(t, builds)
	if call.status != domain.BuildStatusComplete {
		t.Fatalf("status = %s, want complete", call.status)
	}
	if call.verified {
		t.Fatal("infra failure must not mark the build verified")
	}
	if gen.fixCalls != 0 {
		t.Fatalf("fix calls = %d, want 0", gen.fixCalls)
	}
}

func TestPipelineKeepsPartialTreeOnTruncatedStream(t *testing.T) {
	builds := newStubBuildRepo()
	truncated := "===FILE: package.json===\n{}\n===END FILE===\n" +
		"===FILE: src/app.js===\nconsole.log('partial"
	gen := &stubGenerator{deltas: []string{truncated}}
	svc := testService(testProjectRepo(), builds, gen, &stubVerifier{})

	if _, err := svc.Start(context.Background(), "proj-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	call := waitFinish(t, builds)
	if call.status != domain.BuildStatusComplete {
		t.Fatalf("status = %s, want complete", call.status)
	}
	if len(call.files) != 2 {
		t.Fatalf("files = %d, want partial second file included", len(call.files))
	}
	if call.files[1].Path != "src/app.js" {
		t.Fatalf("second file = %+v", call.files[1])
	}
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) Send(payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *eventSink) Close() {}

func (s *eventSink) byType(kind string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestStreamEventsCarryAuthoritativeContent(t *testing.T) {
	builds := newStubBuildRepo()
	gen := &stubGenerator{deltas: []string{sampleStream}, gate: make(chan struct{})}
	svc := testService(testProjectRepo(), builds, gen, &stubVerifier{})

	build, err := svc.Start(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sink := &eventSink{}
	svc.Hub().Register(build.ID, sink)
	defer svc.Hub().Unregister(build.ID, sink)
	close(gen.gate)

	waitFinish(t, builds)

	deadline := time.After(2 * time.Second)
	for len(sink.byType(EventDone)) == 0 {
		select {
		case <-deadline:
			t.Fatal("done event never arrived")
		case <-time.After(10 * time.Millisecond):
		}
	}

	done := sink.byType(EventDone)[0]
	if done.FileCount != 2 {
		t.Fatalf("done file_count = %d, want 2", done.FileCount)
	}
	if len(done.Files) != 2 || done.Files[0] != "package.json" || done.Files[1] != "index.html" {
		t.Fatalf("done files = %v", done.Files)
	}

	completes := sink.byType(EventFileComplete)
	if len(completes) != 2 {
		t.Fatalf("file_complete events = %d, want 2", len(completes))
	}
	// Chunks withhold a tail while scanning for the end marker, so the
	// completion frame is the only place clients get the whole file.
	if completes[1].Path != "index.html" || completes[1].Content != "<html></html>" {
		t.Fatalf("completion frame = %+v, want full index.html content", completes[1])
	}
}

func TestStartRejectsUnknownProject(t *testing.T) {
	builds := newStubBuildRepo()
	svc := testService(testProjectRepo(), builds, &stubGenerator{}, &stubVerifier{})
	if _, err := svc.Start(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
