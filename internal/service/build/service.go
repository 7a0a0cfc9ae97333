package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/sitesmith/internal/deadline"
	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/model"
	"github.com/splax/sitesmith/internal/repository"
	"github.com/splax/sitesmith/internal/service/logs"
	"github.com/splax/sitesmith/internal/stream"
	"github.com/splax/sitesmith/internal/verify"
	"github.com/splax/sitesmith/internal/ws"
	"github.com/splax/sitesmith/pkg/config"
)

// errBudgetExhausted aborts the model stream when the deadline guard enters
// its margin. It is a truncation signal, not a failure.
var errBudgetExhausted = errors.New("generation budget exhausted")

// Generator produces and repairs source trees via model calls.
type Generator interface {
	Stream(ctx context.Context, prompt string, onDelta func(delta string) error) error
	Fix(ctx context.Context, diagnostics string, files []domain.GeneratedFile) ([]domain.GeneratedFile, error)
}

// Service orchestrates the generation pipeline: stream extraction, sandbox
// verification, bounded repair, and persistence.
type Service struct {
	projects repository.ProjectRepository
	builds   repository.BuildRepository
	gen      Generator
	verifier verify.BuildVerifier
	hub      *ws.Hub
	logSvc   logs.Service
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New constructs a build service.
func New(projects repository.ProjectRepository, builds repository.BuildRepository, gen Generator, verifier verify.BuildVerifier, hub *ws.Hub, logSvc logs.Service, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		projects: projects,
		builds:   builds,
		gen:      gen,
		verifier: verifier,
		hub:      hub,
		logSvc:   logSvc,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start creates a build record and launches the pipeline in the background.
// Progress streams on the hub under the build ID.
func (s Service) Start(ctx context.Context, projectID string) (*domain.BuildOutput, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	buildCfg, err := s.projects.GetBuildConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("project %s has no build configuration: %w", projectID, err)
		}
		return nil, err
	}

	now := time.Now().UTC()
	build := &domain.BuildOutput{
		ID:         uuid.NewString(),
		ProjectID:  project.ID,
		Framework:  buildCfg.Framework,
		Styling:    buildCfg.Styling,
		TypeScript: buildCfg.TypeScript,
		Status:     domain.BuildStatusGenerating,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.builds.CreateBuildOutput(ctx, build); err != nil {
		return nil, err
	}
	s.logger.Info("build started", "build_id", build.ID, "project_id", project.ID, "framework", buildCfg.Framework)

	// The pipeline outlives the triggering request. The budget context is the
	// only thing that stops it.
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GenerateBudget)
	go func() {
		defer cancel()
		s.run(runCtx, project, buildCfg, build)
	}()
	return build, nil
}

// Get returns one build.
func (s Service) Get(ctx context.Context, buildID string) (*domain.BuildOutput, error) {
	return s.builds.GetBuildOutput(ctx, buildID)
}

// List returns recent builds for a project.
func (s Service) List(ctx context.Context, projectID string, limit int) ([]domain.BuildOutput, error) {
	return s.builds.ListBuildsByProject(ctx, projectID, limit)
}

// Hub exposes the progress hub for HTTP handlers.
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) run(ctx context.Context, project *domain.Project, buildCfg *domain.BuildConfig, build *domain.BuildOutput) {
	guard := deadline.NewGuard(s.cfg.GenerateBudget, s.cfg.DeadlineMargin)

	files, streamErr := s.generate(ctx, guard, project, buildCfg, build)
	if len(files) == 0 {
		message := "model produced no files"
		if streamErr != nil {
			message = fmt.Sprintf("generation failed: %v", streamErr)
		}
		s.fail(ctx, build, message)
		return
	}
	if streamErr != nil {
		// Partial trees are still worth verifying and delivering.
		s.logger.Warn("generation stream ended early", "build_id", build.ID, "files", len(files), "error", streamErr)
	}

	verified := false
	if guard.ShouldContinue() {
		loop := verify.NewRepairLoop(s.verifier, s.gen, s.logger, s.cfg.MaxFixIterations, guard.ShouldContinue, func(round verify.RoundEvent) {
			if round.Kind == "fixing" {
				recordRepairRound()
			}
			s.emit(Event{
				Type:      round.Kind,
				BuildID:   build.ID,
				Iteration: round.Iteration,
				Max:       round.Max,
				Message:   round.Diagnostics,
			})
		})
		files, verified = loop.Run(ctx, files)
	} else {
		s.logger.Warn("skipping verification, budget exhausted", "build_id", build.ID)
	}

	if err := s.builds.FinishBuild(context.WithoutCancel(ctx), build.ID, domain.BuildStatusComplete, "", verified, files); err != nil {
		s.logger.Error("finish build failed", "build_id", build.ID, "error", err)
		s.emit(Event{Type: EventError, BuildID: build.ID, Message: "failed to persist build"})
		return
	}
	recordBuildFinished(domain.BuildStatusComplete, verified)
	paths := make([]string, len(files))
	for i := range files {
		paths[i] = files[i].Path
	}
	s.emit(Event{Type: EventDone, BuildID: build.ID, Files: paths, FileCount: len(files), Verified: &verified})
	s.appendLog(ctx, build.ProjectID, "info", fmt.Sprintf("build %s complete: %d files, verified=%t", build.ID, len(files), verified))
	s.logger.Info("build complete", "build_id", build.ID, "files", len(files), "verified", verified)
}

// generate streams the model response through the extractor, persisting and
// announcing files as they complete. A budget abort or stream error returns
// whatever files were captured so far.
func (s Service) generate(ctx context.Context, guard *deadline.Guard, project *domain.Project, buildCfg *domain.BuildConfig, build *domain.BuildOutput) ([]domain.GeneratedFile, error) {
	extractor := stream.NewExtractor()
	var files []domain.GeneratedFile
	index := make(map[string]int)

	handle := func(events []stream.Event) {
		for _, ev := range events {
			switch ev.Type {
			case stream.EventFileStart:
				s.emit(Event{Type: EventFileStart, BuildID: build.ID, Path: ev.Path})
			case stream.EventFileChunk:
				s.emit(Event{Type: EventFileChunk, BuildID: build.ID, Path: ev.Path, Text: ev.Text})
			case stream.EventFileComplete:
				if ev.Path == "" {
					continue
				}
				if i, ok := index[ev.Path]; ok {
					files[i].Content = ev.Content
				} else {
					index[ev.Path] = len(files)
					files = append(files, domain.GeneratedFile{Path: ev.Path, Content: ev.Content})
				}
				s.persistFiles(ctx, build.ID, files)
				s.emit(Event{Type: EventFileComplete, BuildID: build.ID, Path: ev.Path, Content: ev.Content})
			}
		}
	}

	prompt := model.GenerationPrompt(project, buildCfg)
	err := s.gen.Stream(ctx, prompt, func(delta string) error {
		if !guard.ShouldContinue() {
			return errBudgetExhausted
		}
		handle(extractor.Feed(delta))
		return nil
	})
	handle(extractor.Flush())

	if errors.Is(err, errBudgetExhausted) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("generation truncated by budget", "build_id", build.ID, "remaining", guard.Remaining())
		s.persistFiles(ctx, build.ID, files)
		return files, nil
	}
	return files, err
}

// persistFiles overwrites the stored file set so partial progress survives a
// later crash. Failures are logged, never fatal mid-stream.
func (s Service) persistFiles(ctx context.Context, buildID string, files []domain.GeneratedFile) {
	if len(files) == 0 {
		return
	}
	if err := s.builds.UpdateBuildFiles(ctx, buildID, files); err != nil {
		s.logger.Warn("persist files failed", "build_id", buildID, "error", err)
	}
}

func (s Service) fail(ctx context.Context, build *domain.BuildOutput, message string) {
	if err := s.builds.FinishBuild(context.WithoutCancel(ctx), build.ID, domain.BuildStatusFailed, message, false, nil); err != nil {
		s.logger.Error("mark build failed errored", "build_id", build.ID, "error", err)
	}
	recordBuildFinished(domain.BuildStatusFailed, false)
	s.emit(Event{Type: EventError, BuildID: build.ID, Message: message})
	s.appendLog(ctx, build.ProjectID, "error", fmt.Sprintf("build %s failed: %s", build.ID, message))
	s.logger.Error("build failed", "build_id", build.ID, "reason", message)
}

func (s Service) emit(ev Event) {
	if payload := ev.marshal(); payload != nil {
		s.hub.Broadcast(ev.BuildID, payload)
	}
}

func (s Service) appendLog(ctx context.Context, projectID, level, message string) {
	entry := domain.ActivityLog{
		ProjectID: projectID,
		Source:    "build",
		Level:     level,
		Message:   message,
	}
	if err := s.logSvc.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("append build log failed", "error", err)
	}
}
