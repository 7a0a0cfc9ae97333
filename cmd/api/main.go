package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/splax/sitesmith/internal/app/migrate"
	"github.com/splax/sitesmith/internal/hosting"
	httpx "github.com/splax/sitesmith/internal/http"
	"github.com/splax/sitesmith/internal/model"
	"github.com/splax/sitesmith/internal/repository/postgres"
	"github.com/splax/sitesmith/internal/service/auth"
	"github.com/splax/sitesmith/internal/service/build"
	"github.com/splax/sitesmith/internal/service/logs"
	"github.com/splax/sitesmith/internal/service/preview"
	"github.com/splax/sitesmith/internal/service/project"
	"github.com/splax/sitesmith/internal/service/publish"
	"github.com/splax/sitesmith/internal/verify"
	"github.com/splax/sitesmith/internal/workspace"
	"github.com/splax/sitesmith/internal/ws"
	"github.com/splax/sitesmith/pkg/config"
	"github.com/splax/sitesmith/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	workspaces, err := workspace.New(cfg.VerifyWorkdir)
	if err != nil {
		log.Error("failed to prepare verify workspace", "error", err)
		os.Exit(1)
	}
	sandbox, err := buildSandbox(ctx, cfg, log)
	if err != nil {
		log.Error("failed to configure sandbox", "error", err)
		os.Exit(1)
	}
	verifier := verify.NewVerifier(workspaces, sandbox, log, cfg.InstallTimeout, cfg.BuildTimeout)

	modelClient := model.NewClient(cfg, log)
	provider := hosting.New(cfg, log)

	logSvc := logs.New(repo, hub, log)
	authSvc := auth.New(repo, log, cfg)
	projectSvc := project.New(repo, log)
	buildSvc := build.New(repo, repo, modelClient, verifier, hub, logSvc, log, cfg)
	publishSvc := publish.New(repo, repo, repo, provider, log, cfg)
	previewSvc := preview.New(repo, provider, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, projectSvc, buildSvc, publishSvc, previewSvc, logSvc, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// buildSandbox selects the verification backend. The docker backend keeps
// generated code off the host toolchain; exec runs npm directly.
func buildSandbox(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (verify.Runner, error) {
	switch cfg.VerifySandbox {
	case "docker":
		docker, err := verify.NewDockerRunner(cfg.DockerHost, cfg.SandboxImage)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := docker.Ping(pingCtx); err != nil {
			return nil, err
		}
		log.Info("verification sandbox ready", "backend", "docker", "image", cfg.SandboxImage)
		return docker, nil
	default:
		log.Info("verification sandbox ready", "backend", "exec")
		return verify.ExecRunner{}, nil
	}
}
