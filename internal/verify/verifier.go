package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/workspace"
)

// Outcome classifies a verification attempt.
type Outcome int

const (
	// OutcomeSuccess means the generated tree installed and built cleanly.
	OutcomeSuccess Outcome = iota
	// OutcomeCodeFailure means the tree is broken; diagnostics are available
	// and a repair round may help.
	OutcomeCodeFailure
	// OutcomeInfraFailure means the sandbox could not verify at all. It is
	// not evidence of incorrect code and callers must skip verification.
	OutcomeInfraFailure
)

// maxDiagnosticsBytes bounds the diagnostic output carried into repair
// prompts and persisted errors.
const maxDiagnosticsBytes = 8 * 1024

// Result summarizes one verification attempt.
type Result struct {
	Outcome     Outcome
	Stage       string
	Diagnostics string
}

// Verifier materializes a candidate file set into an isolated directory and
// runs the project's install and build commands.
type Verifier struct {
	ws             *workspace.Manager
	runner         Runner
	logger         *slog.Logger
	installCmd     []string
	buildCmd       []string
	installTimeout time.Duration
	buildTimeout   time.Duration
}

// NewVerifier constructs a Verifier. Zero timeouts fall back to defaults.
func NewVerifier(ws *workspace.Manager, runner Runner, logger *slog.Logger, installTimeout, buildTimeout time.Duration) *Verifier {
	if installTimeout <= 0 {
		installTimeout = 2 * time.Minute
	}
	if buildTimeout <= 0 {
		buildTimeout = 3 * time.Minute
	}
	return &Verifier{
		ws:             ws,
		runner:         runner,
		logger:         logger,
		installCmd:     []string{"npm", "install", "--no-audit", "--no-fund"},
		buildCmd:       []string{"npm", "run", "build"},
		installTimeout: installTimeout,
		buildTimeout:   buildTimeout,
	}
}

// Verify runs install then build for the candidate tree. The working
// directory is removed on every exit path; removal failure is logged but
// never masks the verification result.
func (v *Verifier) Verify(ctx context.Context, files []domain.GeneratedFile) Result {
	dir, err := v.ws.Prepare(uuid.NewString())
	if err != nil {
		v.logger.Warn("sandbox unavailable", "error", err)
		return Result{Outcome: OutcomeInfraFailure, Stage: "workspace", Diagnostics: err.Error()}
	}
	defer func() {
		if err := v.ws.Cleanup(dir); err != nil {
			v.logger.Warn("workspace cleanup failed", "dir", dir, "error", err)
		}
	}()

	if err := v.ws.Materialize(dir, files); err != nil {
		v.logger.Warn("materialize failed", "error", err)
		return Result{Outcome: OutcomeInfraFailure, Stage: "materialize", Diagnostics: err.Error()}
	}

	if res := v.runStage(ctx, dir, "install", v.installCmd, v.installTimeout); res.Outcome != OutcomeSuccess {
		return res
	}
	return v.runStage(ctx, dir, "build", v.buildCmd, v.buildTimeout)
}

func (v *Verifier) runStage(ctx context.Context, dir, stage string, argv []string, timeout time.Duration) Result {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := v.runner.Run(stageCtx, dir, argv)
	diagnostics := truncateDiagnostics(string(output))
	switch {
	case err == nil:
		return Result{Outcome: OutcomeSuccess, Stage: stage}
	case errors.Is(err, ErrCommandFailed):
		if looksLikeInfraOutput(diagnostics) {
			v.logger.Warn("verification hit sandbox resource limits", "stage", stage)
			return Result{Outcome: OutcomeInfraFailure, Stage: stage, Diagnostics: diagnostics}
		}
		return Result{Outcome: OutcomeCodeFailure, Stage: stage, Diagnostics: withError(diagnostics, err)}
	case errors.Is(err, context.DeadlineExceeded):
		// A stuck install or build is treated as broken code: repair may
		// remove the offending dependency or script.
		return Result{Outcome: OutcomeCodeFailure, Stage: stage, Diagnostics: withError(diagnostics, err)}
	default:
		v.logger.Warn("verification tooling unavailable", "stage", stage, "error", err)
		return Result{Outcome: OutcomeInfraFailure, Stage: stage, Diagnostics: withError(diagnostics, err)}
	}
}

func withError(diagnostics string, err error) string {
	if diagnostics == "" {
		return err.Error()
	}
	return truncateDiagnostics(diagnostics + "\n" + err.Error())
}

func truncateDiagnostics(s string) string {
	if len(s) <= maxDiagnosticsBytes {
		return s
	}
	return s[len(s)-maxDiagnosticsBytes:]
}
