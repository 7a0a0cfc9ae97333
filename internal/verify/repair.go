package verify

import (
	"context"
	"log/slog"

	"github.com/splax/sitesmith/internal/domain"
)

// DefaultMaxFixIterations bounds the number of model fix calls per build.
const DefaultMaxFixIterations = 3

// BuildVerifier abstracts Verifier for the repair loop.
type BuildVerifier interface {
	Verify(ctx context.Context, files []domain.GeneratedFile) Result
}

// Fixer issues one narrow model call: diagnostics and current files in, only
// changed files out.
type Fixer interface {
	Fix(ctx context.Context, diagnostics string, files []domain.GeneratedFile) ([]domain.GeneratedFile, error)
}

// RoundEvent reports repair loop progress to an observer.
type RoundEvent struct {
	Kind        string // "verify", "verify_failed", "fixing"
	Iteration   int
	Max         int
	Diagnostics string
}

// RepairLoop runs bounded verify→fix rounds over a candidate file set.
type RepairLoop struct {
	verifier BuildVerifier
	fixer    Fixer
	logger   *slog.Logger
	max      int
	// proceed gates each new round; the deadline guard plugs in here.
	proceed func() bool
	observe func(RoundEvent)
}

// NewRepairLoop constructs a loop with the given bound. A nil proceed always
// continues; a nil observer is ignored.
func NewRepairLoop(verifier BuildVerifier, fixer Fixer, logger *slog.Logger, max int, proceed func() bool, observe func(RoundEvent)) *RepairLoop {
	if max <= 0 {
		max = DefaultMaxFixIterations
	}
	if proceed == nil {
		proceed = func() bool { return true }
	}
	if observe == nil {
		observe = func(RoundEvent) {}
	}
	return &RepairLoop{verifier: verifier, fixer: fixer, logger: logger, max: max, proceed: proceed, observe: observe}
}

// Run verifies and repairs files until the build passes, the sandbox cannot
// verify, the fix budget is exhausted, or the deadline guard refuses another
// round. The returned set is always the best known one: an unverified build
// is still delivered, marked verified=false, rather than withheld.
func (l *RepairLoop) Run(ctx context.Context, files []domain.GeneratedFile) ([]domain.GeneratedFile, bool) {
	fixes := 0
	for {
		l.observe(RoundEvent{Kind: "verify", Iteration: fixes + 1, Max: l.max})
		result := l.verifier.Verify(ctx, files)
		switch result.Outcome {
		case OutcomeSuccess:
			l.logger.Info("verification passed", "fix_rounds", fixes)
			return files, true
		case OutcomeInfraFailure:
			// Inability to verify is not evidence of broken code.
			l.logger.Warn("verification skipped", "stage", result.Stage)
			return files, false
		}

		l.observe(RoundEvent{Kind: "verify_failed", Iteration: fixes + 1, Max: l.max, Diagnostics: result.Diagnostics})
		if fixes >= l.max || !l.proceed() {
			l.logger.Warn("delivering unverified build", "fix_rounds", fixes, "stage", result.Stage)
			return files, false
		}

		l.observe(RoundEvent{Kind: "fixing", Iteration: fixes + 1, Max: l.max})
		fixed, err := l.fixer.Fix(ctx, result.Diagnostics, files)
		if err != nil {
			l.logger.Warn("fix call failed", "error", err)
			return files, false
		}
		if len(fixed) == 0 {
			l.logger.Info("model returned no fixes, stopping early")
			return files, false
		}
		files = MergeFiles(files, fixed)
		fixes++
	}
}

// MergeFiles applies fixes by path: replace-if-present, append-if-new.
// Unmentioned files are untouched.
func MergeFiles(base, fixes []domain.GeneratedFile) []domain.GeneratedFile {
	merged := make([]domain.GeneratedFile, len(base))
	copy(merged, base)
	index := make(map[string]int, len(merged))
	for i, file := range merged {
		index[file.Path] = i
	}
	for _, fix := range fixes {
		if i, ok := index[fix.Path]; ok {
			merged[i].Content = fix.Content
			continue
		}
		index[fix.Path] = len(merged)
		merged = append(merged, fix)
	}
	return merged
}
