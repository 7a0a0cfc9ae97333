package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/internal/workspace"
)

type stubRunner struct {
	calls   [][]string
	dirs    []string
	results []stubResult
}

type stubResult struct {
	output []byte
	err    error
}

func (s *stubRunner) Run(ctx context.Context, dir string, argv []string) ([]byte, error) {
	s.calls = append(s.calls, argv)
	s.dirs = append(s.dirs, dir)
	if len(s.results) == 0 {
		return nil, nil
	}
	res := s.results[0]
	s.results = s.results[1:]
	return res.output, res.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVerifier(t *testing.T, runner Runner) *Verifier {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return NewVerifier(ws, runner, testLogger(), time.Minute, time.Minute)
}

var sampleFiles = []domain.GeneratedFile{
	{Path: "package.json", Content: `{"scripts":{"build":"true"}}`},
	{Path: "index.html", Content: "<html></html>"},
}

func TestVerifySuccessRunsInstallThenBuild(t *testing.T) {
	runner := &stubRunner{}
	v := newTestVerifier(t, runner)
	res := v.Verify(context.Background(), sampleFiles)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v, want success", res.Outcome)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected install and build, got %d calls", len(runner.calls))
	}
	if runner.calls[0][0] != "npm" || runner.calls[0][1] != "install" {
		t.Fatalf("first call = %v", runner.calls[0])
	}
	if runner.calls[1][1] != "run" || runner.calls[1][2] != "build" {
		t.Fatalf("second call = %v", runner.calls[1])
	}
}

func TestVerifyCleansWorkspaceOnEveryPath(t *testing.T) {
	runner := &stubRunner{results: []stubResult{
		{output: []byte("error TS2304: cannot find name"), err: fmt.Errorf("%w: exit status 1", ErrCommandFailed)},
	}}
	v := newTestVerifier(t, runner)
	res := v.Verify(context.Background(), sampleFiles)
	if res.Outcome != OutcomeCodeFailure {
		t.Fatalf("outcome = %v, want code failure", res.Outcome)
	}
	if len(runner.dirs) == 0 {
		t.Fatal("runner never saw a workspace dir")
	}
	if _, err := os.Stat(runner.dirs[0]); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace %s not removed: %v", runner.dirs[0], err)
	}
}

func TestVerifyClassifiesMissingToolAsInfra(t *testing.T) {
	runner := &stubRunner{results: []stubResult{
		{err: errors.New(`exec: "npm": executable file not found in $PATH`)},
	}}
	v := newTestVerifier(t, runner)
	res := v.Verify(context.Background(), sampleFiles)
	if res.Outcome != OutcomeInfraFailure {
		t.Fatalf("outcome = %v, want infra failure", res.Outcome)
	}
}

func TestVerifyClassifiesTimeoutAsCodeFailure(t *testing.T) {
	runner := &stubRunner{results: []stubResult{
		{output: []byte("installing..."), err: context.DeadlineExceeded},
	}}
	v := newTestVerifier(t, runner)
	res := v.Verify(context.Background(), sampleFiles)
	if res.Outcome != OutcomeCodeFailure {
		t.Fatalf("outcome = %v, want code failure for subprocess timeout", res.Outcome)
	}
}

func TestVerifyClassifiesResourceExhaustionAsInfra(t *testing.T) {
	runner := &stubRunner{results: []stubResult{
		{output: []byte("npm ERR! nospc ENOSPC: no space left on device"), err: fmt.Errorf("%w: exit status 1", ErrCommandFailed)},
	}}
	v := newTestVerifier(t, runner)
	res := v.Verify(context.Background(), sampleFiles)
	if res.Outcome != OutcomeInfraFailure {
		t.Fatalf("outcome = %v, want infra failure for ENOSPC", res.Outcome)
	}
}

func TestDiagnosticsAreTruncated(t *testing.T) {
	big := strings.Repeat("x", maxDiagnosticsBytes*2)
	runner := &stubRunner{results: []stubResult{
		{output: []byte(big), err: fmt.Errorf("%w: exit status 2", ErrCommandFailed)},
	}}
	v := newTestVerifier(t, runner)
	res := v.Verify(context.Background(), sampleFiles)
	if len(res.Diagnostics) > maxDiagnosticsBytes {
		t.Fatalf("diagnostics length %d exceeds bound %d", len(res.Diagnostics), maxDiagnosticsBytes)
	}
}
