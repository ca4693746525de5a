package selftest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/alexcormier/setwp/internal/logger"
)

const (
	// VersionFlag is passed to the executable under test.
	VersionFlag = "--version"

	// DefaultTimeout bounds a single run of the executable.
	DefaultTimeout = 10 * time.Second

	busyAttempts = 5
	busyDelay    = 50 * time.Millisecond
)

var errVersionMismatch = errors.New("reported version differs")

// Result is the outcome of a self-test. A failed self-test is a result, not an error.
type Result struct {
	Passed   bool
	Output   string
	Expected string
	// Err explains why the test did not pass.
	Err error
}

// ExpectedOutput is what setwp prints for --version.
func ExpectedOutput(version string) string {
	return "setwp version " + version
}

// Check runs executable with VersionFlag and compares its trimmed stdout
// with ExpectedOutput(version).
func Check(ctx context.Context, executable, version string) Result {
	return CheckWithTimeout(ctx, executable, version, DefaultTimeout)
}

// CheckWithTimeout is Check with an explicit time limit.
func CheckWithTimeout(ctx context.Context, executable, version string, timeout time.Duration) Result {
	ctx = logger.WithName(ctx, "selftest")

	result := Result{Expected: ExpectedOutput(version)}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, err := run(cmdCtx, executable)
	result.Output = strings.TrimSpace(stdout)

	switch {
	case err != nil:
		result.Err = fmt.Errorf("run %s %s: %w", executable, VersionFlag, err)

		if msg := strings.TrimSpace(stderr); msg != "" {
			result.Err = fmt.Errorf("%w: %s", result.Err, msg)
		}
	case result.Output != result.Expected:
		result.Err = fmt.Errorf("got %q, want %q: %w", result.Output, result.Expected, errVersionMismatch)
	default:
		result.Passed = true
	}

	logger.DebugKV(ctx, "Self-test finished",
		"executable", executable, "passed", result.Passed, "output", result.Output)

	return result
}

// run executes the binary, retrying while the kernel still reports the
// freshly written file as busy.
func run(ctx context.Context, executable string) (string, string, error) {
	for attempt := 1; ; attempt++ {
		var stdout, stderr bytes.Buffer

		cmd := exec.CommandContext(ctx, executable, VersionFlag)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if !errors.Is(err, syscall.ETXTBSY) || attempt == busyAttempts {
			return stdout.String(), stderr.String(), err
		}

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(busyDelay):
		}
	}
}

// SelfTest reports whether executable prints the expected version line.
func SelfTest(ctx context.Context, executable, version string) bool {
	return Check(ctx, executable, version).Passed
}
