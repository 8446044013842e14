package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// run executes bin and returns its stdout together with the run summary.
func run(ctx context.Context, bin string, args ...string) ([]byte, RunResult) {
	start := time.Now()

	var stdout bytes.Buffer
	stderr := newLimitedWriter(maxStderrBytes)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	result := RunResult{
		ExitCode:   exitCode(err),
		StderrTail: stderr.String(),
		Duration:   time.Since(start),
	}
	if err != nil && result.StderrTail == "" {
		result.StderrTail = err.Error()
	}
	return stdout.Bytes(), result
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func newLimitedWriter(limit int) *limitedWriter {
	return &limitedWriter{w: &bytes.Buffer{}, limit: limit}
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

func (lw *limitedWriter) String() string {
	return lw.w.String()
}

var _ io.Writer = (*limitedWriter)(nil)
