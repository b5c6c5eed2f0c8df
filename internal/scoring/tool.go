package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// RawDiffOutput is what a diff backend produced for one comparison.
type RawDiffOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// DiffTool compares two specification files.
type DiffTool interface {
	Compare(ctx context.Context, fileA, fileB string) (RawDiffOutput, error)
}

// DefaultToolPath is the external structural-diff executable looked up on PATH.
const DefaultToolPath = "oasdiff"

// waitDelay bounds how long a killed tool's children may hold its pipes open.
const waitDelay = 2 * time.Second

// ExecTool runs an external structural-diff executable as
// "<Path> diff <fileA> <fileB> -f json".
type ExecTool struct {
	Path string
	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration
}

// NewExecTool returns an ExecTool for path, defaulting to DefaultToolPath.
func NewExecTool(path string, timeout time.Duration) *ExecTool {
	if path == "" {
		path = DefaultToolPath
	}
	return &ExecTool{Path: path, Timeout: timeout}
}

// Compare runs the tool. A non-zero exit is returned as data; only a failure
// to run the process at all is an error.
func (t *ExecTool) Compare(ctx context.Context, fileA, fileB string) (RawDiffOutput, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.Path, "diff", fileA, fileB, "-f", "json")
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := RawDiffOutput{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("%s diff interrupted: %w", t.Path, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("failed to run %s: %w", t.Path, err)
	}
	return out, nil
}
