package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ExecRuntime runs scripts as local interpreter processes.
type ExecRuntime struct {
	// WorkDir holds one scratch directory per run.
	WorkDir string
}

// NewExecRuntime creates a process-based runtime. An empty workDir uses the
// system temp directory.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "execplane", "runner")
	}
	return &ExecRuntime{WorkDir: workDir}
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Start writes the script to a scratch file and runs its interpreter on it.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	in, err := validate(opts)
	if err != nil {
		return nil, err
	}

	runID := opts.ExecutionID
	if runID == "" {
		runID = uuid.NewString()
	}
	dir := filepath.Join(e.WorkDir, runID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	script := filepath.Join(dir, "script"+in.ext)
	if err := os.WriteFile(script, []byte(opts.Content), 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to write script: %w", err)
	}

	cmd := exec.CommandContext(ctx, in.bin, script)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), mapToEnvList(opts.Env)...)
	cmd.Stdout = orDiscard(opts.Stdout)
	cmd.Stderr = orDiscard(opts.Stderr)
	// Children that keep the pipes open must not block Wait forever.
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to start %s: %w", in.bin, err)
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		os.RemoveAll(dir)
		close(h.done)
	}()
	return h, nil
}

func (h *execHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}

	if h.err == nil {
		return ExitResult{ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(h.err, &exitErr) && exitErr.ExitCode() >= 0 {
		return ExitResult{ExitCode: exitErr.ExitCode()}, nil
	}
	return ExitResult{ExitCode: -1, Error: h.err}, h.err
}

func (h *execHandle) Stop(ctx context.Context) error {
	err := h.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
