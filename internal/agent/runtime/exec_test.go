package runtime

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func TestNewExecRuntime_DefaultWorkDir(t *testing.T) {
	rt := NewExecRuntime("")

	expected := filepath.Join(os.TempDir(), "execplane", "runner")
	if rt.WorkDir != expected {
		t.Errorf("expected WorkDir to be %s, got %s", expected, rt.WorkDir)
	}
}

func TestNewExecRuntime_CustomWorkDir(t *testing.T) {
	rt := NewExecRuntime("/custom/path")

	if rt.WorkDir != "/custom/path" {
		t.Errorf("expected WorkDir to be /custom/path, got %s", rt.WorkDir)
	}
}

func TestStart_SeparatesStreamsAndExitCode(t *testing.T) {
	requireBash(t)
	rt := NewExecRuntime(t.TempDir())

	var stdout, stderr syncBuffer
	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		ExecutionID: "exec-1",
		ScriptType:  "BASH",
		Content:     "echo \"hello $EXECPLANE_EXECUTION_ID\"\necho oops >&2\nexit 3\n",
		Env:         map[string]string{"EXECPLANE_EXECUTION_ID": "exec-1"},
		Stdout:      &stdout,
		Stderr:      &stderr,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
	if got := stdout.String(); got != "hello exec-1\n" {
		t.Errorf("unexpected stdout %q", got)
	}
	if got := stderr.String(); got != "oops\n" {
		t.Errorf("unexpected stderr %q", got)
	}
}

func TestStart_RemovesWorkDirAfterExit(t *testing.T) {
	requireBash(t)
	root := t.TempDir()
	rt := NewExecRuntime(root)

	handle, err := rt.Start(context.Background(), StartOptions{ExecutionID: "exec-2", ScriptType: "BASH", Content: "true"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := handle.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "exec-2")); !os.IsNotExist(err) {
		t.Errorf("expected work dir to be removed, stat err = %v", err)
	}
}

func TestStart_ContextCancelKillsScript(t *testing.T) {
	requireBash(t)
	rt := NewExecRuntime(t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	handle, err := rt.Start(ctx, StartOptions{ScriptType: "BASH", Content: "sleep 30"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	result, _ := handle.Wait(ctx)
	if result.ExitCode == 0 {
		t.Error("expected a non-zero exit code for a killed script")
	}
	if time.Since(start) > 10*time.Second {
		t.Error("Wait did not return after cancel")
	}
}

func TestStart_Validation(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	tests := []struct {
		name    string
		opts    StartOptions
		wantErr string
	}{
		{"empty content", StartOptions{ScriptType: "BASH"}, "content is required"},
		{"unknown type", StartOptions{ScriptType: "PYTHON", Content: "print(1)"}, "unsupported script type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Start(context.Background(), tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDockerCommand(t *testing.T) {
	cmd, err := dockerCommand("JAVASCRIPT", "console.log(1)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(cmd, " ") != "node -e console.log(1)" {
		t.Errorf("unexpected command %q", cmd)
	}

	if _, err := dockerCommand("COBOL", "x"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestMapToEnvList_Sorted(t *testing.T) {
	env := mapToEnvList(map[string]string{"B": "2", "A": "1"})
	if strings.Join(env, ",") != "A=1,B=2" {
		t.Errorf("unexpected env %v", env)
	}
}
