// Package runtime provides the backends the agent runs scripts with.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Runtime starts script runs.
// Implementations include raw process execution and Docker.
type Runtime interface {
	// Start begins running a script and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for one script run.
type StartOptions struct {
	ExecutionID string
	// ScriptType is BASH, JAVASCRIPT or LUA.
	ScriptType string
	Content    string
	Env        map[string]string
	// Stdout and Stderr receive output while the script runs. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// ExitResult describes how a run ended.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running script.
type Handle interface {
	// Wait blocks until the script exits and every byte of output was written.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the script.
	Stop(ctx context.Context) error
}

// ErrUnsupportedType is returned for a script type the runtime cannot run.
var ErrUnsupportedType = errors.New("unsupported script type")

type interpreter struct {
	bin  string
	ext  string
	eval string
}

var interpreters = map[string]interpreter{
	"BASH":       {bin: "bash", ext: ".sh", eval: "-c"},
	"JAVASCRIPT": {bin: "node", ext: ".js", eval: "-e"},
	"LUA":        {bin: "lua", ext: ".lua", eval: "-e"},
}

func interpreterFor(scriptType string) (interpreter, error) {
	in, ok := interpreters[scriptType]
	if !ok {
		return interpreter{}, fmt.Errorf("%w: %q", ErrUnsupportedType, scriptType)
	}
	return in, nil
}

func validate(opts StartOptions) (interpreter, error) {
	if opts.Content == "" {
		return interpreter{}, errors.New("script content is required")
	}
	return interpreterFor(opts.ScriptType)
}

func mapToEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
