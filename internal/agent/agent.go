// Package agent is the reference remote client. It long-polls its mailbox on
// the controller, runs scripts through a runtime and reports back.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"execplane/internal/agent/runtime"
	"execplane/internal/store"
	"execplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// RejectBusy is sent when every execution slot is taken.
const RejectBusy = "busy"

const (
	minBackoff    = 500 * time.Millisecond
	reportTimeout = 10 * time.Second
)

var tracer = otel.Tracer("execplane/agent")

// Config holds configuration for the agent.
type Config struct {
	ClientID    string
	Concurrency int
	PollWait    time.Duration
	MaxBackoff  time.Duration // Maximum backoff after poll errors (default: 30s)
	Logger      *slog.Logger
}

// Agent runs the poll loop and the executions it receives.
type Agent struct {
	controller Controller
	runtime    runtime.Runtime
	config     Config
	log        *slog.Logger

	sem     chan struct{}
	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
}

// New creates a new agent.
func New(c Controller, rt runtime.Runtime, config Config) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollWait <= 0 {
		config.PollWait = 25 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Agent{
		controller: c,
		runtime:    rt,
		config:     config,
		log:        config.Logger.With("client_id", config.ClientID),
		sem:        make(chan struct{}, config.Concurrency),
		running:    make(map[string]context.CancelFunc),
		done:       make(chan struct{}),
	}
}

// Run polls until ctx is cancelled. Running executions are allowed to finish
// before it returns.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent starting", "concurrency", a.config.Concurrency)

	var backoff time.Duration
	for ctx.Err() == nil {
		cmd, err := a.controller.Poll(ctx, a.config.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			backoff = nextBackoff(backoff, a.config.MaxBackoff)
			a.log.Warn("poll failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		backoff = 0

		if cmd != nil {
			a.handle(ctx, cmd)
		}
	}

	a.log.Info("context cancelled, waiting for running executions to finish")
	a.wg.Wait()
	close(a.done)
	return ctx.Err()
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

func nextBackoff(current, max time.Duration) time.Duration {
	if current < minBackoff {
		return minBackoff
	}
	current *= 2
	if current > max {
		return max
	}
	return current
}

func (a *Agent) handle(ctx context.Context, cmd *api.Command) {
	switch {
	case cmd.Kind == api.CommandExecute && cmd.Execute != nil:
		a.execute(ctx, cmd)
	case cmd.Kind == api.CommandAbort && cmd.Abort != nil:
		a.abort(cmd.Abort.ExecutionID)
	case cmd.Kind == api.CommandUpdate && cmd.Update != nil:
		a.update(ctx, cmd.Update)
	default:
		a.log.Warn("ignoring unknown command", "kind", cmd.Kind)
	}
}

// execute verifies and acknowledges the command, then runs it in its own
// goroutine. The run outlives ctx so a shutdown drains instead of killing.
func (a *Agent) execute(ctx context.Context, cmd *api.Command) {
	ex := cmd.Execute
	log := a.log.With("execution_id", ex.ExecutionID, "script_id", ex.ScriptID)

	if reason := a.verify(ex); reason != "" {
		log.Warn("rejecting execution", "reason", reason)
		if err := a.controller.Ack(ctx, ex.ExecutionID, false, reason); err != nil {
			log.Warn("failed to send rejection", "error", err)
		}
		return
	}

	select {
	case a.sem <- struct{}{}:
	default:
		log.Warn("rejecting execution, all slots busy")
		if err := a.controller.Ack(ctx, ex.ExecutionID, false, RejectBusy); err != nil {
			log.Warn("failed to send rejection", "error", err)
		}
		return
	}

	if err := a.controller.Ack(ctx, ex.ExecutionID, true, ""); err != nil {
		<-a.sem
		log.Error("failed to ack execution", "error", err)
		return
	}

	traceCtx := otel.GetTextMapPropagator().Extract(context.WithoutCancel(ctx), propagation.MapCarrier(cmd.Trace))
	runCtx, cancel := context.WithCancel(traceCtx)
	a.mu.Lock()
	a.running[ex.ExecutionID] = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			delete(a.running, ex.ExecutionID)
			a.mu.Unlock()
			cancel()
			<-a.sem
		}()
		a.run(runCtx, ex, log)
	}()
}

// verify returns a rejection reason, or "" when the script may run.
func (a *Agent) verify(ex *api.ExecuteCommand) string {
	if ex.Content == "" {
		return api.RejectNotApproved
	}
	if store.HashContent(ex.Content) != ex.ContentHash {
		return api.RejectHashMismatch
	}
	return ""
}

func (a *Agent) run(ctx context.Context, ex *api.ExecuteCommand, log *slog.Logger) {
	ctx, span := tracer.Start(ctx, "agent.execute",
		trace.WithAttributes(
			attribute.String("execution.id", ex.ExecutionID),
			attribute.String("script.id", ex.ScriptID),
			attribute.String("script.type", ex.ScriptType),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	// reportCtx survives abort and timeout so the outcome still reaches the controller.
	reportCtx := context.WithoutCancel(ctx)

	execCtx := ctx
	if ex.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(ex.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	started := time.Now()
	if err := a.controller.Start(reportCtx, ex.ExecutionID); err != nil {
		log.Warn("failed to report start", "error", err)
	}

	out := newOutputStream(reportCtx, a.controller, ex.ExecutionID, log)
	handle, err := a.runtime.Start(execCtx, runtime.StartOptions{
		ExecutionID: ex.ExecutionID,
		ScriptType:  ex.ScriptType,
		Content:     ex.Content,
		Env: map[string]string{
			"EXECPLANE_EXECUTION_ID": ex.ExecutionID,
			"EXECPLANE_SCRIPT_ID":    ex.ScriptID,
			"EXECPLANE_CLIENT_ID":    a.config.ClientID,
		},
		Stdout: out.Writer(store.StreamStdout),
		Stderr: out.Writer(store.StreamStderr),
	})
	if err != nil {
		out.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "runtime start failed")
		log.Error("failed to start runtime", "error", err)
		a.report(reportCtx, ex.ExecutionID, -1, fmt.Sprintf("failed to start runtime: %v", err), started, log)
		return
	}

	result, err := handle.Wait(execCtx)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(reportCtx, reportTimeout)
		if stopErr := handle.Stop(stopCtx); stopErr != nil {
			log.Warn("failed to stop script", "error", stopErr)
		}
		cancel()
	}
	out.Close()

	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
	var message string
	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		message = fmt.Sprintf("execution timed out after %ds", ex.TimeoutSeconds)
	case ctx.Err() != nil:
		message = "execution aborted"
	case err != nil:
		message = fmt.Sprintf("runtime wait failed: %v", err)
	case result.Error != nil:
		message = result.Error.Error()
	}
	if message != "" {
		span.SetStatus(codes.Error, message)
	}

	log.Info("execution finished", "exit_code", result.ExitCode, "error", message)
	a.report(reportCtx, ex.ExecutionID, result.ExitCode, message, started, log)
}

func (a *Agent) report(ctx context.Context, executionID string, exitCode int, message string, started time.Time, log *slog.Logger) {
	req := api.ResultRequest{ExitCode: exitCode, DurationMs: time.Since(started).Milliseconds()}
	if message != "" {
		req.Error = &message
	}

	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	if err := a.controller.Result(ctx, executionID, req); err != nil {
		log.Error("failed to report result", "error", err)
	}
}

// abort cancels a running execution. Unknown ids are ignored.
func (a *Agent) abort(executionID string) {
	a.mu.Lock()
	cancel, ok := a.running[executionID]
	a.mu.Unlock()
	if !ok {
		a.log.Debug("abort for an execution not running here", "execution_id", executionID)
		return
	}
	a.log.Info("aborting execution", "execution_id", executionID)
	cancel()
}

// update acknowledges receipt. Installing the new version is left to the
// host's package manager.
func (a *Agent) update(ctx context.Context, cmd *api.UpdateCommand) {
	target := "latest"
	if cmd.TargetVersion != nil {
		target = *cmd.TargetVersion
	}
	a.log.Info("update requested", "job_id", cmd.JobID, "target_version", target)
	if err := a.controller.UpdateAck(ctx, cmd.JobID, true, ""); err != nil {
		a.log.Warn("failed to ack update", "job_id", cmd.JobID, "error", err)
	}
}
