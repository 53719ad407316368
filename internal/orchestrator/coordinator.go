// Package orchestrator is the single entry point for starting executions and
// for applying every lifecycle transition reported by transports.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"execplane/internal/logger"
	"execplane/internal/metrics"
	"execplane/internal/output"
	"execplane/internal/store"
	"execplane/internal/transport"
	"execplane/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("execplane/orchestrator")

// createAttempts bounds the find/create loop when a racing winner finishes
// between our conflict and the re-read.
const createAttempts = 3

// ClientResolver maps a certificate common name to a client id.
type ClientResolver interface {
	ResolveClientID(ctx context.Context, commonName string) (string, error)
}

// TerminalHook is notified once an execution reaches a terminal state.
type TerminalHook interface {
	Name() string
	OnTerminal(ctx context.Context, e *store.Execution) error
}

// Config holds optional collaborators.
type Config struct {
	// Scripts enables catalog validation and script snapshots. Nil disables both.
	Scripts  store.ScriptStore
	Resolver ClientResolver
	Hooks    []TerminalHook
	Metrics  metrics.Sink
	Logger   *slog.Logger
	// HookTimeout bounds each terminal hook run. Defaults to 30s.
	HookTimeout time.Duration
}

// Coordinator implements trigger, cancel and the transport callbacks.
type Coordinator struct {
	executions store.ExecutionStore
	output     *output.Buffer
	transport  transport.Transport

	scripts     store.ScriptStore
	resolver    ClientResolver
	hooks       []TerminalHook
	metrics     metrics.Sink
	logger      *slog.Logger
	hookTimeout time.Duration

	hooksWG sync.WaitGroup
}

func New(executions store.ExecutionStore, buf *output.Buffer, t transport.Transport, cfg Config) *Coordinator {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopSink()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = 30 * time.Second
	}
	return &Coordinator{
		executions:  executions,
		output:      buf,
		transport:   t,
		scripts:     cfg.Scripts,
		resolver:    cfg.Resolver,
		hooks:       cfg.Hooks,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		hookTimeout: cfg.HookTimeout,
	}
}

func (c *Coordinator) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, c.logger)
}

// Trigger starts scriptID on clientID unless an execution for the pair is
// already in flight, in which case that execution is returned unchanged.
func (c *Coordinator) Trigger(ctx context.Context, scriptID, clientID string) (*store.Execution, error) {
	return c.trigger(ctx, scriptID, clientID, store.TriggerTypeUIPush)
}

// TriggerFromClient is Trigger on behalf of the client itself.
func (c *Coordinator) TriggerFromClient(ctx context.Context, scriptID, clientID string) (*store.Execution, error) {
	return c.trigger(ctx, scriptID, clientID, store.TriggerTypeClientPull)
}

// TriggerByCommonName resolves the client through the certificate directory first.
func (c *Coordinator) TriggerByCommonName(ctx context.Context, scriptID, commonName string) (*store.Execution, error) {
	if commonName == "" {
		return nil, store.Invalid("commonName", "must not be empty")
	}
	if c.resolver == nil {
		return nil, store.Invalid("commonName", "certificate directory is not configured")
	}
	clientID, err := c.resolver.ResolveClientID(ctx, commonName)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", commonName, err)
	}
	return c.Trigger(ctx, scriptID, clientID)
}

func (c *Coordinator) trigger(ctx context.Context, scriptID, clientID string, triggerType store.TriggerType) (*store.Execution, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Trigger", trace.WithAttributes(
		attribute.String("script.id", scriptID),
		attribute.String("client.id", clientID),
	))
	defer span.End()

	if scriptID == "" {
		return nil, store.Invalid("scriptId", "must not be empty")
	}
	if clientID == "" {
		return nil, store.Invalid("clientId", "must not be empty")
	}

	// An in-flight execution is returned even if the catalog has changed since.
	active, err := c.executions.FindActiveExecution(ctx, scriptID, clientID)
	if err == nil {
		span.SetAttributes(attribute.String("execution.id", active.ID.String()), attribute.Bool("execution.created", false))
		c.metrics.TriggerOutcome(metrics.TriggerDeduplicated)
		return active, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	script, err := c.resolveScript(ctx, scriptID, clientID)
	if err != nil {
		return nil, err
	}

	e, created, err := c.findOrCreate(ctx, script, clientID, triggerType)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("execution.id", e.ID.String()), attribute.Bool("execution.created", created))
	if !created {
		c.metrics.TriggerOutcome(metrics.TriggerDeduplicated)
		return e, nil
	}

	err = c.transport.DeliverExecution(ctx, transport.ExecutionCommand{
		ExecutionID:    e.ID,
		ClientID:       clientID,
		ScriptID:       script.ID,
		ScriptName:     script.Name,
		ScriptType:     string(script.Type),
		Content:        script.Content,
		ContentHash:    script.ContentHash,
		TimeoutSeconds: script.TimeoutSeconds,
	})
	if err == nil {
		c.metrics.TriggerOutcome(metrics.TriggerCreated)
		return e, nil
	}

	c.metrics.TriggerOutcome(metrics.TriggerUnreachable)
	c.log(ctx).Warn("delivery failed", "execution_id", e.ID, "client_id", clientID, "error", err)

	kind := store.ErrorKindClientUnreachable
	msg := err.Error()
	failed, terr := c.transition(ctx, e.ID, store.ExecutionStatusFailed, store.TransitionMeta{ErrorKind: &kind, ErrorMessage: &msg})
	if terr != nil {
		if errors.Is(terr, store.ErrInvalidTransition) {
			return c.executions.GetExecutionByID(ctx, e.ID)
		}
		return nil, terr
	}
	return failed, nil
}

// resolveScript validates the catalog entry and returns the snapshot to copy
// onto the execution. Without a catalog the id is used as-is.
func (c *Coordinator) resolveScript(ctx context.Context, scriptID, clientID string) (*store.Script, error) {
	if c.scripts == nil {
		return &store.Script{ID: scriptID, Name: scriptID}, nil
	}

	script, err := c.scripts.GetScript(ctx, scriptID)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", scriptID, err)
	}
	if !script.Enabled {
		return nil, store.Invalid("scriptId", "script %s is disabled", scriptID)
	}
	ok, err := c.scripts.IsAssigned(ctx, scriptID, clientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.Invalid("clientId", "script %s is not assigned to client %s", scriptID, clientID)
	}
	return script, nil
}

func (c *Coordinator) findOrCreate(ctx context.Context, script *store.Script, clientID string, triggerType store.TriggerType) (*store.Execution, bool, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		active, err := c.executions.FindActiveExecution(ctx, script.ID, clientID)
		if err == nil {
			return active, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}

		e := &store.Execution{
			ID:             uuid.New(),
			ScriptID:       script.ID,
			ScriptName:     script.Name,
			ScriptHash:     script.ContentHash,
			ClientID:       clientID,
			TriggerType:    triggerType,
			Status:         store.ExecutionStatusPending,
			TimeoutSeconds: script.TimeoutSeconds,
		}
		err = c.executions.CreateExecution(ctx, e)
		if err == nil {
			c.metrics.ExecutionTransition(string(store.ExecutionStatusPending))
			return e, true, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, false, err
		}
		// A concurrent trigger won; loop to return its execution.
	}
	return nil, false, store.ErrConflict
}

// Get returns an execution by id.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	return c.executions.GetExecutionByID(ctx, id)
}

// Cancel moves a non-terminal execution to CANCELLED and asks the client to
// stop. Cancelling a terminal execution returns it unchanged.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	e, err := c.executions.GetExecutionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Terminal() {
		return e, nil
	}

	kind := store.ErrorKindCancelled
	cancelled, err := c.transition(ctx, id, store.ExecutionStatusCancelled, store.TransitionMeta{ErrorKind: &kind})
	if errors.Is(err, store.ErrInvalidTransition) {
		return c.executions.GetExecutionByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	c.abort(ctx, cancelled)
	return cancelled, nil
}

// TimeOut moves an execution that has been idle since idleSince to TIMED_OUT.
// ErrInvalidTransition is returned untouched when the execution finished or
// saw new activity after idleSince.
func (c *Coordinator) TimeOut(ctx context.Context, id uuid.UUID, idleSince, now time.Time) (*store.Execution, error) {
	kind := store.ErrorKindTimeout
	msg := fmt.Sprintf("%v: no activity for %s", store.ErrTimeout, now.Sub(idleSince).Round(time.Second))
	e, err := c.transition(ctx, id, store.ExecutionStatusTimedOut, store.TransitionMeta{
		ErrorKind:    &kind,
		ErrorMessage: &msg,
		IdleSince:    &idleSince,
	})
	if err != nil {
		return nil, err
	}
	c.abort(ctx, e)
	return e, nil
}

func (c *Coordinator) abort(ctx context.Context, e *store.Execution) {
	err := c.transport.Abort(ctx, transport.AbortCommand{ExecutionID: e.ID, ClientID: e.ClientID})
	if err != nil {
		c.log(ctx).Info("abort not delivered", "execution_id", e.ID, "client_id", e.ClientID, "error", err)
	}
}

// HandleAck applies the client's accept or reject decision.
func (c *Coordinator) HandleAck(ctx context.Context, id uuid.UUID, accepted bool, reason string) (*store.Execution, error) {
	if accepted {
		return c.lateTolerant(ctx, id, store.ExecutionStatusDispatched, store.TransitionMeta{})
	}

	kind := store.ErrorKindRejectedNotApproved
	if reason == api.RejectHashMismatch {
		kind = store.ErrorKindRejectedHashMismatch
	}
	msg := "rejected by client"
	if reason != "" {
		msg = "rejected by client: " + reason
	}
	return c.lateTolerant(ctx, id, store.ExecutionStatusFailed, store.TransitionMeta{ErrorKind: &kind, ErrorMessage: &msg})
}

// HandleStart marks the execution RUNNING, passing through DISPATCHED when
// the ack was lost.
func (c *Coordinator) HandleStart(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	return c.ensureRunning(ctx, id)
}

func (c *Coordinator) ensureRunning(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	e, err := c.executions.GetExecutionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status == store.ExecutionStatusPending {
		if e, err = c.lateTolerant(ctx, id, store.ExecutionStatusDispatched, store.TransitionMeta{}); err != nil {
			return nil, err
		}
	}
	if e.Status == store.ExecutionStatusDispatched {
		return c.lateTolerant(ctx, id, store.ExecutionStatusRunning, store.TransitionMeta{})
	}
	return e, nil
}

// HandleOutput appends a chunk, starting the execution if needed.
func (c *Coordinator) HandleOutput(ctx context.Context, id uuid.UUID, stream, payload string, isFinal bool) (*store.OutputChunk, error) {
	if _, err := c.ensureRunning(ctx, id); err != nil {
		return nil, err
	}

	chunk, err := c.output.Append(ctx, id, stream, payload, isFinal)
	if errors.Is(err, store.ErrBufferSealed) {
		c.log(ctx).Warn("output after seal dropped", "execution_id", id, "bytes", len(payload))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := c.executions.TouchExecution(ctx, id); err != nil {
		c.log(ctx).Warn("touch failed", "execution_id", id, "error", err)
	}
	return chunk, nil
}

// HandleResult records how the script finished. A result without a prior
// start signal counts as one, so the execution passes through RUNNING.
func (c *Coordinator) HandleResult(ctx context.Context, id uuid.UUID, exitCode int, errorMessage *string, durationMs int64) (*store.Execution, error) {
	if _, err := c.ensureRunning(ctx, id); err != nil {
		return nil, err
	}

	meta := store.TransitionMeta{ExitCode: &exitCode, DurationMs: &durationMs}
	to := store.ExecutionStatusSucceeded
	switch {
	case errorMessage != nil && *errorMessage != "":
		to = store.ExecutionStatusFailed
		kind := store.ErrorKindAgentError
		meta.ErrorKind, meta.ErrorMessage = &kind, errorMessage
	case exitCode != 0:
		to = store.ExecutionStatusFailed
		kind := store.ErrorKindNonZeroExit
		msg := fmt.Sprintf("exit code %d", exitCode)
		meta.ErrorKind, meta.ErrorMessage = &kind, &msg
	}
	return c.lateTolerant(ctx, id, to, meta)
}

// lateTolerant applies a callback transition. A late or duplicate callback
// that no longer fits the graph is logged and answered with the current state.
func (c *Coordinator) lateTolerant(ctx context.Context, id uuid.UUID, to store.ExecutionStatus, meta store.TransitionMeta) (*store.Execution, error) {
	e, err := c.transition(ctx, id, to, meta)
	if errors.Is(err, store.ErrInvalidTransition) {
		current, gerr := c.executions.GetExecutionByID(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		c.log(ctx).Info("late callback ignored", "execution_id", id, "status", current.Status, "requested", to)
		return current, nil
	}
	return e, err
}

// transition is the only path that changes execution status.
func (c *Coordinator) transition(ctx context.Context, id uuid.UUID, to store.ExecutionStatus, meta store.TransitionMeta) (*store.Execution, error) {
	e, err := c.executions.TransitionExecution(ctx, id, to, meta)
	if err != nil {
		return nil, err
	}

	c.metrics.ExecutionTransition(string(to))
	c.log(ctx).Info("execution transitioned", "execution_id", id, "client_id", e.ClientID, "status", to)

	if to.Terminal() {
		if e.FinishedAt != nil {
			c.metrics.ExecutionLatencyObserve(e.FinishedAt.Sub(e.CreatedAt))
		}
		c.runHooks(ctx, e)
	}
	return e, nil
}

// runHooks fires terminal hooks in the background. They outlive the request
// that caused the transition but are bounded by hookTimeout.
func (c *Coordinator) runHooks(ctx context.Context, e *store.Execution) {
	if len(c.hooks) == 0 {
		return
	}

	snapshot := *e
	hookCtx := logger.ContextAttrs(context.WithoutCancel(ctx), slog.String("execution_id", e.ID.String()))

	c.hooksWG.Add(1)
	go func() {
		defer c.hooksWG.Done()

		hookCtx, cancel := context.WithTimeout(hookCtx, c.hookTimeout)
		defer cancel()

		var g errgroup.Group
		for _, h := range c.hooks {
			g.Go(func() error {
				if err := h.OnTerminal(hookCtx, &snapshot); err != nil {
					c.logger.WarnContext(hookCtx, "terminal hook failed", "hook", h.Name(), "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until in-flight terminal hooks finish.
func (c *Coordinator) Wait() {
	c.hooksWG.Wait()
}
