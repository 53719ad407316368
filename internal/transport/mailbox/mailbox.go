// Package mailbox is an HTTP pull transport: commands are queued per client
// and agents collect them with long polls.
package mailbox

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"execplane/internal/circuitbreaker"
	"execplane/internal/metrics"
	"execplane/internal/store"
	"execplane/internal/transport"
	"execplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Config holds mailbox tuning.
type Config struct {
	QueueSize        int
	SendTimeout      time.Duration
	PresenceTTL      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 90 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

type client struct {
	id          string
	version     string
	connectedAt time.Time
	lastSeenAt  time.Time
	queue       chan api.Command
	polling     int
}

// Registry is the per-client command queue set. It implements
// transport.Transport and transport.Presence.
type Registry struct {
	config  Config
	breaker *circuitbreaker.Breaker
	metrics metrics.Sink
	now     func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastPrune time.Time
}

var (
	_ transport.Transport = (*Registry)(nil)
	_ transport.Presence  = (*Registry)(nil)
)

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for presence.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Sink) Option {
	return func(r *Registry) { r.metrics = m }
}

func New(cfg Config, opts ...Option) *Registry {
	cfg.applyDefaults()
	r := &Registry{
		config:  cfg,
		metrics: metrics.NewNoopSink(),
		now:     time.Now,
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.breaker = circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown).WithClock(r.now)
	return r
}

// Poll marks clientID as present and waits up to wait for its next command.
// It returns nil when nothing arrived in time.
func (r *Registry) Poll(ctx context.Context, clientID, version string, wait time.Duration) (*api.Command, error) {
	c := r.touch(clientID, version, 1)
	defer r.touch(clientID, version, -1)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case cmd := <-c.queue:
		return &cmd, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// touch records a poll from clientID. polling is +1 when a poll starts and -1
// when it returns; a client is never pruned while a poll is open.
func (r *Registry) touch(clientID, version string, polling int) *client {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)
	c, ok := r.clients[clientID]
	if !ok {
		c = &client{id: clientID, connectedAt: now, queue: make(chan api.Command, r.config.QueueSize)}
		r.clients[clientID] = c
	} else if now.Sub(c.lastSeenAt) > r.config.PresenceTTL {
		c.connectedAt = now
	}
	if version != "" {
		c.version = version
	}
	c.lastSeenAt = now
	c.polling += polling
	return c
}

// pruneLocked forgets clients whose presence expired, at most once per
// presence TTL. Commands still queued for them are dropped.
func (r *Registry) pruneLocked(now time.Time) {
	if now.Sub(r.lastPrune) < r.config.PresenceTTL {
		return
	}
	r.lastPrune = now

	for id, c := range r.clients {
		if c.polling > 0 || now.Sub(c.lastSeenAt) <= r.config.PresenceTTL {
			continue
		}
		if n := len(c.queue); n > 0 {
			log.Printf("mailbox: dropping %d undelivered commands for %s", n, id)
		}
		delete(r.clients, id)
	}
}

// present returns the client's queue if it polled within the presence TTL.
func (r *Registry) present(clientID string) (chan api.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok || r.now().Sub(c.lastSeenAt) > r.config.PresenceTTL {
		return nil, false
	}
	return c.queue, true
}

// send enqueues cmd for clientID, honoring the circuit breaker and the send timeout.
func (r *Registry) send(ctx context.Context, kind, clientID string, cmd api.Command) error {
	if err := r.breaker.Allow(clientID); err != nil {
		r.metrics.DeliveryOutcome(kind, metrics.DeliveryCircuitOpen)
		return fmt.Errorf("%w: %s: %v", store.ErrClientUnreachable, clientID, err)
	}

	queue, ok := r.present(clientID)
	if !ok {
		r.breaker.RecordFailure(clientID)
		r.metrics.DeliveryOutcome(kind, metrics.DeliveryUnreachable)
		return fmt.Errorf("%w: %s is not connected", store.ErrClientUnreachable, clientID)
	}

	cmd.Trace = make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(cmd.Trace))

	timer := time.NewTimer(r.config.SendTimeout)
	defer timer.Stop()

	select {
	case queue <- cmd:
		r.breaker.RecordSuccess(clientID)
		r.metrics.DeliveryOutcome(kind, metrics.DeliveryDelivered)
		return nil
	case <-timer.C:
		r.breaker.RecordFailure(clientID)
		r.metrics.DeliveryOutcome(kind, metrics.DeliveryUnreachable)
		log.Printf("mailbox: queue of %s full after %s", clientID, r.config.SendTimeout)
		return fmt.Errorf("%w: %s mailbox full", store.ErrClientUnreachable, clientID)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", store.ErrClientUnreachable, ctx.Err())
	}
}

func (r *Registry) DeliverExecution(ctx context.Context, cmd transport.ExecutionCommand) error {
	return r.send(ctx, metrics.DeliveryKindExecution, cmd.ClientID, api.Command{
		Kind: api.CommandExecute,
		Execute: &api.ExecuteCommand{
			ExecutionID:    cmd.ExecutionID.String(),
			ScriptID:       cmd.ScriptID,
			ScriptName:     cmd.ScriptName,
			ScriptType:     cmd.ScriptType,
			Content:        cmd.Content,
			ContentHash:    cmd.ContentHash,
			TimeoutSeconds: cmd.TimeoutSeconds,
		},
	})
}

func (r *Registry) DeliverUpdate(ctx context.Context, cmd transport.UpdateCommand) error {
	return r.send(ctx, metrics.DeliveryKindUpdate, cmd.ClientID, api.Command{
		Kind: api.CommandUpdate,
		Update: &api.UpdateCommand{
			JobID:         cmd.JobID.String(),
			TargetVersion: cmd.TargetVersion,
		},
	})
}

func (r *Registry) Abort(ctx context.Context, cmd transport.AbortCommand) error {
	return r.send(ctx, metrics.DeliveryKindAbort, cmd.ClientID, api.Command{
		Kind:  api.CommandAbort,
		Abort: &api.AbortCommand{ExecutionID: cmd.ExecutionID.String()},
	})
}

// Connected lists clients that polled within the presence TTL, ordered by id.
func (r *Registry) Connected() []transport.ClientInfo {
	r.mu.Lock()
	now := r.now()
	r.pruneLocked(now)
	var out []transport.ClientInfo
	for _, c := range r.clients {
		if now.Sub(c.lastSeenAt) > r.config.PresenceTTL {
			continue
		}
		out = append(out, transport.ClientInfo{
			ClientID:    c.id,
			Version:     c.version,
			ConnectedAt: c.connectedAt,
			LastSeenAt:  c.lastSeenAt,
		})
	}
	r.mu.Unlock()

	for i := range out {
		out[i].Circuit = string(r.breaker.State(out[i].ClientID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}
