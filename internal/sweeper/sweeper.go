// Package sweeper times out executions whose client went silent.
//
// An execution is stalled when it is non-terminal and has seen no activity
// (transition or output) for longer than its own timeout, or the default
// deadline when it has none. Stalled executions are moved to TIMED_OUT
// through the coordinator, so hooks run and the client is told to abort.
package sweeper

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"execplane/internal/metrics"
	"execplane/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store lists stalled executions.
type Store interface {
	ListStalledExecutions(ctx context.Context, now time.Time, defaultDeadline time.Duration, limit int) ([]store.Execution, error)
}

// TimeOuter applies the TIMED_OUT transition unless the execution was
// active after idleSince.
type TimeOuter interface {
	TimeOut(ctx context.Context, id uuid.UUID, idleSince, now time.Time) (*store.Execution, error)
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often the sweeper runs. Default: 30 seconds.
	Interval time.Duration

	// Deadline is the inactivity limit for executions without their own timeout.
	// Default: 30 minutes.
	Deadline time.Duration

	// BatchSize is the maximum number of executions timed out per cycle.
	// Default: 100.
	BatchSize int

	// Parallelism bounds concurrent transitions within a cycle. Default: 8.
	Parallelism int
}

func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Deadline:    30 * time.Minute,
		BatchSize:   100,
		Parallelism: 8,
	}
}

type Sweeper struct {
	config  Config
	store   Store
	timeout TimeOuter
	metrics metrics.Sink
	clock   func() time.Time
}

func New(config Config, s Store, t TimeOuter, m metrics.Sink) *Sweeper {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Deadline <= 0 {
		config.Deadline = def.Deadline
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Parallelism <= 0 {
		config.Parallelism = def.Parallelism
	}
	if m == nil {
		m = metrics.NewNoopSink()
	}
	return &Sweeper{config: config, store: s, timeout: t, metrics: m, clock: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Run sweeps immediately, then on every tick, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Printf("sweeper: started (interval=%s, deadline=%s, batch=%d)",
		s.config.Interval, s.config.Deadline, s.config.BatchSize)

	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper: stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep and returns how many executions were timed out.
func (s *Sweeper) RunCycle(ctx context.Context) int {
	start := time.Now()
	now := s.clock().UTC()

	stalled, err := s.store.ListStalledExecutions(ctx, now, s.config.Deadline, s.config.BatchSize)
	if err != nil {
		log.Printf("sweeper: failed to list stalled executions: %v", err)
		s.metrics.SweepCompleted(time.Since(start), 0, err)
		return 0
	}
	if len(stalled) == 0 {
		s.metrics.SweepCompleted(time.Since(start), 0, nil)
		return 0
	}

	var timedOut atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)

	for _, e := range stalled {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			idle := now.Sub(e.LastActivityAt)
			_, err := s.timeout.TimeOut(gctx, e.ID, e.LastActivityAt, now)
			switch {
			case err == nil:
				timedOut.Add(1)
				log.Printf("sweeper: timed out execution=%s client=%s (idle=%s)", e.ID, e.ClientID, idle.Round(time.Second))
			case errors.Is(err, store.ErrInvalidTransition):
				// Finished or became active between the scan and the transition.
			default:
				log.Printf("sweeper: failed to time out execution=%s: %v", e.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(timedOut.Load())
	s.metrics.SweepCompleted(time.Since(start), n, nil)
	log.Printf("sweeper: cycle complete, stalled=%d, timed_out=%d", len(stalled), n)
	return n
}
