// Package circuitbreaker tracks consecutive delivery failures per remote client.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state of one client.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type entry struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker opens a client's circuit after threshold consecutive failures and
// lets a single probe through once cooldown has elapsed.
type Breaker struct {
	mu        sync.Mutex
	clients   map[string]*entry
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		clients:   make(map[string]*entry),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Allow returns ErrCircuitOpen while clientID's circuit is open or a
// half-open probe is already in flight.
func (b *Breaker) Allow(clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.clients[clientID]
	if !ok {
		return nil
	}

	switch e.state {
	case StateOpen:
		if b.now().Sub(e.openedAt) >= b.cooldown {
			e.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) RecordSuccess(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Closed clients carry no state.
	delete(b.clients, clientID)
}

func (b *Breaker) RecordFailure(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.clients[clientID]
	if !ok {
		e = &entry{state: StateClosed}
		b.clients[clientID] = e
	}

	e.failures++
	if e.state == StateHalfOpen || e.failures >= b.threshold {
		e.state = StateOpen
		e.openedAt = b.now()
	}
}

// State reports the current state of clientID without changing it.
func (b *Breaker) State(clientID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.clients[clientID]
	if !ok {
		return StateClosed
	}
	return e.state
}
