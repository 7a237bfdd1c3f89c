// Package circuitbreaker stops calling a failing dependency for a while so
// that callers fall back immediately instead of waiting on timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State uint8

const (
	StateClosed   State = iota // calls go through
	StateOpen                  // calls are rejected until the cooldown ends
	StateHalfOpen              // a few probe calls decide the next state
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

var (
	ErrOpen       = errors.New("circuit breaker is open")
	ErrProbeLimit = errors.New("circuit breaker is probing")
)

// IsRejected reports whether err came from the breaker rather than the call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrProbeLimit)
}

// Settings tunes a Breaker. Zero fields take the values noted.
type Settings struct {
	Name string

	TripAfter    int           // consecutive failures that open the circuit (5)
	RecoverAfter int           // consecutive probe successes that close it (2)
	Cooldown     time.Duration // time spent open before probing (30s)
	Probes       int           // concurrent calls allowed while half-open (1)

	// OnStateChange runs under the breaker's lock.
	OnStateChange func(name string, from, to State)

	// Counts decides which errors are failures. nil counts every error.
	Counts func(error) bool
}

func (s *Settings) fill() {
	if s.TripAfter <= 0 {
		s.TripAfter = 5
	}
	if s.RecoverAfter <= 0 {
		s.RecoverAfter = 2
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
}

// Stats are running totals plus the current streak.
type Stats struct {
	Calls    int
	Failures int
	Rejected int
	Streak   int // positive: successes in a row, negative: failures in a row
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	set Settings
	now func() time.Time

	mu       sync.Mutex
	state    State
	stats    Stats
	openedAt time.Time
	probing  int
}

func New(s Settings) *Breaker {
	s.fill()
	return &Breaker{set: s, now: time.Now}
}

// WithClock swaps the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

func (b *Breaker) Name() string { return b.set.Name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Do runs fn unless the circuit rejects it, and records the outcome.
// fn's error is returned unchanged.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.set.Cooldown {
			b.stats.Rejected++
			return ErrOpen
		}
		b.move(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.probing >= b.set.Probes {
			b.stats.Rejected++
			return ErrProbeLimit
		}
		b.probing++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Calls++
	if b.state == StateHalfOpen {
		b.probing = max(b.probing-1, 0)
	}

	if err == nil || (b.set.Counts != nil && !b.set.Counts(err)) {
		b.stats.Streak = max(b.stats.Streak, 0) + 1
		if b.state == StateHalfOpen && b.stats.Streak >= b.set.RecoverAfter {
			b.move(StateClosed)
		}
		return
	}

	b.stats.Failures++
	b.stats.Streak = min(b.stats.Streak, 0) - 1
	if b.state == StateHalfOpen || -b.stats.Streak >= b.set.TripAfter {
		b.openedAt = b.now()
		b.move(StateOpen)
	}
}

func (b *Breaker) move(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.stats.Streak = 0
	b.probing = 0
	if b.set.OnStateChange != nil {
		b.set.OnStateChange(b.set.Name, from, to)
	}
}

// CacheBreaker guards the Redis level cache: the cache is optional, so it
// opens after three failures and probes again after 15 seconds.
func CacheBreaker(onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:          "redis-level-cache",
		TripAfter:     3,
		RecoverAfter:  1,
		Cooldown:      15 * time.Second,
		OnStateChange: onStateChange,
	})
}
