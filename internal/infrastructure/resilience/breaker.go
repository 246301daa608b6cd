package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// MaxProbes is the number of trial calls allowed while half-open
	MaxProbes uint32
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration
	// Trip decides from the counts whether a failure opens the breaker
	Trip func(counts Counts) bool
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
	// Clock overrides time.Now, for tests
	Clock func() time.Time
}

// Counts holds the statistics of the current state
type Counts struct {
	Calls                uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Breaker guards calls to a remote peer that may not be reachable yet
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
}

// New creates a circuit breaker, filling unset settings with defaults
func New(name string, settings Settings) *Breaker {
	if settings.MaxProbes == 0 {
		settings.MaxProbes = 1
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = time.Second
	}
	if settings.Trip == nil {
		settings.Trip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	if settings.Clock == nil {
		settings.Clock = time.Now
	}

	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// Counts returns a copy of the counts of the current state
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs call if the breaker admits it and records the outcome
func (b *Breaker) Do(call func() error) error {
	state, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if e := recover(); e != nil {
			b.record(state, false)
			panic(e)
		}
	}()

	err = call()
	b.record(state, err == nil)
	return err
}

func (b *Breaker) admit() (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.current()
	switch {
	case state == StateOpen:
		return state, ErrCircuitOpen
	case state == StateHalfOpen && b.counts.Calls >= b.settings.MaxProbes:
		return state, ErrTooManyRequests
	}
	b.counts.Calls++
	return state, nil
}

func (b *Breaker) record(admitted State, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The state moved on while the call was in flight.
	if b.current() != admitted {
		return
	}

	if success {
		b.counts.Successes++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if admitted == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxProbes {
			b.transition(StateClosed)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	if admitted == StateHalfOpen || b.settings.Trip(b.counts) {
		b.transition(StateOpen)
	}
}

// current must be called with mu held.
func (b *Breaker) current() State {
	if b.state == StateOpen && b.settings.Clock().Sub(b.openedAt) >= b.settings.Cooldown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.counts = Counts{}
	if to == StateOpen {
		b.openedAt = b.settings.Clock()
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
