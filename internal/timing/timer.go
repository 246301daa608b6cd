package timing

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrTimerRunning is returned when starting a timer that is already running.
	ErrTimerRunning = errors.New("timer already running")
	// ErrTimerStopped is returned when stopping a timer that is not running.
	ErrTimerStopped = errors.New("timer not running")
	// ErrTimersRunning is returned by Gather while any timer is running.
	ErrTimersRunning = errors.New("timers still running")
)

// Timer accumulates elapsed wall-clock time over one or more laps.
type Timer struct {
	clock   func() time.Time
	started time.Time
	elapsed time.Duration
	laps    int
	running bool
}

// NewTimer returns a stopped timer.
func NewTimer() *Timer {
	return &Timer{clock: time.Now}
}

// Start begins a lap.
func (t *Timer) Start() error {
	if t.running {
		return ErrTimerRunning
	}
	t.started = t.clock()
	t.running = true
	return nil
}

// Stop ends the current lap.
func (t *Timer) Stop() error {
	if !t.running {
		return ErrTimerStopped
	}
	t.elapsed += t.clock().Sub(t.started)
	t.laps++
	t.running = false
	return nil
}

// Running reports whether a lap is in progress.
func (t *Timer) Running() bool { return t.running }

// Laps returns the number of completed laps.
func (t *Timer) Laps() int { return t.laps }

// Elapsed returns accumulated time, including the current lap if running.
func (t *Timer) Elapsed() time.Duration {
	if t.running {
		return t.elapsed + t.clock().Sub(t.started)
	}
	return t.elapsed
}

// Average returns the mean lap duration.
func (t *Timer) Average() time.Duration {
	if t.laps == 0 {
		return 0
	}
	return t.elapsed / time.Duration(t.laps)
}

// Reset clears accumulated time and laps. A running timer is stopped.
func (t *Timer) Reset() {
	t.elapsed = 0
	t.laps = 0
	t.running = false
}

func (t *Timer) String() string {
	if t.laps > 1 {
		return fmt.Sprintf("%.3f s (average of %d laps)", t.Elapsed().Seconds(), t.laps)
	}
	return fmt.Sprintf("%.3f s", t.Elapsed().Seconds())
}

// Stat is the exported state of one timer.
type Stat struct {
	Name    string  `json:"name"`
	Seconds float64 `json:"seconds"`
	Calls   int     `json:"calls"`
	Running bool    `json:"running"`
}

// GlobalTimers is a registry of named timers, safe for concurrent use.
type GlobalTimers struct {
	mu     sync.Mutex
	timers map[string]*Timer
	clock  func() time.Time
}

// NewGlobalTimers creates an empty registry.
func NewGlobalTimers() *GlobalTimers {
	return NewGlobalTimersWithClock(time.Now)
}

// NewGlobalTimersWithClock creates a registry driven by clock.
func NewGlobalTimersWithClock(clock func() time.Time) *GlobalTimers {
	return &GlobalTimers{
		timers: make(map[string]*Timer),
		clock:  clock,
	}
}

func (g *GlobalTimers) get(name string) *Timer {
	t, ok := g.timers[name]
	if !ok {
		t = &Timer{clock: g.clock}
		g.timers[name] = t
	}
	return t
}

// Start starts the named timer, creating it on first use.
func (g *GlobalTimers) Start(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.get(name).Start(); err != nil {
		return fmt.Errorf("start %q: %w", name, err)
	}
	return nil
}

// Stop stops the named timer.
func (g *GlobalTimers) Stop(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.timers[name]
	if !ok {
		return fmt.Errorf("stop %q: %w", name, ErrTimerStopped)
	}
	if err := t.Stop(); err != nil {
		return fmt.Errorf("stop %q: %w", name, err)
	}
	return nil
}

// StopAll stops every running timer.
func (g *GlobalTimers) StopAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.timers {
		if t.running {
			_ = t.Stop()
		}
	}
}

// Scope starts the named timer and returns the function that stops it.
//
//	defer gt.Scope("noise")()
func (g *GlobalTimers) Scope(name string) func() {
	if err := g.Start(name); err != nil {
		return func() {}
	}
	return func() { _ = g.Stop(name) }
}

// IsRunning reports whether the named timer is running.
func (g *GlobalTimers) IsRunning(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.timers[name]
	return ok && t.running
}

// Running returns the sorted names of every running timer.
func (g *GlobalTimers) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var names []string
	for name, t := range g.timers {
		if t.running {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Elapsed returns the accumulated time of the named timer.
func (g *GlobalTimers) Elapsed(name string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.timers[name]; ok {
		return t.Elapsed()
	}
	return 0
}

// Snapshot returns the state of every timer sorted by name.
func (g *GlobalTimers) Snapshot() []Stat {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Stat, 0, len(g.timers))
	for name, t := range g.timers {
		out = append(out, Stat{
			Name:    name,
			Seconds: t.Elapsed().Seconds(),
			Calls:   t.laps,
			Running: t.running,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
