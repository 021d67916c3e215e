// Package repcount implements the repetition state machine. A repetition is
// one DOWN to UP transition; UNKNOWN observations hold the last known state.
package repcount

import (
	"errors"
	"sync/atomic"

	"backend-pushupcounter/internal/pose"
)

// ErrBusy is returned when a counter is already owned by a running session.
var ErrBusy = errors.New("counter already in use by another session")

// State is the counter's last known-good posture.
type State int

const (
	StateInit State = iota
	StateDown
	StateUp
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "DOWN"
	case StateUp:
		return "UP"
	default:
		return "INIT"
	}
}

// Step is the transition function. It returns the next state and whether a
// repetition completed.
func Step(s State, p pose.Posture) (State, bool) {
	switch p {
	case pose.Up:
		return StateUp, s == StateDown
	case pose.Down:
		return StateDown, false
	default:
		return s, false
	}
}

// Snapshot is a copy of the counter state at one point in the sequence.
type Snapshot struct {
	State      State        `json:"state"`
	Current    pose.Posture `json:"current"`
	Previous   pose.Posture `json:"previous"`
	Count      int          `json:"count"`
	UnknownRun int          `json:"unknown_run"`
}

// Counter owns the state of a single session. It is not safe for concurrent
// use; callers hold it through Acquire/Release for the length of a run.
type Counter struct {
	state      State
	current    pose.Posture
	previous   pose.Posture
	count      int
	unknownRun int
	gapReset   int

	busy atomic.Bool
}

type Option func(*Counter)

// WithGapReset drops back to StateInit after n consecutive UNKNOWN
// observations. n <= 0 keeps the last known state forever.
func WithGapReset(n int) Option {
	return func(c *Counter) {
		if n > 0 {
			c.gapReset = n
		}
	}
}

func New(opts ...Option) *Counter {
	c := &Counter{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe folds one posture into the counter and returns the running count.
func (c *Counter) Observe(p pose.Posture) (int, bool) {
	c.previous = c.current
	c.current = p

	if p == pose.Unknown {
		c.unknownRun++
		if c.gapReset > 0 && c.unknownRun >= c.gapReset {
			c.state = StateInit
		}
		return c.count, false
	}
	c.unknownRun = 0

	next, inc := Step(c.state, p)
	c.state = next
	if inc {
		c.count++
	}
	return c.count, inc
}

func (c *Counter) Count() int {
	return c.count
}

func (c *Counter) State() State {
	return c.state
}

func (c *Counter) Snapshot() Snapshot {
	return Snapshot{
		State:      c.state,
		Current:    c.current,
		Previous:   c.previous,
		Count:      c.count,
		UnknownRun: c.unknownRun,
	}
}

// Acquire marks the counter as owned by one pipeline run.
func (c *Counter) Acquire() error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (c *Counter) Release() {
	c.busy.Store(false)
}

// CountTransitions runs a fresh counter over postures and returns the final
// count.
func CountTransitions(postures []pose.Posture, opts ...Option) int {
	c := New(opts...)
	for _, p := range postures {
		c.Observe(p)
	}
	return c.Count()
}
