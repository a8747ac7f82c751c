// Package fakeclock is a ports.Clock whose time only moves when a test says so.
package fakeclock

import (
	"slices"
	"sync"
	"time"

	"github.com/acolita/ashell-monkey/internal/ports"
)

type timer struct {
	at time.Time
	ch chan time.Time
}

// Clock is a manual clock. Timers from After fire when the clock reaches them.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []timer
	auto   bool
	slept  []time.Duration
}

// New returns a clock stopped at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

// NewAutoAdvance returns a clock that moves forward by whatever is passed to
// Sleep, so polling loops run to completion without real waits.
func NewAutoAdvance(start time.Time) *Clock {
	return &Clock{now: start, auto: true}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep records d and returns at once.
func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	if c.auto {
		c.moveLocked(c.now.Add(d))
	}
	c.mu.Unlock()
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, timer{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.moveLocked(c.now.Add(d))
	c.mu.Unlock()
}

// Set jumps the clock to t, firing any timers at or before it.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.moveLocked(t)
	c.mu.Unlock()
}

func (c *Clock) moveLocked(t time.Time) {
	c.now = t
	c.timers = slices.DeleteFunc(c.timers, func(tm timer) bool {
		if tm.at.After(t) {
			return false
		}
		tm.ch <- t
		return true
	})
}

// Waiters returns how many After timers have not fired yet.
func (c *Clock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Slept returns every duration passed to Sleep, oldest first.
func (c *Clock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.slept)
}

var _ ports.Clock = (*Clock)(nil)
