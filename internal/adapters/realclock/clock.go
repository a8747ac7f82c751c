// Package realclock is the wall-clock ports.Clock.
package realclock

import (
	"time"

	"github.com/acolita/ashell-monkey/internal/ports"
)

// Clock delegates to package time.
type Clock struct{}

func New() *Clock { return &Clock{} }

func (Clock) Now() time.Time                         { return time.Now() }
func (Clock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (Clock) After(d time.Duration) <-chan time.Time { return time.After(d) }

var _ ports.Clock = (*Clock)(nil)
