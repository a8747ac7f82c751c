// Package ports holds the interfaces between the harness and the outside
// world: time, files, network links and the operator.
package ports

import "time"

// Clock is the time source for polling backoff, state deadlines and debouncing.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}
