package harness

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransport reports that the device link failed. The run cannot continue.
	ErrTransport = errors.New("transport fault")

	// ErrProtocolTimeout reports that an expected marker never appeared.
	ErrProtocolTimeout = errors.New("protocol timeout")
)

// TransportError wraps a read or write failure on the device link.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) true for every TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolTimeoutError reports which marker the session gave up waiting for.
type ProtocolTimeoutError struct {
	State  State
	Script string
	Marker string
	Waited time.Duration
}

func (e *ProtocolTimeoutError) Error() string {
	msg := fmt.Sprintf("protocol timeout in %s: no %s after %s", e.State, e.Marker, e.Waited)
	if e.Script != "" {
		msg += " (script " + e.Script + ")"
	}
	return msg
}

// Is makes errors.Is(err, ErrProtocolTimeout) true for every ProtocolTimeoutError.
func (e *ProtocolTimeoutError) Is(target error) bool { return target == ErrProtocolTimeout }
