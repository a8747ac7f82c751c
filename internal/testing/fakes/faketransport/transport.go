// Package faketransport provides a scripted device transport for testing.
package faketransport

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/acolita/ashell-monkey/internal/ports"
)

// reaction queues output once the host has written trigger.
type reaction struct {
	trigger string
	outputs []string
}

// Transport is a fake device transport. Queued chunks are returned one per
// Poll; reactions model a shell that answers what the host writes.
type Transport struct {
	mu        sync.Mutex
	chunks    [][]byte
	reactions []reaction
	scanFrom  int // written offset the head reaction searches from
	written   bytes.Buffer
	polls     int
	pollErr   error
	writeErr  error
	closed    bool
}

// New creates a new fake transport.
func New() *Transport {
	return &Transport{}
}

// AddChunk queues data to be returned by a later Poll.
func (t *Transport) AddChunk(data string) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, []byte(data))
	return t
}

// AddChunks queues several chunks, one per Poll.
func (t *Transport) AddChunks(chunks ...string) *Transport {
	for _, c := range chunks {
		t.AddChunk(c)
	}
	return t
}

// On queues outputs once trigger appears in the written data. Reactions fire
// strictly in registration order, each searching only what was written after
// the previous one fired.
func (t *Transport) On(trigger string, outputs ...string) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reactions = append(t.reactions, reaction{trigger: trigger, outputs: outputs})
	t.fireLocked()
	return t
}

// FailPolls makes every later Poll return err.
func (t *Transport) FailPolls(err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pollErr = err
	return t
}

// FailWrites makes every later Write return err.
func (t *Transport) FailWrites(err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
	return t
}

// Poll returns the next queued chunk, or (0, nil) when none is queued.
func (t *Transport) Poll(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.polls++
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.pollErr != nil {
		return 0, t.pollErr
	}
	if len(t.chunks) == 0 {
		return 0, nil
	}

	chunk := t.chunks[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		t.chunks[0] = chunk[n:]
	} else {
		t.chunks = t.chunks[1:]
	}
	return n, nil
}

// Write captures data and fires any reaction it completes.
func (t *Transport) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	n, _ := t.written.Write(b)
	t.fireLocked()
	return n, nil
}

func (t *Transport) fireLocked() {
	for len(t.reactions) > 0 {
		head := t.reactions[0]
		window := t.written.String()[t.scanFrom:]
		idx := strings.Index(window, head.trigger)
		if idx < 0 {
			return
		}
		t.scanFrom += idx + len(head.trigger)
		for _, out := range head.outputs {
			t.chunks = append(t.chunks, []byte(out))
		}
		t.reactions = t.reactions[1:]
	}
}

// Close closes the fake transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// --- Test inspection methods ---

// Written returns all data that was written to the transport.
func (t *Transport) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}

// Polls returns how many times Poll was called.
func (t *Transport) Polls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polls
}

// Pending returns the number of queued chunks not yet polled.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.chunks)
}

// IsClosed returns true if Close() was called.
func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

var _ ports.Transport = (*Transport)(nil)
