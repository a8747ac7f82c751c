// Package recording writes device console transcripts as asciicast v2 files,
// one per run, so a run can be replayed with asciinema. Each script start is
// a marker, letting the player jump straight to it.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acolita/ashell-monkey/internal/ports"
)

// asciicast v2 event codes.
const (
	eventOutput = "o"
	eventInput  = "i"
	eventMarker = "m"
)

// Terminal geometry written to the header; it matches the pty size of exec consoles.
const (
	castWidth  = 120
	castHeight = 40
)

// Header is the first line of an asciicast v2 file.
// See https://docs.asciinema.org/manual/asciicast/v2/
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Recorder appends console traffic to a transcript file.
type Recorder struct {
	mu    sync.Mutex
	out   ports.FileHandle
	enc   *json.Encoder
	path  string
	start time.Time
	clock ports.Clock
	err   error // first write failure; later events are dropped
	done  bool
}

// NewRecorder creates dir if needed and starts a transcript named after the
// port and the current time. An existing file is never overwritten.
func NewRecorder(dir, port string, fs ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	now := clock.Now()
	path := filepath.Join(dir, fileSafe(port)+"_"+now.Format("20060102_150405")+".cast")
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	r := &Recorder{out: f, enc: json.NewEncoder(f), path: path, start: now, clock: clock}
	r.enc.SetEscapeHTML(false)

	err = r.enc.Encode(Header{
		Version:   2,
		Width:     castWidth,
		Height:    castHeight,
		Timestamp: now.Unix(),
		Title:     "ashell " + port,
		Env:       map[string]string{"TERM": "dumb"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return r, nil
}

// fileSafe turns a port such as /dev/ttyACM0 or tcp://host:2000 into a file
// name fragment.
func fileSafe(port string) string {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '/', ':', '@', ' ', '\\':
			return '_'
		}
		return r
	}, port)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return "console"
	}
	return s
}

// RecordOutput records bytes received from the device.
func (r *Recorder) RecordOutput(data string) error { return r.emit(eventOutput, data) }

// RecordInput records bytes written to the device.
func (r *Recorder) RecordInput(data string) error { return r.emit(eventInput, data) }

// Mark records a marker, used at the start of each script.
func (r *Recorder) Mark(label string) error { return r.emit(eventMarker, label) }

func (r *Recorder) emit(code, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done || r.err != nil {
		return r.err
	}
	at := r.clock.Now().Sub(r.start).Seconds()
	if err := r.enc.Encode([]any{at, code, data}); err != nil {
		r.err = fmt.Errorf("write event: %w", err)
	}
	return r.err
}

// Close finishes the transcript. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return nil
	}
	r.done = true
	return r.out.Close()
}

// Path returns the transcript file path.
func (r *Recorder) Path() string {
	return r.path
}
