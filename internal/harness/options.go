package harness

import (
	"io"
	"log/slog"
	"time"

	"github.com/acolita/ashell-monkey/internal/adapters/realclock"
	"github.com/acolita/ashell-monkey/internal/adapters/realfs"
	"github.com/acolita/ashell-monkey/internal/ports"
	"github.com/acolita/ashell-monkey/internal/prompt"
)

// EchoMode selects what is echoed when new console output arrives.
type EchoMode int

const (
	// EchoBuffer prints the whole phase buffer on every arrival.
	EchoBuffer EchoMode = iota
	// EchoStream prints only the newly arrived bytes.
	EchoStream
)

// Timeouts bounds how long each state waits for its marker. Zero waits forever.
type Timeouts struct {
	Setup  time.Duration // first prompt after help
	Ready  time.Duration // prompt before each script
	Echo   time.Duration // echo of the run command
	Result time.Duration // summary line
}

func (t Timeouts) forState(s State) time.Duration {
	switch s {
	case StateSetup:
		return t.Setup
	case StateBegin:
		return t.Ready
	case StateWaitingExecute:
		return t.Echo
	case StateWaitingResult:
		return t.Result
	default:
		return 0
	}
}

// Transcript receives everything sent to and received from the device.
type Transcript interface {
	RecordInput(data string) error
	RecordOutput(data string) error
}

// Marker is implemented by transcripts that can label the start of a script.
type Marker interface {
	Mark(label string) error
}

// Options configures a Session.
type Options struct {
	ReadyPrompt string // idle prompt, default "acm>"
	HelperPath  string // assertion helper on the host
	HelperName  string // helper file name on the device
	TestName    string // file name each script is loaded as on the device
	ChunkSize   int    // max bytes per poll

	Echo     io.Writer // diagnostic echo of console output; nil disables
	EchoMode EchoMode

	PollInterval    time.Duration // idle backoff start
	MaxPollInterval time.Duration // idle backoff cap
	Timeouts        Timeouts

	Port       string // only used for the report
	Clock      ports.Clock
	FS         ports.FileSystem
	Logger     *slog.Logger
	Transcript Transcript
}

// DefaultOptions returns options matching a stock ashell build.
func DefaultOptions() Options {
	return Options{
		ReadyPrompt:     prompt.DefaultReadyPrompt,
		HelperPath:      "modules/Assert.js",
		HelperName:      "Assert.js",
		TestName:        "test.js",
		ChunkSize:       4096,
		PollInterval:    time.Millisecond,
		MaxPollInterval: 50 * time.Millisecond,
		Timeouts: Timeouts{
			Setup:  30 * time.Second,
			Ready:  30 * time.Second,
			Echo:   10 * time.Second,
			Result: 5 * time.Minute,
		},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadyPrompt == "" {
		o.ReadyPrompt = d.ReadyPrompt
	}
	if o.HelperPath == "" {
		o.HelperPath = d.HelperPath
	}
	if o.HelperName == "" {
		o.HelperName = d.HelperName
	}
	if o.TestName == "" {
		o.TestName = d.TestName
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.MaxPollInterval <= 0 {
		o.MaxPollInterval = d.MaxPollInterval
	}
	if o.MaxPollInterval < o.PollInterval {
		o.MaxPollInterval = o.PollInterval
	}
	if o.Clock == nil {
		o.Clock = realclock.New()
	}
	if o.FS == nil {
		o.FS = realfs.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
