// Package harness drives an ashell console through a list of test scripts.
//
// A Session owns the transport for the whole run and is driven by a single
// cooperative loop: poll the transport, append what arrived to the phase
// buffer, and let the current state look for its marker. Every transition
// that consumes a marker drops the buffer up to and including that marker,
// so output from an earlier phase can never satisfy a later one.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/acolita/ashell-monkey/internal/ports"
	"github.com/acolita/ashell-monkey/internal/prompt"
	"github.com/acolita/ashell-monkey/internal/report"
)

// Session runs test scripts against one device shell.
type Session struct {
	transport ports.Transport
	opts      Options
	log       *slog.Logger

	ready prompt.Marker
	echo  prompt.Marker

	state     State
	buf       []byte
	readBuf   []byte
	enteredAt time.Time

	current     string
	pending     []string
	scriptStart time.Time
	failures    []string
	results     []report.ScriptResult
	runStarted  time.Time
	started     bool
	done        bool

	recordFailed bool
	echoFailed   bool
}

// New creates a session that will run scripts, in order, over t.
func New(t ports.Transport, scripts []string, opts Options) *Session {
	opts = opts.withDefaults()

	s := &Session{
		transport: t,
		opts:      opts,
		log:       opts.Logger,
		ready:     prompt.ReadyMarker(opts.ReadyPrompt),
		echo:      prompt.EchoMarker(runCommand(opts.TestName)),
		state:     StateSetup,
		readBuf:   make([]byte, opts.ChunkSize),
	}
	if len(scripts) > 0 {
		s.current = scripts[0]
		s.pending = append([]string(nil), scripts[1:]...)
	} else {
		s.done = true
	}
	return s
}

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// Buffer returns the output accumulated in the current phase.
func (s *Session) Buffer() string { return string(s.buf) }

// Current returns the script in flight, or "" once the run is over.
func (s *Session) Current() string { return s.current }

// Done reports whether every script has been run.
func (s *Session) Done() bool { return s.done }

// Failures returns the scripts that did not pass, in run order.
func (s *Session) Failures() []string {
	return append([]string(nil), s.failures...)
}

// Start sends the bootstrap command that makes the shell print its prompt.
// It is called by Run and is a no-op after the first call.
func (s *Session) Start() error {
	if s.started {
		return nil
	}
	s.started = true
	s.runStarted = s.opts.Clock.Now()
	s.enteredAt = s.runStarted

	return s.write([]byte(helpCommand))
}

// Poll reads whatever the transport has and appends it to the phase buffer.
// It reports whether any bytes arrived. It never blocks.
func (s *Session) Poll() (bool, error) {
	n, err := s.transport.Poll(s.readBuf)
	if err != nil {
		return false, &TransportError{Op: "read", Err: err}
	}
	if n == 0 {
		return false, nil
	}

	chunk := s.readBuf[:n]
	s.buf = append(s.buf, chunk...)

	if s.recording() {
		s.recordFailure(s.opts.Transcript.RecordOutput(string(chunk)))
	}
	if s.opts.Echo != nil && !s.echoFailed {
		var err error
		if s.opts.EchoMode == EchoStream {
			_, err = s.opts.Echo.Write(chunk)
		} else {
			_, err = s.opts.Echo.Write(append(append([]byte(nil), s.buf...), '\n'))
		}
		if err != nil {
			s.echoFailed = true
			s.log.Warn("console echo failed, disabling it", slog.String("error", err.Error()))
		}
	}
	return true, nil
}

// Advance lets the current state act on the phase buffer. At most one
// transition happens per call; it reports whether one did.
func (s *Session) Advance() (bool, error) {
	if s.done {
		return false, nil
	}

	text := prompt.Normalize(string(s.buf))

	switch s.state {
	case StateSetup:
		if !s.ready.In(text) {
			return false, nil
		}
		s.log.Info("ashell is ready, loading assertion helper",
			slog.String("helper", s.opts.HelperPath),
		)
		if err := s.load(s.opts.HelperName, s.opts.HelperPath); err != nil {
			return false, err
		}
		s.enter(StateBegin, nil)

	case StateBegin:
		if !s.ready.In(text) {
			return false, nil
		}
		s.log.Info("running test script", slog.String("script", s.current))
		if m, ok := s.opts.Transcript.(Marker); ok && s.recording() {
			s.recordFailure(m.Mark(s.current))
		}
		if err := s.load(s.opts.TestName, s.current); err != nil {
			return false, err
		}
		if err := s.write([]byte(runCommand(s.opts.TestName))); err != nil {
			return false, err
		}
		s.scriptStart = s.opts.Clock.Now()
		s.enter(StateWaitingExecute, nil)

	case StateWaitingExecute:
		_, end, ok := s.echo.Find(text)
		if !ok {
			return false, nil
		}
		// Output after the echo already belongs to the script.
		s.enter(StateWaitingResult, []byte(text[end:]))

	case StateWaitingResult:
		summary, end, ok := prompt.Locate(text)
		if !ok {
			return false, nil
		}
		s.finish(summary, text)
		// ashell usually sends the next prompt in the same read as the summary.
		s.enter(StateBegin, []byte(text[end:]))

	default:
		return false, fmt.Errorf("unhandled session state %v", s.state)
	}

	return true, nil
}

// Step runs one iteration of the control loop: poll, advance, and enforce the
// state deadline. It reports whether anything happened.
func (s *Session) Step() (bool, error) {
	got, err := s.Poll()
	if err != nil {
		return false, err
	}
	moved, err := s.Advance()
	if err != nil {
		return false, err
	}
	if !moved && !s.done {
		if err := s.checkDeadline(); err != nil {
			return got, err
		}
	}
	return got || moved, nil
}

// Run drives the session until every script has run, the context is
// cancelled, or a fatal error occurs. The returned report covers whatever
// completed; on error its Aborted field is set.
func (s *Session) Run(ctx context.Context) (*report.Report, error) {
	if err := s.Start(); err != nil {
		return s.abort(err)
	}

	wait := s.opts.PollInterval
	for !s.done {
		if err := ctx.Err(); err != nil {
			return s.abort(err)
		}

		progressed, err := s.Step()
		if err != nil {
			return s.abort(err)
		}
		if progressed {
			wait = s.opts.PollInterval
			continue
		}

		s.opts.Clock.Sleep(wait)
		wait = min(wait*2, s.opts.MaxPollInterval)
	}

	rep := s.Report()
	s.log.Info("test run finished",
		slog.Int("scripts", len(rep.Results)),
		slog.Int("failures", len(rep.Failures)),
		slog.Duration("duration", rep.Finished.Sub(rep.Started)),
	)
	return rep, nil
}

// Report summarises the scripts completed so far.
func (s *Session) Report() *report.Report {
	return &report.Report{
		Port:     s.opts.Port,
		Started:  s.runStarted,
		Finished: s.opts.Clock.Now(),
		Results:  append([]report.ScriptResult(nil), s.results...),
		Failures: s.Failures(),
	}
}

func (s *Session) abort(err error) (*report.Report, error) {
	rep := s.Report()
	rep.Aborted = err.Error()
	s.log.Error("test run aborted",
		slog.String("state", s.state.String()),
		slog.String("script", s.current),
		slog.String("error", err.Error()),
	)
	return rep, err
}

// finish records the outcome of the script in flight and dequeues the next.
func (s *Session) finish(summary prompt.Summary, text string) {
	res := report.ScriptResult{
		Script:   s.current,
		Passed:   summary.Passed,
		Total:    summary.Total,
		OK:       summary.AllPassed(),
		Duration: s.opts.Clock.Now().Sub(s.scriptStart),
	}
	if !res.OK {
		res.FailedAssertions = prompt.FailedAssertions(text)
		s.failures = append(s.failures, s.current)
		s.log.Warn("test script failed",
			slog.String("script", s.current),
			slog.Int("passed", summary.Passed),
			slog.Int("total", summary.Total),
		)
	} else {
		s.log.Info("test script passed",
			slog.String("script", s.current),
			slog.Int("total", summary.Total),
		)
	}
	s.results = append(s.results, res)

	if len(s.pending) == 0 {
		s.current = ""
		s.done = true
		return
	}
	s.current = s.pending[0]
	s.pending = s.pending[1:]
}

// enter switches state and starts the new phase with the given buffer.
func (s *Session) enter(next State, carry []byte) {
	s.log.Debug("session state change",
		slog.String("from", s.state.String()),
		slog.String("to", next.String()),
	)
	s.state = next
	s.buf = carry
	s.enteredAt = s.opts.Clock.Now()
}

func (s *Session) checkDeadline() error {
	limit := s.opts.Timeouts.forState(s.state)
	if limit <= 0 {
		return nil
	}
	waited := s.opts.Clock.Now().Sub(s.enteredAt)
	if waited < limit {
		return nil
	}
	return &ProtocolTimeoutError{
		State:  s.state,
		Script: s.current,
		Marker: s.awaiting().String(),
		Waited: waited,
	}
}

func (s *Session) awaiting() prompt.Marker {
	switch s.state {
	case StateWaitingExecute:
		return s.echo
	case StateWaitingResult:
		return prompt.SummaryMarker
	default:
		return s.ready
	}
}

// load transfers the host file at path to the device as name.
func (s *Session) load(name, path string) error {
	content, err := s.opts.FS.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for _, part := range loadFrame(name, content) {
		if err := s.write(part); err != nil {
			return err
		}
	}
	s.log.Debug("loaded file onto device",
		slog.String("path", path),
		slog.String("name", name),
		slog.Int("bytes", len(content)),
	)
	return nil
}

func (s *Session) write(b []byte) error {
	if _, err := s.transport.Write(b); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if s.recording() {
		s.recordFailure(s.opts.Transcript.RecordInput(string(b)))
	}
	return nil
}

func (s *Session) recording() bool {
	return s.opts.Transcript != nil && !s.recordFailed
}

// recordFailure turns the transcript off after its first error; the run
// itself carries on.
func (s *Session) recordFailure(err error) {
	if err == nil {
		return
	}
	s.recordFailed = true
	s.log.Warn("transcript recording failed, disabling it", slog.String("error", err.Error()))
}
