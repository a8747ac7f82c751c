package harness

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/acolita/ashell-monkey/internal/testing/fakes/fakeclock"
	"github.com/acolita/ashell-monkey/internal/testing/fakes/fakefs"
	"github.com/acolita/ashell-monkey/internal/testing/fakes/faketransport"
	"github.com/google/go-cmp/cmp"
)

const (
	helperSource = "function Assert() {}\n"
	acmPrompt    = "\x1b[33macm> \x1b[39m"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	tr    *faketransport.Transport
	fs    *fakefs.FS
	clock *fakeclock.Clock
	opts  Options
}

func newFixture() *fixture {
	fs := fakefs.New()
	fs.AddFile("/modules/Assert.js", []byte(helperSource), 0644)
	fs.AddFile("/tests/a.js", []byte("a();\n"), 0644)
	fs.AddFile("/tests/b.js", []byte("b();\n"), 0644)

	f := &fixture{
		tr:    faketransport.New(),
		fs:    fs,
		clock: fakeclock.NewAutoAdvance(epoch),
	}
	f.opts = Options{
		HelperPath: "/modules/Assert.js",
		FS:         fs,
		Clock:      f.clock,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeouts:   Timeouts{Setup: time.Minute, Ready: time.Minute, Echo: time.Minute, Result: time.Minute},
	}
	return f
}

func (f *fixture) session(scripts ...string) *Session {
	return New(f.tr, scripts, f.opts)
}

// device makes the fake transport behave like ashell running scripts whose
// summaries are given in order. Like the real shell, the prompt follows the
// summary in the same read.
func (f *fixture) device(summaries ...string) {
	f.tr.On("help\r", "Available commands...\r\n", acmPrompt)
	f.tr.On(string(EndOfInput), acmPrompt)
	for _, sum := range summaries {
		f.tr.On("run test.js\r", "run test.js\r\n", sum+"\r\n"+acmPrompt)
	}
}

func stepUntil(t *testing.T, s *Session, want State) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if s.State() == want {
			return
		}
		if _, err := s.Step(); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	t.Fatalf("session never reached %v, stuck in %v", want, s.State())
}

func TestSession_EndToEnd(t *testing.T) {
	f := newFixture()
	f.device("PASS - ok\r\nTOTAL: 2 of 2 passed", "FAIL - length\r\nTOTAL: 1 of 2 passed")

	rep, err := f.session("/tests/a.js", "/tests/b.js").Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if diff := cmp.Diff([]string{"/tests/b.js"}, rep.Failures); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if len(rep.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(rep.Results))
	}
	if !rep.Results[0].OK || rep.Results[1].OK {
		t.Errorf("results = %+v", rep.Results)
	}
	if diff := cmp.Diff([]string{"length"}, rep.Results[1].FailedAssertions); diff != "" {
		t.Errorf("failed assertions mismatch (-want +got):\n%s", diff)
	}
	if rep.ExitCode() != 1 {
		t.Errorf("ExitCode() = %d, want 1", rep.ExitCode())
	}
}

func TestSession_WireProtocol(t *testing.T) {
	f := newFixture()
	f.device("TOTAL: 1 of 1 passed")

	if _, err := f.session("/tests/a.js").Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := "help\r" +
		"load Assert.js\r" + helperSource + "\r\x1a" +
		"load test.js\r" + "a();\n" + "\r\x1a" +
		"run test.js\r"
	if got := f.tr.Written(); got != want {
		t.Errorf("written =\n%q\nwant\n%q", got, want)
	}
}

func TestSession_CyclesPerScript(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		f := newFixture()
		var scripts, sums []string
		for i := 0; i < n; i++ {
			scripts = append(scripts, "/tests/a.js")
			sums = append(sums, "TOTAL: 1 of 1 passed")
		}
		f.device(sums...)

		rep, err := f.session(scripts...).Run(context.Background())
		if err != nil {
			t.Fatalf("n=%d: Run() error = %v", n, err)
		}
		if len(rep.Results) != n {
			t.Errorf("n=%d: %d results", n, len(rep.Results))
		}
		if got := strings.Count(f.tr.Written(), "run test.js\r"); got != n {
			t.Errorf("n=%d: %d run commands sent", n, got)
		}
		if got := strings.Count(f.tr.Written(), "load Assert.js\r"); n > 0 && got != 1 {
			t.Errorf("n=%d: helper loaded %d times", n, got)
		}
	}
}

func TestSession_NoScriptsOnlyBootstraps(t *testing.T) {
	f := newFixture()

	rep, err := f.session().Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.tr.Written() != "help\r" {
		t.Errorf("written = %q, want only the bootstrap", f.tr.Written())
	}
	if !rep.Passed() {
		t.Error("empty run should pass")
	}
}

func TestSession_SetupTransitionsOnce(t *testing.T) {
	f := newFixture()
	f.tr.AddChunks("acm> ", "acm> acm> ")
	s := f.session("/tests/a.js")
	s.Start()

	s.Step()
	if s.State() != StateBegin {
		t.Fatalf("State() = %v after first prompt, want BEGIN", s.State())
	}
	if s.Buffer() != "" {
		t.Errorf("buffer not cleared on transition: %q", s.Buffer())
	}

	s.Step()
	if s.State() != StateWaitingExecute {
		t.Fatalf("State() = %v after second prompt, want WAITING_EXECUTE", s.State())
	}
	if got := strings.Count(f.tr.Written(), "load Assert.js\r"); got != 1 {
		t.Errorf("helper load sent %d times, want 1", got)
	}
}

func TestSession_StaleMarkersAreDiscarded(t *testing.T) {
	f := newFixture()
	s := f.session("/tests/a.js")
	s.Start()

	f.tr.AddChunk("acm> ")
	stepUntil(t, s, StateBegin)

	// A prompt and a summary in the same read: only BEGIN's marker counts.
	f.tr.AddChunk("acm> TOTAL: 1 of 1 passed")
	s.Step()
	if s.State() != StateWaitingExecute {
		t.Fatalf("State() = %v, want WAITING_EXECUTE", s.State())
	}

	for i := 0; i < 5; i++ {
		s.Step()
	}
	if s.State() != StateWaitingExecute {
		t.Errorf("stale summary moved the session to %v", s.State())
	}
	if s.Done() || len(s.Report().Results) != 0 {
		t.Error("stale summary must not complete the script")
	}
}

func TestSession_SetupIgnoresSummaryInSameRead(t *testing.T) {
	f := newFixture()
	s := f.session("/tests/a.js")
	s.Start()

	f.tr.AddChunk("acm>TOTAL: 1 of 1 passed")
	s.Step()

	if s.State() != StateBegin {
		t.Fatalf("State() = %v, want BEGIN", s.State())
	}
	if s.Buffer() != "" {
		t.Errorf("Buffer() = %q, want empty", s.Buffer())
	}
}

func TestSession_EchoAndSummaryInOneRead(t *testing.T) {
	f := newFixture()
	s := f.session("/tests/a.js")
	s.Start()
	f.tr.AddChunks("acm> ", "acm> ")
	stepUntil(t, s, StateWaitingExecute)

	f.tr.AddChunk("run test.js\r\nTOTAL: 3 of 3 passed\r\n")
	s.Step()
	if s.State() != StateWaitingResult {
		t.Fatalf("State() = %v, want WAITING_RESULT", s.State())
	}
	if !strings.Contains(s.Buffer(), "TOTAL: 3 of 3 passed") {
		t.Fatalf("output after the echo was dropped: %q", s.Buffer())
	}

	s.Step()
	if !s.Done() {
		t.Error("summary carried past the echo should finish the script")
	}
}

func TestSession_SummaryAndPromptInOneRead(t *testing.T) {
	f := newFixture()
	f.tr.On("help\r", acmPrompt)
	f.tr.On(string(EndOfInput), acmPrompt)
	f.tr.On("run test.js\r", "run test.js\r\n", "TOTAL: 1 of 1 passed\r\n"+acmPrompt)
	f.tr.On("run test.js\r", "run test.js\r\n", "TOTAL: 2 of 2 passed\r\n"+acmPrompt)
	f.tr.On("run test.js\r", "run test.js\r\nTOTAL: 0 of 1 passed\r\n"+acmPrompt)

	rep, err := f.session("/tests/a.js", "/tests/b.js", "/tests/a.js").Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rep.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(rep.Results))
	}
	if diff := cmp.Diff([]string{"/tests/a.js"}, rep.Failures); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if got := strings.Count(f.tr.Written(), "run test.js\r"); got != 3 {
		t.Errorf("%d run commands sent, want 3", got)
	}
}

func TestSession_CarriesOnlyTextAfterSummary(t *testing.T) {
	f := newFixture()
	s := f.session("/tests/a.js", "/tests/b.js")
	s.Start()
	f.tr.AddChunks("acm> ", "acm> ", "run test.js\r\n")
	stepUntil(t, s, StateWaitingResult)

	f.tr.AddChunk("TOTAL: 1 of 1 passed\r\nTOTAL:")
	s.Step()
	if s.State() != StateBegin {
		t.Fatalf("State() = %v, want BEGIN", s.State())
	}
	if s.Buffer() != "\r\nTOTAL:" {
		t.Errorf("Buffer() = %q, want only the text after the summary", s.Buffer())
	}

	// The leftover bytes complete a summary, but BEGIN waits for a prompt.
	f.tr.AddChunk(" 9 of 9 passed")
	for i := 0; i < 3; i++ {
		s.Step()
	}
	if s.State() != StateBegin || len(s.Report().Results) != 1 {
		t.Errorf("stale summary acted on: state %v, %d results", s.State(), len(s.Report().Results))
	}
}

func TestSession_StepWithoutStartAndNoScripts(t *testing.T) {
	f := newFixture()
	f.tr.AddChunks("acm> ", "acm> ")
	s := f.session()

	if !s.Done() {
		t.Fatal("session with no scripts should be done from the start")
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Step(); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	if f.tr.Written() != "" {
		t.Errorf("written = %q, want nothing", f.tr.Written())
	}
	if s.State() != StateSetup {
		t.Errorf("State() = %v, want SETUP", s.State())
	}
}

func TestSession_PollWithoutDataIsIdempotent(t *testing.T) {
	f := newFixture()
	s := f.session("/tests/a.js")
	s.Start()
	f.tr.AddChunk("booting...")
	s.Step()

	state, buf := s.State(), s.Buffer()
	for i := 0; i < 3; i++ {
		got, err := s.Poll()
		if err != nil || got {
			t.Fatalf("Poll() = %v, %v, want false, nil", got, err)
		}
		if moved, _ := s.Advance(); moved {
			t.Fatal("Advance() moved without new data")
		}
	}
	if s.State() != state || s.Buffer() != buf {
		t.Errorf("idle polling changed state %v->%v or buffer %q->%q", state, s.State(), buf, s.Buffer())
	}
}

func TestSession_Classification(t *testing.T) {
	tests := []struct {
		summary string
		wantOK  bool
	}{
		{"TOTAL: 5 of 5 passed", true},
		{"TOTAL: 3 of 5 passed", false},
		{"TOTAL: 0 of 0 passed", true},
		{"TOTAL: 6 of 5 passed", false},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			f := newFixture()
			f.device("noise " + tt.summary + " trailing")

			rep, err := f.session("/tests/a.js").Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if rep.Results[0].OK != tt.wantOK {
				t.Errorf("OK = %v, want %v", rep.Results[0].OK, tt.wantOK)
			}
			if (len(rep.Failures) == 0) != tt.wantOK {
				t.Errorf("Failures = %v", rep.Failures)
			}
		})
	}
}

func TestSession_TransportReadFault(t *testing.T) {
	f := newFixture()
	f.tr.AddChunk("acm> ")
	f.tr.FailPolls(io.EOF)

	rep, err := f.session("/tests/a.js").Run(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Run() error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("Run() error should wrap the cause, got %v", err)
	}
	if rep.Aborted == "" || rep.ExitCode() != 2 {
		t.Errorf("report = %+v, want aborted", rep)
	}
}

func TestSession_TransportWriteFault(t *testing.T) {
	f := newFixture()
	f.tr.FailWrites(errors.New("port closed"))

	_, err := f.session("/tests/a.js").Run(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "write" {
		t.Fatalf("Run() error = %v, want write TransportError", err)
	}
}

func TestSession_ProtocolTimeout(t *testing.T) {
	f := newFixture()
	f.opts.Timeouts.Setup = time.Second

	_, err := f.session("/tests/a.js").Run(context.Background())
	if !errors.Is(err, ErrProtocolTimeout) {
		t.Fatalf("Run() error = %v, want ErrProtocolTimeout", err)
	}

	var pe *ProtocolTimeoutError
	if !errors.As(err, &pe) {
		t.Fatalf("error %T is not a ProtocolTimeoutError", err)
	}
	if pe.State != StateSetup || pe.Marker != "ready prompt" {
		t.Errorf("timeout = %+v", pe)
	}
	if pe.Waited < time.Second {
		t.Errorf("Waited = %v, want >= 1s", pe.Waited)
	}
}

func TestSession_ResultTimeoutNamesScript(t *testing.T) {
	f := newFixture()
	f.opts.Timeouts.Result = 2 * time.Second
	f.tr.On("help\r", acmPrompt)
	f.tr.On(string(EndOfInput), acmPrompt)
	f.tr.On("run test.js\r", "run test.js\r\n", "still running...")

	_, err := f.session("/tests/a.js").Run(context.Background())
	var pe *ProtocolTimeoutError
	if !errors.As(err, &pe) {
		t.Fatalf("Run() error = %v, want ProtocolTimeoutError", err)
	}
	if pe.State != StateWaitingResult || pe.Script != "/tests/a.js" {
		t.Errorf("timeout = %+v", pe)
	}
	if !strings.Contains(err.Error(), "/tests/a.js") {
		t.Errorf("error message %q should name the script", err.Error())
	}
}

func TestSession_ZeroTimeoutWaits(t *testing.T) {
	f := newFixture()
	f.opts.Timeouts = Timeouts{}
	s := f.session("/tests/a.js")
	s.Start()

	f.clock.Advance(24 * time.Hour)
	if _, err := s.Step(); err != nil {
		t.Errorf("Step() error = %v, zero timeout should never expire", err)
	}
}

func TestSession_IdleBackoff(t *testing.T) {
	f := newFixture()
	f.opts.Timeouts.Setup = 100 * time.Millisecond
	f.opts.PollInterval = time.Millisecond
	f.opts.MaxPollInterval = 8 * time.Millisecond

	f.session("/tests/a.js").Run(context.Background())

	slept := f.clock.Slept()
	want := []time.Duration{1, 2, 4, 8, 8}
	for i := range want {
		want[i] *= time.Millisecond
	}
	if len(slept) < len(want) {
		t.Fatalf("slept %v", slept)
	}
	if diff := cmp.Diff(want, slept[:len(want)]); diff != "" {
		t.Errorf("backoff mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_ContextCancelled(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.session("/tests/a.js").Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if rep.Aborted == "" {
		t.Error("report should be marked aborted")
	}
}

func TestSession_MissingScript(t *testing.T) {
	f := newFixture()
	f.device("TOTAL: 1 of 1 passed")

	_, err := f.session("/tests/missing.js").Run(context.Background())
	if err == nil || errors.Is(err, ErrTransport) {
		t.Fatalf("Run() error = %v, want a file error", err)
	}
	if !strings.Contains(err.Error(), "/tests/missing.js") {
		t.Errorf("error %q should name the file", err)
	}
}

func TestSession_EchoModes(t *testing.T) {
	t.Run("buffer", func(t *testing.T) {
		f := newFixture()
		var echo bytes.Buffer
		f.opts.Echo = &echo
		f.tr.AddChunks("boot", "ing")
		s := f.session("/tests/a.js")
		s.Start()
		s.Step()
		s.Step()

		if echo.String() != "boot\nbooting\n" {
			t.Errorf("echo = %q", echo.String())
		}
	})

	t.Run("stream", func(t *testing.T) {
		f := newFixture()
		var echo bytes.Buffer
		f.opts.Echo = &echo
		f.opts.EchoMode = EchoStream
		f.tr.AddChunks("boot", "ing")
		s := f.session("/tests/a.js")
		s.Start()
		s.Step()
		s.Step()

		if echo.String() != "booting" {
			t.Errorf("echo = %q", echo.String())
		}
	})
}

type transcript struct {
	in, out strings.Builder
	marks   []string
}

func (r *transcript) RecordInput(data string) error  { r.in.WriteString(data); return nil }
func (r *transcript) RecordOutput(data string) error { r.out.WriteString(data); return nil }
func (r *transcript) Mark(label string) error        { r.marks = append(r.marks, label); return nil }

func TestSession_Transcript(t *testing.T) {
	f := newFixture()
	rec := &transcript{}
	f.opts.Transcript = rec
	f.device("TOTAL: 1 of 1 passed", "TOTAL: 1 of 1 passed")

	if _, err := f.session("/tests/a.js", "/tests/b.js").Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]string{"/tests/a.js", "/tests/b.js"}, rec.marks); diff != "" {
		t.Errorf("marks mismatch (-want +got):\n%s", diff)
	}
	if rec.in.String() != f.tr.Written() {
		t.Errorf("recorded input %q != written %q", rec.in.String(), f.tr.Written())
	}
	if !strings.Contains(rec.out.String(), "TOTAL: 1 of 1 passed") {
		t.Errorf("recorded output = %q", rec.out.String())
	}
}

type failingTranscript struct{ calls int }

func (r *failingTranscript) RecordInput(string) error  { r.calls++; return errors.New("disk full") }
func (r *failingTranscript) RecordOutput(string) error { r.calls++; return errors.New("disk full") }
func (r *failingTranscript) Mark(string) error         { r.calls++; return errors.New("disk full") }

type failingWriter struct{ calls int }

func (w *failingWriter) Write([]byte) (int, error) { w.calls++; return 0, io.ErrClosedPipe }

func TestSession_SinkFailuresWarnOnce(t *testing.T) {
	f := newFixture()
	var logs bytes.Buffer
	f.opts.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	rec := &failingTranscript{}
	echo := &failingWriter{}
	f.opts.Transcript = rec
	f.opts.Echo = echo
	f.device("TOTAL: 1 of 1 passed", "TOTAL: 1 of 1 passed")

	rep, err := f.session("/tests/a.js", "/tests/b.js").Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !rep.Passed() {
		t.Errorf("sink failures should not fail the run: %+v", rep)
	}
	if rec.calls != 1 || echo.calls != 1 {
		t.Errorf("transcript called %d times, echo %d times, want 1 each", rec.calls, echo.calls)
	}
	for _, msg := range []string{"transcript recording failed", "console echo failed"} {
		if got := strings.Count(logs.String(), msg); got != 1 {
			t.Errorf("%q logged %d times, want 1", msg, got)
		}
	}
	if !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("expected warnings, got:\n%s", logs.String())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateSetup:          "SETUP",
		StateBegin:          "BEGIN",
		StateWaitingExecute: "WAITING_EXECUTE",
		StateWaitingResult:  "WAITING_RESULT",
		State(42):           "State(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestSession_UnhandledState(t *testing.T) {
	f := newFixture()
	s := f.session("/tests/a.js")
	s.state = State(42)

	if _, err := s.Advance(); err == nil {
		t.Error("Advance() in an unknown state should fail")
	}
}
