package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zalando/go-keyring"

	"github.com/acolita/ashell-monkey/internal/config"
	"github.com/acolita/ashell-monkey/internal/credentials"
	"github.com/acolita/ashell-monkey/internal/ports"
	"github.com/acolita/ashell-monkey/internal/report"
	"github.com/acolita/ashell-monkey/internal/testing/fakes/fakeclock"
	"github.com/acolita/ashell-monkey/internal/testing/fakes/fakefs"
	"github.com/acolita/ashell-monkey/internal/testing/fakes/faketransport"
	"github.com/acolita/ashell-monkey/internal/transport"
)

const (
	acmPrompt  = "acm> "
	configPath = "/etc/ashell-monkey/config.yaml"
)

type fakePicker struct {
	choice     string
	candidates []string
}

func (p *fakePicker) PickPort(candidates []string) (string, error) {
	p.candidates = candidates
	return p.choice, nil
}

type fakePrompter struct {
	secret string
	err    error
	titles []string
}

func (p *fakePrompter) PromptSecret(title string) (string, error) {
	p.titles = append(p.titles, title)
	return p.secret, p.err
}

type testApp struct {
	*app
	fs       *fakefs.FS
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
	device   *faketransport.Transport
	opened   []transport.Endpoint
	picker   *fakePicker
	prompter *fakePrompter
	serial   []string
}

// newTestApp builds an app whose device answers with the given summaries, one
// per script, in order.
func newTestApp(t *testing.T, summaries ...string) *testApp {
	t.Helper()

	fs := fakefs.New()
	fs.AddFile("modules/Assert.js", []byte("function Assert() {}\n"), 0644)
	fs.AddFile("tests/a.js", []byte("a();\n"), 0644)
	fs.AddFile("tests/b.js", []byte("b();\n"), 0644)
	fs.SetEnv("USER", "tester")

	dev := faketransport.New()
	dev.On("help\r", "Available commands...\r\n", acmPrompt)
	dev.On("\x1a", acmPrompt)
	for _, sum := range summaries {
		dev.On("run test.js\r", "run test.js\r\n", sum+"\r\n"+acmPrompt)
	}

	ta := &testApp{
		fs:       fs,
		stdout:   &bytes.Buffer{},
		stderr:   &bytes.Buffer{},
		device:   dev,
		picker:   &fakePicker{},
		prompter: &fakePrompter{},
	}
	ta.app = &app{
		stdin:  strings.NewReader(""),
		stdout: ta.stdout,
		stderr: ta.stderr,
		fs:     fs,
		clock:  fakeclock.NewAutoAdvance(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		open: func(ep transport.Endpoint, _ transport.Options, _ transport.Deps) (ports.Transport, error) {
			ta.opened = append(ta.opened, ep)
			return dev, nil
		},
		listPorts:   func() ([]string, error) { return ta.serial, nil },
		picker:      ta.picker,
		prompter:    ta.prompter,
		credentials: credentials.NewStore,
		isTerminal:  func(any) bool { return false },
	}
	return ta
}

func (ta *testApp) run(args ...string) int {
	return execute(context.Background(), ta.app, append([]string{"--config", configPath}, args...))
}

func TestRun_AllPassed(t *testing.T) {
	ta := newTestApp(t, "TOTAL: 2 of 2 passed", "TOTAL: 3 of 3 passed")

	if code := ta.run("run", "/dev/ttyACM0", "tests/a.js", "tests/b.js"); code != report.ExitPassed {
		t.Fatalf("exit code = %d, want 0 (stderr %q)", code, ta.stderr.String())
	}
	if !strings.Contains(ta.stdout.String(), "ALL TESTS PASSED") {
		t.Errorf("stdout = %q", ta.stdout.String())
	}
	if len(ta.opened) != 1 || ta.opened[0].Kind != transport.KindSerial || ta.opened[0].Address != "/dev/ttyACM0" {
		t.Errorf("opened = %+v", ta.opened)
	}
	if !ta.device.IsClosed() {
		t.Error("transport not closed after run")
	}
	if strings.Contains(ta.stdout.String(), "Available commands") {
		t.Error("device output echoed without --print")
	}
}

func TestRun_FailureExitCode(t *testing.T) {
	ta := newTestApp(t, "TOTAL: 2 of 2 passed", "FAIL - length\r\nTOTAL: 1 of 2 passed")

	if code := ta.run("run", "tcp://bench:4001", "tests/a.js", "tests/b.js"); code != report.ExitFailed {
		t.Fatalf("exit code = %d, want 1", code)
	}
	out := ta.stdout.String()
	if !strings.Contains(out, "FAILURES:") || !strings.Contains(out, "tests/b.js") {
		t.Errorf("stdout = %q", out)
	}
	if strings.Contains(out, "ALL TESTS PASSED") {
		t.Errorf("stdout claims success: %q", out)
	}
}

func TestRun_AbortedExitCode(t *testing.T) {
	ta := newTestApp(t)
	ta.device.FailPolls(errors.New("device unplugged"))

	if code := ta.run("run", "/dev/ttyACM0", "tests/a.js"); code != report.ExitAborted {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(ta.stdout.String(), "RUN ABORTED") {
		t.Errorf("stdout = %q", ta.stdout.String())
	}
	if !strings.Contains(ta.stderr.String(), "hint: The device link dropped mid-run") {
		t.Errorf("stderr missing hint: %q", ta.stderr.String())
	}
}

func TestRun_ReportFile(t *testing.T) {
	ta := newTestApp(t, "FAIL - x\r\nTOTAL: 0 of 1 passed")

	if code := ta.run("run", "--report", "/out/report.json", "/dev/ttyACM0", "tests/a.js"); code != report.ExitFailed {
		t.Fatalf("exit code = %d, want 1", code)
	}

	data, err := ta.fs.ReadFile("/out/report.json")
	if err != nil {
		t.Fatalf("report file: %v", err)
	}
	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if diff := cmp.Diff([]string{"tests/a.js"}, rep.Failures); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if rep.Port != "/dev/ttyACM0" {
		t.Errorf("port = %q", rep.Port)
	}
}

func TestRun_PrintEchoesDevice(t *testing.T) {
	ta := newTestApp(t, "TOTAL: 1 of 1 passed")

	if code := ta.run("run", "-p", "/dev/ttyACM0", "tests/a.js"); code != report.ExitPassed {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(ta.stdout.String(), "TOTAL: 1 of 1 passed") {
		t.Errorf("stdout = %q", ta.stdout.String())
	}
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing script", []string{"run", "/dev/ttyACM0", "tests/nope.js"}, "tests/nope.js"},
		{"missing helper", []string{"run", "--helper", "lib/none.js", "/dev/ttyACM0", "tests/a.js"}, "assertion helper"},
		{"no port off terminal", []string{"run", "tests/a.js"}, "no device port"},
		{"bad port", []string{"run", "ftp://x", "tests/a.js"}, "invalid port"},
		{"bad echo mode", []string{"run", "--echo-mode", "loud", "/dev/ttyACM0", "tests/a.js"}, "echo_mode"},
		{"no scripts", []string{"run"}, "requires at least 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t)
			if code := ta.run(tt.args...); code != report.ExitAborted {
				t.Fatalf("exit code = %d, want 2", code)
			}
			if !strings.Contains(ta.stderr.String(), tt.wantErr) {
				t.Errorf("stderr = %q, want %q", ta.stderr.String(), tt.wantErr)
			}
			if len(ta.opened) != 0 {
				t.Errorf("device opened despite setup error: %+v", ta.opened)
			}
		})
	}
}

func TestRun_NamedDeviceAndDefaultPort(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport.Port = "bench"
	cfg.Devices = []config.DeviceConfig{{Name: "bench", Port: "ssh://pi@10.0.0.7:2222"}}

	ta := newTestApp(t, "TOTAL: 1 of 1 passed")
	if err := config.Save(cfg, configPath, ta.fs); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	keyring.MockInit()
	ta.fs.SetEnv("ASHELL_MONKEY_SSH_PASSWORD", "raspberry")

	if code := ta.run("run", "tests/a.js"); code != report.ExitPassed {
		t.Fatalf("exit code = %d (stderr %q)", code, ta.stderr.String())
	}
	want := transport.Endpoint{Kind: transport.KindSSH, Address: "10.0.0.7:2222", User: "pi", Raw: "ssh://pi@10.0.0.7:2222"}
	if diff := cmp.Diff([]transport.Endpoint{want}, ta.opened); diff != "" {
		t.Errorf("opened mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_PickerOnTerminal(t *testing.T) {
	ta := newTestApp(t, "TOTAL: 1 of 1 passed")
	ta.isTerminal = func(any) bool { return true }
	ta.serial = []string{"/dev/ttyACM0", "/dev/ttyUSB0"}
	ta.picker.choice = "/dev/ttyUSB0"

	if code := ta.run("run", "-", "tests/a.js"); code != report.ExitPassed {
		t.Fatalf("exit code = %d (stderr %q)", code, ta.stderr.String())
	}
	if diff := cmp.Diff(ta.serial, ta.picker.candidates); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
	if len(ta.opened) != 1 || ta.opened[0].Address != "/dev/ttyUSB0" {
		t.Errorf("opened = %+v", ta.opened)
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		args     []string
		port     string
		patterns []string
	}{
		{[]string{"/dev/ttyACM0", "a.js"}, "/dev/ttyACM0", []string{"a.js"}},
		{[]string{"a.js", "b.js"}, "", []string{"a.js", "b.js"}},
		{[]string{"tests/*.js"}, "", []string{"tests/*.js"}},
		{[]string{"bench", "tests/**/*.js"}, "bench", []string{"tests/**/*.js"}},
		{[]string{"-", "a.js"}, "-", []string{"a.js"}},
		{nil, "", nil},
	}

	for _, tt := range tests {
		port, patterns := splitArgs(tt.args)
		if port != tt.port {
			t.Errorf("splitArgs(%q) port = %q, want %q", tt.args, port, tt.port)
		}
		if diff := cmp.Diff(tt.patterns, patterns); diff != "" {
			t.Errorf("splitArgs(%q) patterns mismatch (-want +got):\n%s", tt.args, diff)
		}
	}
}

func TestVersionAndHelp(t *testing.T) {
	ta := newTestApp(t)
	if code := ta.run("--version"); code != 0 {
		t.Fatalf("--version exit code = %d", code)
	}
	if !strings.Contains(ta.stdout.String(), "ashell-monkey version "+Version) {
		t.Errorf("version output = %q", ta.stdout.String())
	}

	ta = newTestApp(t)
	if code := ta.run("--help"); code != 0 {
		t.Fatalf("--help exit code = %d", code)
	}
	if !strings.Contains(ta.stdout.String(), "run") || !strings.Contains(ta.stdout.String(), "watch") {
		t.Errorf("help output = %q", ta.stdout.String())
	}

	ta = newTestApp(t)
	if code := ta.run("bogus"); code != report.ExitAborted {
		t.Errorf("unknown command exit code = %d, want 2", code)
	}
}

func TestPorts(t *testing.T) {
	ta := newTestApp(t)
	ta.serial = []string{"/dev/ttyACM0", "/dev/ttyACM1"}

	if code := ta.run("ports"); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got, want := ta.stdout.String(), "/dev/ttyACM0\n/dev/ttyACM1\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}

	ta = newTestApp(t)
	if code := ta.run("ports"); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(ta.stderr.String(), "no serial ports") {
		t.Errorf("stderr = %q", ta.stderr.String())
	}
}

func TestLoginLogout(t *testing.T) {
	keyring.MockInit()

	ta := newTestApp(t)
	ta.prompter.secret = "hunter2"
	if code := ta.run("login", "ssh://pi@10.0.0.7"); code != 0 {
		t.Fatalf("login exit code = %d (stderr %q)", code, ta.stderr.String())
	}
	if diff := cmp.Diff([]string{"Password for pi@10.0.0.7:22"}, ta.prompter.titles); diff != "" {
		t.Errorf("prompt titles mismatch (-want +got):\n%s", diff)
	}

	store := credentials.NewStore(ta.fs)
	got, err := store.ConsolePassword("10.0.0.7:22", "pi")
	if err != nil || got != "hunter2" {
		t.Fatalf("stored password = %q, %v", got, err)
	}

	if code := ta.run("logout", "ssh://pi@10.0.0.7"); code != 0 {
		t.Fatalf("logout exit code = %d (stderr %q)", code, ta.stderr.String())
	}
	if got, _ := store.ConsolePassword("10.0.0.7:22", "pi"); got != "" {
		t.Errorf("password still stored after logout: %q", got)
	}
}

func TestLogin_Errors(t *testing.T) {
	keyring.MockInit()

	ta := newTestApp(t)
	if code := ta.run("login", "/dev/ttyACM0"); code != report.ExitAborted {
		t.Errorf("login to serial port exit code = %d, want 2", code)
	}

	ta = newTestApp(t)
	ta.prompter.err = errors.New("user aborted")
	if code := ta.run("login", "ssh://pi@bench"); code != report.ExitAborted {
		t.Errorf("cancelled login exit code = %d, want 2", code)
	}
	if !strings.Contains(ta.stderr.String(), "user aborted") {
		t.Errorf("stderr = %q", ta.stderr.String())
	}
}

func TestConfigInitAndAddDevice(t *testing.T) {
	ta := newTestApp(t)

	if code := ta.run("config", "init"); code != 0 {
		t.Fatalf("init exit code = %d (stderr %q)", code, ta.stderr.String())
	}
	if code := ta.run("config", "init"); code != report.ExitAborted {
		t.Errorf("second init exit code = %d, want 2", code)
	}
	if !strings.Contains(ta.stderr.String(), "--force") {
		t.Errorf("stderr = %q", ta.stderr.String())
	}
	if code := ta.run("config", "init", "--force"); code != 0 {
		t.Errorf("forced init exit code = %d", code)
	}

	if code := ta.run("config", "add-device", "bench", "tcp://10.0.0.7:4001"); code != 0 {
		t.Fatalf("add-device exit code = %d (stderr %q)", code, ta.stderr.String())
	}
	if code := ta.run("config", "add-device", "bench", "/dev/ttyACM0"); code != report.ExitAborted {
		t.Errorf("duplicate add-device exit code = %d, want 2", code)
	}
	if code := ta.run("config", "add-device", "lab", "ftp://nope"); code != report.ExitAborted {
		t.Errorf("invalid port add-device exit code = %d, want 2", code)
	}

	cfg, err := config.Load(configPath, ta.fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []config.DeviceConfig{{Name: "bench", Port: "tcp://10.0.0.7:4001"}}
	if diff := cmp.Diff(want, cfg.Devices); diff != "" {
		t.Errorf("devices mismatch (-want +got):\n%s", diff)
	}
}
