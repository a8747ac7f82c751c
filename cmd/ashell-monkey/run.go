package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/acolita/ashell-monkey/internal/config"
	"github.com/acolita/ashell-monkey/internal/harness"
	"github.com/acolita/ashell-monkey/internal/recording"
	"github.com/acolita/ashell-monkey/internal/report"
	"github.com/acolita/ashell-monkey/internal/scripts"
	"github.com/acolita/ashell-monkey/internal/transport"
)

// runFlags are the per-run overrides shared by run and watch.
type runFlags struct {
	print         bool
	echoMode      string
	reportPath    string
	recordDir     string
	helper        string
	verbose       bool
	noColor       bool
	resultTimeout time.Duration
}

func (f *runFlags) register(flags *pflag.FlagSet) {
	flags.BoolVarP(&f.print, "print", "p", false, "echo device output while running")
	flags.StringVar(&f.echoMode, "echo-mode", "", "echo style: buffer (whole buffer per read) or stream (new bytes only)")
	flags.StringVar(&f.reportPath, "report", "", "write a JSON report to this file")
	flags.StringVar(&f.recordDir, "record", "", "record an asciicast transcript into this directory")
	flags.StringVar(&f.helper, "helper", "", "assertion helper to load first (default modules/Assert.js)")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "list every script with its counts")
	flags.BoolVar(&f.noColor, "no-color", false, "disable colored report output")
	flags.DurationVar(&f.resultTimeout, "result-timeout", 0, "max wait for a script's summary line (0 waits forever)")
}

// apply folds the flags that were set into cfg.
func (f *runFlags) apply(cfg *config.Config, flags *pflag.FlagSet) error {
	if f.echoMode != "" {
		cfg.Shell.EchoMode = f.echoMode
	}
	if f.reportPath != "" {
		cfg.Report.Path = f.reportPath
	}
	if f.recordDir != "" {
		cfg.Recording.Enabled = true
		cfg.Recording.Path = f.recordDir
	}
	if f.helper != "" {
		cfg.Shell.HelperPath = f.helper
	}
	if f.verbose {
		cfg.Report.Verbose = true
	}
	if f.noColor {
		cfg.Report.Color = "never"
	}
	if flags.Changed("result-timeout") {
		cfg.Timeouts.Result = f.resultTimeout
	}
	return cfg.Validate()
}

func newRunCommand(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run [flags] [port] <script|glob>...",
		Short: "Run test scripts once and report failures",
		Long: `Run loads the assertion helper, then loads and runs each script in order.

The port is a serial device (/dev/ttyACM0, COM3), tcp://host:port,
ssh://user@host[:port], exec:<command>, or a device name from the config.
Use "-" to pick among the detected serial ports. The port may be left out
when transport.port is configured.`,
		Example: `  ashell-monkey run /dev/ttyACM0 tests/gpio.js tests/i2c.js
  ashell-monkey run --print tcp://10.0.0.7:4001 'tests/**/*.js'
  ashell-monkey run - tests/*.js`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.apply(a.cfg, cmd.Flags()); err != nil {
				return err
			}
			port, patterns := splitArgs(args)
			rep, err := a.runOnce(cmd.Context(), port, patterns, f.print)
			if err != nil {
				return err
			}
			return exitFor(rep)
		},
	}
	f.register(cmd.Flags())
	return cmd
}

// splitArgs separates the optional leading port from the scripts. A first
// argument that looks like a script means the port was left out.
func splitArgs(args []string) (port string, patterns []string) {
	if len(args) == 0 {
		return "", nil
	}
	first := args[0]
	if strings.HasSuffix(first, ".js") || scripts.IsPattern(first) {
		return "", args
	}
	return first, args[1:]
}

func exitFor(rep *report.Report) error {
	if code := rep.ExitCode(); code != report.ExitPassed {
		return &exitError{code: code}
	}
	return nil
}

// runOnce performs one complete run and prints its report. A returned error
// means the run never started.
func (a *app) runOnce(ctx context.Context, portArg string, patterns []string, echo bool) (*report.Report, error) {
	port, err := a.resolvePort(portArg)
	if err != nil {
		return nil, err
	}
	ep, err := transport.Parse(port)
	if err != nil {
		return nil, err
	}

	paths, err := scripts.Resolve(patterns, a.fs)
	if err != nil {
		return nil, err
	}
	if _, err := a.fs.Stat(a.cfg.Shell.HelperPath); err != nil {
		return nil, fmt.Errorf("assertion helper: %w", err)
	}

	opts, err := a.transportOptions(ep)
	if err != nil {
		return nil, err
	}

	a.logger.Info("opening device",
		slog.String("port", port),
		slog.String("kind", string(ep.Kind)),
		slog.Int("scripts", len(paths)),
	)
	tr, err := a.open(ep, opts, transport.Deps{FS: a.fs})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	defer tr.Close()

	hopts := a.harnessOptions(port, echo)
	if a.cfg.Recording.Enabled {
		rec, err := recording.NewRecorder(a.cfg.Recording.Path, port, a.fs, a.clock)
		if err != nil {
			return nil, err
		}
		defer rec.Close()
		a.logger.Info("recording transcript", slog.String("path", rec.Path()))
		hopts.Transcript = rec
	}

	rep, runErr := harness.New(tr, paths, hopts).Run(ctx)
	if runErr != nil {
		a.logger.Debug("run ended early", slog.String("error", runErr.Error()))
	}

	if err := a.writeReport(rep); err != nil {
		return rep, err
	}
	if runErr != nil {
		printHints(a.stderr, runErr)
	}
	return rep, nil
}

func (a *app) harnessOptions(port string, echo bool) harness.Options {
	c := a.cfg
	o := harness.Options{
		ReadyPrompt:     c.Shell.Prompt,
		HelperPath:      c.Shell.HelperPath,
		HelperName:      c.Shell.HelperName,
		TestName:        c.Shell.TestName,
		ChunkSize:       c.Transport.ChunkSize,
		PollInterval:    c.Poll.Interval,
		MaxPollInterval: c.Poll.MaxInterval,
		Timeouts: harness.Timeouts{
			Setup:  c.Timeouts.Setup,
			Ready:  c.Timeouts.Ready,
			Echo:   c.Timeouts.Echo,
			Result: c.Timeouts.Result,
		},
		Port:   port,
		Clock:  a.clock,
		FS:     a.fs,
		Logger: a.logger,
	}
	if echo {
		o.Echo = a.stdout
		if c.Shell.EchoMode == "stream" {
			o.EchoMode = harness.EchoStream
		}
	}
	return o
}

func (a *app) writeReport(rep *report.Report) error {
	opts := report.TextOptions{Color: a.colorEnabled(), Verbose: a.cfg.Report.Verbose}
	if err := report.WriteText(a.stdout, rep, opts); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if path := a.cfg.Report.Path; path != "" {
		var buf bytes.Buffer
		if err := report.WriteJSON(&buf, rep); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if err := a.fs.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("write report file: %w", err)
		}
		a.logger.Info("report written", slog.String("path", path))
	}
	return nil
}
