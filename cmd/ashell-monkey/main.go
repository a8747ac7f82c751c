// ashell-monkey loads and runs JavaScript test scripts on a device running
// the ashell interactive shell, and reports which ones failed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/acolita/ashell-monkey/internal/recovery"
	"github.com/acolita/ashell-monkey/internal/report"
)

// Version information - set at build time.
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, newApp(), os.Args[1:])
	stop()
	os.Exit(code)
}

// exitError carries a specific process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// execute runs the command line and maps the outcome onto an exit status:
// 0 all scripts passed, 1 some failed, 2 the run could not complete.
func execute(ctx context.Context, a *app, args []string) int {
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return report.ExitPassed
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			printError(a.stderr, exit.err)
		}
		return exit.code
	}

	printError(a.stderr, err)
	return report.ExitAborted
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
	printHints(w, err)
}

// printHints lists known ways out of err, if any.
func printHints(w io.Writer, err error) {
	for _, s := range recovery.NewAnalyzer().Analyze(err) {
		fmt.Fprintf(w, "hint: %s. %s\n", s.Problem, s.Explanation)
		for _, c := range s.Commands {
			fmt.Fprintf(w, "    $ %s\n", c)
		}
	}
}
