// Package report summarises a test run for the operator and for tooling.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Exit codes returned by the CLI.
const (
	ExitPassed  = 0
	ExitFailed  = 1
	ExitAborted = 2
)

// ScriptResult is the outcome of one test script.
type ScriptResult struct {
	Script           string        `json:"script"`
	Passed           int           `json:"passed"`
	Total            int           `json:"total"`
	OK               bool          `json:"ok"`
	Duration         time.Duration `json:"duration_ns"`
	FailedAssertions []string      `json:"failed_assertions,omitempty"`
}

// Report is the outcome of a whole run.
type Report struct {
	Port     string         `json:"port"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Results  []ScriptResult `json:"results"`
	Failures []string       `json:"failures"`
	Aborted  string         `json:"aborted,omitempty"`
}

// Passed reports whether every script passed and the run was not aborted.
func (r *Report) Passed() bool {
	return len(r.Failures) == 0 && r.Aborted == ""
}

// ExitCode maps the report onto the CLI exit status.
func (r *Report) ExitCode() int {
	switch {
	case r.Aborted != "":
		return ExitAborted
	case len(r.Failures) > 0:
		return ExitFailed
	default:
		return ExitPassed
	}
}

var (
	passStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// TextOptions controls WriteText.
type TextOptions struct {
	// Color enables terminal styling.
	Color bool
	// Verbose adds one row per script before the summary.
	Verbose bool
}

// WriteText prints the failure enumeration, or a single success line.
func WriteText(w io.Writer, r *Report, opts TextOptions) error {
	style := func(s lipgloss.Style, text string) string {
		if !opts.Color {
			return text
		}
		return s.Render(text)
	}

	if opts.Verbose {
		for _, res := range r.Results {
			label := style(passStyle, "PASS")
			if !res.OK {
				label = style(failStyle, "FAIL")
			}
			if _, err := fmt.Fprintf(w, "%s %s %s\n", label, res.Script,
				style(dimStyle, fmt.Sprintf("(%d of %d, %s)", res.Passed, res.Total, res.Duration.Round(time.Millisecond)))); err != nil {
				return err
			}
			for _, a := range res.FailedAssertions {
				if _, err := fmt.Fprintf(w, "    - %s\n", a); err != nil {
					return err
				}
			}
		}
	}

	if len(r.Failures) > 0 {
		if _, err := fmt.Fprintln(w, style(failStyle, "FAILURES:")); err != nil {
			return err
		}
		for _, f := range r.Failures {
			if _, err := fmt.Fprintln(w, f); err != nil {
				return err
			}
		}
	}

	if r.Aborted != "" {
		_, err := fmt.Fprintln(w, style(failStyle, "RUN ABORTED: "+r.Aborted))
		return err
	}

	if len(r.Failures) == 0 {
		_, err := fmt.Fprintln(w, style(passStyle, "ALL TESTS PASSED"))
		return err
	}
	return nil
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
