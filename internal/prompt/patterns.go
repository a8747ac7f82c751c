// Package prompt recognises the markers an ashell console prints: the ready
// prompt, command echoes and the assertion helper's summary line.
package prompt

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// DefaultReadyPrompt is the idle prompt printed by ashell.
const DefaultReadyPrompt = "acm>"

// Marker is a named pattern searched for anywhere in console output.
type Marker struct {
	Name  string
	Regex *regexp.Regexp
}

// Literal returns a marker matching text verbatim.
func Literal(name, text string) Marker {
	return Marker{
		Name:  name,
		Regex: regexp.MustCompile(regexp.QuoteMeta(text)),
	}
}

// ReadyMarker matches the shell's idle prompt.
func ReadyMarker(prompt string) Marker {
	if prompt == "" {
		prompt = DefaultReadyPrompt
	}
	return Literal("ready prompt", prompt)
}

// EchoMarker matches the shell's echo of a submitted command line.
func EchoMarker(command string) Marker {
	return Literal("echo of "+strings.TrimRight(command, "\r\n"), strings.TrimRight(command, "\r\n"))
}

// Find returns the byte span of the first match in text.
func (m Marker) Find(text string) (start, end int, ok bool) {
	if m.Regex == nil {
		return 0, 0, false
	}
	loc := m.Regex.FindStringIndex(text)
	if loc == nil {
		return 0, 0, false
	}
	return loc[0], loc[1], true
}

// In reports whether the marker occurs anywhere in text.
func (m Marker) In(text string) bool {
	_, _, ok := m.Find(text)
	return ok
}

func (m Marker) String() string {
	return m.Name
}

// Normalize strips terminal escape sequences from console output. The device
// colours its prompt and PASS/FAIL labels.
func Normalize(s string) string {
	return ansi.Strip(s)
}
