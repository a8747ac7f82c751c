package prompt

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	summaryPattern   = regexp.MustCompile(`TOTAL: ([0-9]+) of ([0-9]+) passed`)
	assertionFailure = regexp.MustCompile(`(?m)^[ \t]*FAIL - (.*?)[ \t\r]*$`)
)

// SummaryMarker matches the line the assertion helper prints when a test
// script finishes.
var SummaryMarker = Marker{Name: "result summary", Regex: summaryPattern}

// Summary is the (passed, total) pair parsed from a summary line.
type Summary struct {
	Passed int
	Total  int
}

// AllPassed reports whether every assertion passed. Counts must match
// exactly; more passes than assertions is treated as a failure.
func (s Summary) AllPassed() bool {
	return s.Passed == s.Total
}

func (s Summary) String() string {
	return "TOTAL: " + strconv.Itoa(s.Passed) + " of " + strconv.Itoa(s.Total) + " passed"
}

// Extract finds the first well-formed summary line in text. Counts that do
// not fit in an int are skipped, so only a complete marker is ever acted on.
func Extract(text string) (Summary, bool) {
	sum, _, ok := Locate(text)
	return sum, ok
}

// Locate is Extract that also returns the offset just past the matched
// summary, so the caller can keep whatever followed it.
func Locate(text string) (Summary, int, bool) {
	for _, m := range summaryPattern.FindAllStringSubmatchIndex(text, -1) {
		passed, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		total, err := strconv.Atoi(text[m[4]:m[5]])
		if err != nil {
			continue
		}
		return Summary{Passed: passed, Total: total}, m[1], true
	}
	return Summary{}, 0, false
}

// FailedAssertions returns the descriptions of "FAIL - <description>" lines
// in order of appearance.
func FailedAssertions(text string) []string {
	var out []string
	for _, m := range assertionFailure.FindAllStringSubmatch(Normalize(text), -1) {
		if desc := strings.TrimSpace(m[1]); desc != "" {
			out = append(out, desc)
		}
	}
	return out
}
