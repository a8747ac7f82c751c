// Package recovery turns device-link and protocol failures into hints the
// operator can act on.
package recovery

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/acolita/ashell-monkey/internal/harness"
)

// Suggestion is one way out of a failure.
type Suggestion struct {
	Problem     string
	Category    string // serial, network, ssh, protocol, transport
	Commands    []string
	Explanation string
	Confidence  float64
	Risky       bool // changes system state; review before running
}

// Analyzer matches errors against known failure shapes.
type Analyzer struct {
	rules []rule
}

type rule struct {
	name    string
	pattern *regexp.Regexp       // matched against err.Error() when set
	check   func(err error) bool // used when pattern is nil
	suggest func(err error, m []string) *Suggestion
}

// NewAnalyzer returns an analyzer with the built-in rules.
func NewAnalyzer() *Analyzer {
	return &Analyzer{rules: defaultRules()}
}

// Analyze returns suggestions for err, most confident first. A nil or
// unrecognised error yields none.
func (a *Analyzer) Analyze(err error) []*Suggestion {
	if err == nil {
		return nil
	}
	msg := err.Error()

	var out []*Suggestion
	for _, r := range a.rules {
		var m []string
		if r.pattern != nil {
			if m = r.pattern.FindStringSubmatch(msg); m == nil {
				continue
			}
		} else if !r.check(err) {
			continue
		}
		if s := r.suggest(err, m); s != nil {
			out = append(out, s)
		}
	}

	slices.SortStableFunc(out, func(a, b *Suggestion) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})
	return out
}

// sshAddr pulls host and port out of the "ssh host:port:" prefix the
// transport puts on its errors.
var sshAddr = regexp.MustCompile(`ssh (?:dial )?([^\s:]+):(\d+):`)

func sshHost(msg string) (host, port string) {
	if m := sshAddr.FindStringSubmatch(msg); m != nil {
		return m[1], m[2]
	}
	return "<host>", "22"
}

func protocolTimeout(err error, state harness.State) bool {
	var pe *harness.ProtocolTimeoutError
	return errors.As(err, &pe) && pe.State == state
}

func defaultRules() []rule {
	return []rule{
		{
			name:    "serial_permission",
			pattern: regexp.MustCompile(`(?i)(/dev/[^\s:]+):.*permission denied`),
			suggest: func(_ error, m []string) *Suggestion {
				return &Suggestion{
					Problem:     "No permission to open " + m[1],
					Category:    "serial",
					Commands:    []string{"ls -l " + m[1], "sudo usermod -aG dialout $USER"},
					Explanation: "Serial devices usually belong to the dialout group. Add yourself to it and log in again.",
					Confidence:  0.9,
					Risky:       true,
				}
			},
		},
		{
			name:    "serial_missing",
			pattern: regexp.MustCompile(`(?i)(/dev/[^\s:]+):.*(no such file|port not found)`),
			suggest: func(_ error, m []string) *Suggestion {
				return &Suggestion{
					Problem:     m[1] + " does not exist",
					Category:    "serial",
					Commands:    []string{"ashell-monkey ports", "dmesg | tail"},
					Explanation: "The board may have come back under another name after a reset.",
					Confidence:  0.85,
				}
			},
		},
		{
			name:    "serial_busy",
			pattern: regexp.MustCompile(`(?i)(/dev/[^\s:]+):.*busy`),
			suggest: func(_ error, m []string) *Suggestion {
				return &Suggestion{
					Problem:     m[1] + " is in use",
					Category:    "serial",
					Commands:    []string{"fuser -v " + m[1]},
					Explanation: "Another program (screen, minicom, an IDE monitor) holds the port. Close it first.",
					Confidence:  0.85,
				}
			},
		},
		{
			name:    "tcp_refused",
			pattern: regexp.MustCompile(`(?i)dial tcp ([^\s]+?):(\d+): .*connection refused`),
			suggest: func(_ error, m []string) *Suggestion {
				return &Suggestion{
					Problem:     "Connection refused by " + m[1] + ":" + m[2],
					Category:    "network",
					Commands:    []string{fmt.Sprintf("nc -vz %s %s", m[1], m[2])},
					Explanation: "Nothing is listening on that port. Check the console server is up and the port number is right.",
					Confidence:  0.7,
				}
			},
		},
		{
			name: "ssh_host_key",
			check: func(err error) bool {
				var ke *knownhosts.KeyError
				return errors.As(err, &ke)
			},
			suggest: func(err error, _ []string) *Suggestion {
				var ke *knownhosts.KeyError
				errors.As(err, &ke)
				host, port := sshHost(err.Error())
				if len(ke.Want) == 0 {
					return &Suggestion{
						Problem:     "Console server host key is not known",
						Category:    "ssh",
						Commands:    []string{fmt.Sprintf("ssh-keyscan -p %s %s >> ~/.ssh/known_hosts", port, host)},
						Explanation: "Add the server's key to known_hosts after checking its fingerprint.",
						Confidence:  0.9,
					}
				}
				return &Suggestion{
					Problem:     "Console server host key has changed",
					Category:    "ssh",
					Commands:    []string{"ssh-keygen -R " + host},
					Explanation: "The server presented a different key. Only remove the old one if you trust the host.",
					Confidence:  0.8,
					Risky:       true,
				}
			},
		},
		{
			name:    "ssh_known_hosts_missing",
			pattern: regexp.MustCompile(`(?i)known_hosts \S+: .*no such file`),
			suggest: func(err error, _ []string) *Suggestion {
				host, port := sshHost(err.Error())
				return &Suggestion{
					Problem:     "No known_hosts file",
					Category:    "ssh",
					Commands:    []string{fmt.Sprintf("ssh-keyscan -p %s %s >> ~/.ssh/known_hosts", port, host)},
					Explanation: "Host keys are checked against known_hosts. Create it with the server's key.",
					Confidence:  0.85,
				}
			},
		},
		{
			name:    "ssh_auth",
			pattern: regexp.MustCompile(`(?i)unable to authenticate`),
			suggest: func(err error, _ []string) *Suggestion {
				host, port := sshHost(err.Error())
				return &Suggestion{
					Problem:     "Console server rejected every credential",
					Category:    "ssh",
					Commands:    []string{fmt.Sprintf("ashell-monkey login ssh://$USER@%s:%s", host, port), "ssh-add -l"},
					Explanation: "Store the console password in the keyring, or load the right key into the agent.",
					Confidence:  0.8,
				}
			},
		},
		{
			name:    "exec_not_found",
			pattern: regexp.MustCompile(`exec: "([^"]+)": executable file not found`),
			suggest: func(_ error, m []string) *Suggestion {
				return &Suggestion{
					Problem:     m[1] + " is not on PATH",
					Category:    "transport",
					Commands:    []string{"which " + m[1]},
					Explanation: "exec: ports start a local program. Give its full path or add it to PATH.",
					Confidence:  0.8,
				}
			},
		},
		{
			name:  "no_prompt",
			check: func(err error) bool { return protocolTimeout(err, harness.StateSetup) },
			suggest: func(error, []string) *Suggestion {
				return &Suggestion{
					Problem:     "The device never showed its shell prompt",
					Category:    "protocol",
					Commands:    []string{"ashell-monkey run --print <port> <script>"},
					Explanation: "Check the board runs ashell, the baud rate matches and shell.prompt is what it prints.",
					Confidence:  0.75,
				}
			},
		},
		{
			name:  "no_echo",
			check: func(err error) bool { return protocolTimeout(err, harness.StateWaitingExecute) },
			suggest: func(error, []string) *Suggestion {
				return &Suggestion{
					Problem:     "The device did not echo the run command",
					Category:    "protocol",
					Commands:    []string{"ashell-monkey run --print --echo-mode stream <port> <script>"},
					Explanation: "The script may have failed to load. Watch the raw output for a parse error.",
					Confidence:  0.6,
				}
			},
		},
		{
			name:  "no_summary",
			check: func(err error) bool { return protocolTimeout(err, harness.StateWaitingResult) },
			suggest: func(error, []string) *Suggestion {
				return &Suggestion{
					Problem:     "The script never printed its TOTAL line",
					Category:    "protocol",
					Commands:    []string{"ashell-monkey run --result-timeout 10m <port> <script>"},
					Explanation: "The script may hang, or finish without the helper's summary. Give slow scripts more time.",
					Confidence:  0.6,
				}
			},
		},
		{
			name:  "link_lost",
			check: func(err error) bool { return errors.Is(err, harness.ErrTransport) },
			suggest: func(error, []string) *Suggestion {
				return &Suggestion{
					Problem:     "The device link dropped mid-run",
					Category:    "transport",
					Commands:    []string{"dmesg | tail", "ashell-monkey ports"},
					Explanation: "The board may have reset or been unplugged. A crashing script can reboot it.",
					Confidence:  0.5,
				}
			},
		},
	}
}
