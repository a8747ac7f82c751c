package harness

import "fmt"

// State is the phase of the session protocol.
type State int

const (
	// StateSetup waits for the first prompt, then loads the assertion helper.
	StateSetup State = iota
	// StateBegin waits for the prompt, then loads and runs the current script.
	StateBegin
	// StateWaitingExecute waits for the shell to echo the run command.
	StateWaitingExecute
	// StateWaitingResult waits for the helper's summary line.
	StateWaitingResult
)

var stateNames = [...]string{
	StateSetup:          "SETUP",
	StateBegin:          "BEGIN",
	StateWaitingExecute: "WAITING_EXECUTE",
	StateWaitingResult:  "WAITING_RESULT",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}
