package transport

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// execConn is a local process whose stdio is a pseudo-terminal.
type execConn struct {
	cmd  *exec.Cmd
	ptmx *os.File
	mu   sync.Mutex
}

// startExec launches args[0] with the remaining args on a new pty.
// TERM is forced to dumb so the child does not add its own styling.
func startExec(args []string) (*execConn, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("start process: no command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), "TERM=dumb", "NO_COLOR=1")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 120})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	return &execConn{cmd: cmd, ptmx: ptmx}, nil
}

func (c *execConn) Read(b []byte) (int, error) {
	return c.ptmx.Read(b)
}

func (c *execConn) Write(b []byte) (int, error) {
	return c.ptmx.Write(b)
}

// Close closes the pty and terminates the process.
func (c *execConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if err := c.ptmx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty: %w", err))
	}
	if c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill process: %w", err))
		}
		_ = c.cmd.Wait()
	}
	return errors.Join(errs...)
}
