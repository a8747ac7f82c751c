// Package mockconsole provides an emulated device console for transport tests.
//
// Device speaks enough of the ashell protocol to drive a full run: it echoes
// typed characters, answers help, swallows load frames up to the end-of-input
// byte and prints a canned result line for each run command. Servers expose a
// Device over raw TCP or SSH.
package mockconsole

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
)

// Prompt is the coloured idle prompt of the device.
const Prompt = "\x1b[33macm> \x1b[39m"

const endOfInput = 0x1A

// Device is a scripted ashell console.
type Device struct {
	mu      sync.Mutex
	results []string
	loaded  map[string]string
	runs    int
}

// NewDevice creates a device that prints results[i] for the i-th run command.
// Runs past the end of results print no summary, as a hung script would.
func NewDevice(results ...string) *Device {
	return &Device{
		results: results,
		loaded:  make(map[string]string),
	}
}

// Loaded returns the content last loaded under name.
func (d *Device) Loaded(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	content, ok := d.loaded[name]
	return content, ok
}

// Runs returns how many run commands have been received.
func (d *Device) Runs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

// Serve runs the console on rw until the reader is exhausted.
func (d *Device) Serve(rw io.ReadWriter) error {
	r := bufio.NewReader(rw)
	var line []byte

	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if c != '\r' {
			line = append(line, c)
			if _, err := rw.Write([]byte{c}); err != nil {
				return err
			}
			continue
		}

		fields := strings.Fields(string(line))
		line = line[:0]

		reply, err := d.handle(fields, r)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(rw, reply+Prompt); err != nil {
			return err
		}
	}
}

func (d *Device) handle(fields []string, r *bufio.Reader) (string, error) {
	if len(fields) == 0 {
		return "\r\n", nil
	}

	switch fields[0] {
	case "help":
		return "\r\nCommands: load <file>, run <file>, help\r\n", nil

	case "load":
		body, err := r.ReadBytes(endOfInput)
		if err != nil {
			return "", err
		}
		content := strings.TrimSuffix(string(body[:len(body)-1]), "\r")
		if len(fields) > 1 {
			d.mu.Lock()
			d.loaded[fields[1]] = content
			d.mu.Unlock()
		}
		return "\r\n", nil

	case "run":
		d.mu.Lock()
		i := d.runs
		d.runs++
		d.mu.Unlock()
		if i < len(d.results) {
			return "\r\n" + d.results[i] + "\r\n", nil
		}
		return "\r\n", nil

	default:
		return "\r\n" + fields[0] + ": command not found\r\n", nil
	}
}
