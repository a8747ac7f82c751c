// Package transport opens the byte-stream link to a device shell.
//
// A port string selects the link:
//
//	/dev/ttyACM0, COM3        serial port
//	serial:///dev/ttyACM0     serial port, explicit form
//	tcp://host:port           raw TCP console (ser2net style)
//	ssh://user@host[:port]    console server reached over SSH
//	exec:command args...      local process attached to a pty
//
// Every link is exposed as a ports.Transport whose Poll never blocks.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Kind identifies the link type of an Endpoint.
type Kind string

const (
	KindSerial Kind = "serial"
	KindTCP    Kind = "tcp"
	KindSSH    Kind = "ssh"
	KindExec   Kind = "exec"
)

const defaultSSHPort = "22"

// ErrInvalidPort is returned by Parse for port strings it cannot interpret.
var ErrInvalidPort = errors.New("invalid port")

// Endpoint is a parsed port string.
type Endpoint struct {
	Kind    Kind
	Address string   // device path for serial, host:port for tcp and ssh
	User    string   // ssh only
	Command []string // exec only
	Raw     string
}

// String returns the port string the endpoint was parsed from.
func (e Endpoint) String() string {
	return e.Raw
}

// Parse interprets a port string.
func Parse(port string) (Endpoint, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		return Endpoint{}, fmt.Errorf("%w: empty", ErrInvalidPort)
	}

	if rest, ok := strings.CutPrefix(port, "exec:"); ok {
		args := strings.Fields(rest)
		if len(args) == 0 {
			return Endpoint{}, fmt.Errorf("%w: %q has no command", ErrInvalidPort, port)
		}
		return Endpoint{Kind: KindExec, Command: args, Raw: port}, nil
	}

	if !strings.Contains(port, "://") {
		return Endpoint{Kind: KindSerial, Address: port, Raw: port}, nil
	}

	u, err := url.Parse(port)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidPort, err)
	}

	switch u.Scheme {
	case "serial":
		path := u.Host + u.Path
		if path == "" {
			return Endpoint{}, fmt.Errorf("%w: %q has no device path", ErrInvalidPort, port)
		}
		return Endpoint{Kind: KindSerial, Address: path, Raw: port}, nil

	case "tcp":
		if u.Hostname() == "" || u.Port() == "" {
			return Endpoint{}, fmt.Errorf("%w: %q needs host:port", ErrInvalidPort, port)
		}
		return Endpoint{Kind: KindTCP, Address: u.Host, Raw: port}, nil

	case "ssh":
		if u.Hostname() == "" {
			return Endpoint{}, fmt.Errorf("%w: %q has no host", ErrInvalidPort, port)
		}
		p := u.Port()
		if p == "" {
			p = defaultSSHPort
		}
		ep := Endpoint{
			Kind:    KindSSH,
			Address: net.JoinHostPort(u.Hostname(), p),
			Raw:     port,
		}
		if u.User != nil {
			ep.User = u.User.Username()
		}
		return ep, nil

	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidPort, u.Scheme)
	}
}
