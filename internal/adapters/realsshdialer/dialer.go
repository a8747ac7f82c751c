// Package realsshdialer provides the real SSHDialer used for console servers.
package realsshdialer

import (
	"github.com/acolita/ashell-monkey/internal/ports"
	"golang.org/x/crypto/ssh"
)

// Dialer implements ports.SSHDialer using ssh.Dial.
type Dialer struct{}

// New creates a new Dialer.
func New() *Dialer {
	return &Dialer{}
}

// Dial establishes an SSH connection to the given address.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	return ssh.Dial(network, addr, config)
}

var _ ports.SSHDialer = (*Dialer)(nil)
