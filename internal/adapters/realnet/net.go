// Package realnet provides the real NetworkDialer used for raw TCP consoles.
package realnet

import (
	"net"
	"time"

	"github.com/acolita/ashell-monkey/internal/ports"
)

// Dialer implements ports.NetworkDialer using net.Dialer.
type Dialer struct {
	Timeout time.Duration
}

// NewDialer creates a new Dialer with the given connect timeout (0 = none).
func NewDialer(timeout time.Duration) *Dialer {
	return &Dialer{Timeout: timeout}
}

// Dial establishes a network connection.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	return nd.Dial(network, address)
}

var _ ports.NetworkDialer = (*Dialer)(nil)
