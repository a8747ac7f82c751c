package ports

import "net"

// NetworkDialer abstracts network dialing for testing.
type NetworkDialer interface {
	// Dial establishes a network connection.
	Dial(network, address string) (net.Conn, error)
}
