package ports

import "golang.org/x/crypto/ssh"

// SSHDialer connects to a console server; tests substitute an in-process one.
type SSHDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
