package mockconsole

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// SSHServer is a console server that attaches every shell session to a Device.
type SSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	device   *Device
	users    map[string]string // username -> password
	hostKey  ssh.PublicKey
	done     chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	ptyTerms []string
	commands []string
}

// Option configures the SSH server.
type Option func(*SSHServer)

// WithUser adds a user/password pair for authentication.
func WithUser(username, password string) Option {
	return func(s *SSHServer) {
		s.users[username] = password
	}
}

// NewSSHServer starts an SSH console server for device on a random local port.
func NewSSHServer(device *Device, opts ...Option) (*SSHServer, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	s := &SSHServer{
		device: device,
		users:  map[string]string{"test": "test"},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if expected, ok := s.users[c.User()]; ok && string(password) == expected {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	config.AddHostKey(signer)
	s.config = config
	s.hostKey = signer.PublicKey()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock console server started", slog.String("addr", s.Addr()))
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *SSHServer) Addr() string {
	return s.listener.Addr().String()
}

// HostKey returns the server's public host key.
func (s *SSHServer) HostKey() ssh.PublicKey {
	return s.hostKey
}

// PtyTerms returns the terminal types requested by clients.
func (s *SSHServer) PtyTerms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ptyTerms...)
}

// Commands returns the exec commands requested by clients.
func (s *SSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Close shuts down the server and waits for its sessions.
func (s *SSHServer) Close() error {
	close(s.done)
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *SSHServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", slog.String("error", err.Error()))
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *SSHServer) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("SSH handshake failed", slog.String("error", err.Error()))
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	go func() {
		<-s.done
		sshConn.Close()
	}()

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Debug("channel accept failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go s.handleChannel(channel, requests)
	}
}

func (s *SSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req":
			var payload struct {
				Term     string
				Columns  uint32
				Rows     uint32
				Width    uint32
				Height   uint32
				Modelist string
			}
			if err := ssh.Unmarshal(req.Payload, &payload); err == nil {
				s.mu.Lock()
				s.ptyTerms = append(s.ptyTerms, payload.Term)
				s.mu.Unlock()
			}
			reply(req, true)

		case "shell", "exec":
			if req.Type == "exec" {
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err == nil {
					s.mu.Lock()
					s.commands = append(s.commands, payload.Command)
					s.mu.Unlock()
				}
			}
			reply(req, true)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				err := s.device.Serve(channel)
				sendExitStatus(channel, err)
			}()

		default:
			reply(req, false)
		}
	}
}

func reply(req *ssh.Request, ok bool) {
	if req.WantReply {
		req.Reply(ok, nil)
	}
}

func sendExitStatus(channel ssh.Channel, err error) {
	var status struct{ Code uint32 }
	if err != nil {
		status.Code = 1
	}
	channel.CloseWrite()
	channel.SendRequest("exit-status", false, ssh.Marshal(&status))
	channel.Close()
}
