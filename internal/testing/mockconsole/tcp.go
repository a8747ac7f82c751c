package mockconsole

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// TCPServer exposes a Device as a raw TCP console, one connection at a time.
type TCPServer struct {
	listener net.Listener
	device   *Device
	done     chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns []net.Conn
}

// NewTCPServer starts a raw console for device on a random local port.
func NewTCPServer(device *Device) (*TCPServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &TCPServer{
		listener: listener,
		device:   device,
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *TCPServer) Addr() string {
	return s.listener.Addr().String()
}

// DropClients closes every accepted connection, as a console server restart would.
func (s *TCPServer) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// Close shuts down the server and waits for its connections.
func (s *TCPServer) Close() error {
	close(s.done)
	err := s.listener.Close()
	s.DropClients()
	s.wg.Wait()
	return err
}

func (s *TCPServer) acceptLoop() {
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

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			if err := s.device.Serve(conn); err != nil {
				slog.Debug("console closed", slog.String("error", err.Error()))
			}
		}()
	}
}
