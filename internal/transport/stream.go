package transport

import (
	"io"
	"sync"

	"github.com/acolita/ashell-monkey/internal/ports"
)

const (
	defaultChunkSize = 1024
	pumpBacklog      = 64
)

// stream adapts a blocking reader to the non-blocking Poll contract.
// A pump goroutine reads into a channel; Poll drains it without waiting.
// Data read before a failure is always delivered before the failure.
type stream struct {
	rwc    io.ReadWriteCloser
	chunks chan []byte
	errc   chan error
	done   chan struct{}

	pending []byte
	err     error

	closeOnce sync.Once
	closeErr  error
}

func newStream(rwc io.ReadWriteCloser, chunkSize int) *stream {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	s := &stream{
		rwc:    rwc,
		chunks: make(chan []byte, pumpBacklog),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go s.pump(chunkSize)
	return s
}

func (s *stream) pump(size int) {
	for {
		buf := make([]byte, size)
		n, err := s.rwc.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.errc <- err
			return
		}
	}
}

// Poll copies whatever has been read so far into b.
func (s *stream) Poll(b []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case c := <-s.chunks:
			s.pending = c
		default:
		}
	}
	if len(s.pending) > 0 {
		n := copy(b, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	if s.err != nil {
		return 0, s.err
	}

	select {
	case err := <-s.errc:
		s.err = err
		// the pump queues data before reporting the error
		select {
		case c := <-s.chunks:
			s.pending = c
			return s.Poll(b)
		default:
		}
		return 0, err
	default:
		return 0, nil
	}
}

func (s *stream) Write(b []byte) (int, error) {
	return s.rwc.Write(b)
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}

var _ ports.Transport = (*stream)(nil)
