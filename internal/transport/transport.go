package transport

import (
	"fmt"
	"time"

	"github.com/acolita/ashell-monkey/internal/adapters/realfs"
	"github.com/acolita/ashell-monkey/internal/adapters/realnet"
	"github.com/acolita/ashell-monkey/internal/adapters/realsshdialer"
	"github.com/acolita/ashell-monkey/internal/ports"
)

// Options configures how a link is opened.
type Options struct {
	Baud        int
	ChunkSize   int // read size of the stream pump
	DialTimeout time.Duration
	SSH         SSHOptions
}

// Deps are the injectable collaborators used when opening a link.
type Deps struct {
	Dialer    ports.NetworkDialer
	SSHDialer ports.SSHDialer
	FS        ports.FileSystem
}

// DefaultOptions returns the settings for a stock device console.
func DefaultOptions() Options {
	return Options{
		Baud:        DefaultBaud,
		ChunkSize:   defaultChunkSize,
		DialTimeout: 10 * time.Second,
	}
}

func (d Deps) withDefaults(dialTimeout time.Duration) Deps {
	if d.Dialer == nil {
		d.Dialer = realnet.NewDialer(dialTimeout)
	}
	if d.SSHDialer == nil {
		d.SSHDialer = realsshdialer.New()
	}
	if d.FS == nil {
		d.FS = realfs.New()
	}
	return d
}

// Open opens the link described by ep.
func Open(ep Endpoint, opts Options, deps Deps) (ports.Transport, error) {
	if opts.Baud <= 0 {
		opts.Baud = DefaultBaud
	}
	deps = deps.withDefaults(opts.DialTimeout)

	switch ep.Kind {
	case KindSerial:
		return OpenSerial(ep.Address, opts.Baud)

	case KindTCP:
		conn, err := deps.Dialer.Dial("tcp", ep.Address)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ep.Address, err)
		}
		return newStream(conn, opts.ChunkSize), nil

	case KindSSH:
		conn, err := dialSSH(ep, opts, deps)
		if err != nil {
			return nil, err
		}
		return newStream(conn, opts.ChunkSize), nil

	case KindExec:
		conn, err := startExec(ep.Command)
		if err != nil {
			return nil, err
		}
		return newStream(conn, opts.ChunkSize), nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPort, ep.Kind)
	}
}
