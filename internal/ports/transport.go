package ports

// Transport is a byte-stream endpoint to a device shell.
//
// Poll must never block: it returns whatever bytes are available right now,
// and (0, nil) when nothing has arrived. A non-nil error means the transport
// is broken and every later call will fail too.
type Transport interface {
	Poll(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}
