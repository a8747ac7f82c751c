package transport

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/acolita/ashell-monkey/internal/ports"
)

// DefaultBaud is the console speed of a stock ashell build.
const DefaultBaud = 115200

// serialTransport reads with a zero timeout, so the driver itself polls.
type serialTransport struct {
	port serial.Port
}

// OpenSerial opens a serial device at the given baud rate, 8N1.
func OpenSerial(name string, baud int) (ports.Transport, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	if err := p.SetReadTimeout(0); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return &serialTransport{port: p}, nil
}

func (t *serialTransport) Poll(b []byte) (int, error) {
	return t.port.Read(b)
}

func (t *serialTransport) Write(b []byte) (int, error) {
	return t.port.Write(b)
}

func (t *serialTransport) Close() error {
	return t.port.Close()
}

// ListSerialPorts returns the serial devices present on this host.
func ListSerialPorts() ([]string, error) {
	list, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return list, nil
}

var _ ports.Transport = (*serialTransport)(nil)
