// Package serial wraps go.bug.st/serial with the port lifecycle the
// ROM loader needs: modem control lines for the reset handshake, a
// bounded read timeout, and reopening at a new baud rate.
package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// readTimeout bounds every port read; the reader goroutine uses the
// returns to notice shutdown requests.
const readTimeout = 100 * time.Millisecond

// Port wraps an open serial port.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port at the given baud rate, 8N1.
func Open(portName string, baudRate int) (*Port, error) {
	port, err := open(portName, baudRate)
	if err != nil {
		return nil, err
	}
	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

func open(portName string, baudRate int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return port, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Reopen closes the port and opens it again at a new baud rate.
func (p *Port) Reopen(baudRate int) error {
	if p.port != nil {
		if err := p.port.Close(); err != nil {
			return fmt.Errorf("failed to close port %s: %w", p.portName, err)
		}
	}
	port, err := open(p.portName, baudRate)
	if err != nil {
		return err
	}
	p.port = port
	p.baudRate = baudRate
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads data from the serial port. A read that times out with no
// data returns (0, nil).
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// SetDTR sets the DTR signal.
func (p *Port) SetDTR(value bool) error {
	return p.port.SetDTR(value)
}

// SetRTS sets the RTS signal.
func (p *Port) SetRTS(value bool) error {
	return p.port.SetRTS(value)
}

// HardReset pulses the chip's reset line without entering download
// mode, so the freshly flashed firmware boots.
func (p *Port) HardReset() error {
	if err := p.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return p.SetRTS(false)
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
