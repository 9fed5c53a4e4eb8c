package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout bounds a single Read call.
const DefaultReadTimeout = 100 * time.Millisecond

var (
	// ErrInboundClosed is returned by Read after CancelInbound.
	ErrInboundClosed = errors.New("inbound stream cancelled")

	// ErrOutboundClosed is returned by Write after CloseOutbound.
	ErrOutboundClosed = errors.New("outbound stream closed")
)

// openPort is replaced in tests.
var openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

// Port wraps a serial port with the reset sequences used by radio boards.
// A Port holds its device exclusively until Release.
type Port struct {
	port     serial.Port
	portName string
	baudRate int

	mu           sync.Mutex
	inboundDone  bool
	outboundDone bool
	released     bool
	onDisconnect func(error)
	disconnected bool
}

// Open claims and opens a serial port with the specified baud rate.
// It fails with ErrPortBusy when another Port in this process holds it.
func Open(portName string, baudRate int) (*Port, error) {
	if err := claim(portName); err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := openPort(portName, mode)
	if err != nil {
		release(portName)
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		port.Close()
		release(portName)
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	p.mu.Lock()
	closed := p.outboundDone
	p.mu.Unlock()
	if closed {
		return 0, ErrOutboundClosed
	}
	return p.port.Write(data)
}

// Read reads data from the serial port. A read that times out returns
// (0, nil). After CancelInbound it returns ErrInboundClosed.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	closed := p.inboundDone
	p.mu.Unlock()
	if closed {
		return 0, ErrInboundClosed
	}
	n, err := p.port.Read(buf)
	if err != nil {
		p.lost(err)
	}
	return n, err
}

// ReadWithTimeout reads data with a specific timeout.
func (p *Port) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	defer p.port.SetReadTimeout(DefaultReadTimeout)

	return p.Read(buf)
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

// SetBaudRate switches the line speed of an open port.
func (p *Port) SetBaudRate(baud int) error {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if err := p.port.SetMode(mode); err != nil {
		return fmt.Errorf("failed to set baud rate %d: %w", baud, err)
	}
	p.baudRate = baud
	return nil
}

// ResetToBootloader resets an ESP32 into its ROM bootloader using the
// DTR/RTS auto-reset circuit found on most boards. Signal polarities are
// inverted by the driver transistors.
func (p *Port) ResetToBootloader() error {
	steps := []struct {
		rts, dtr bool
		wait     time.Duration
	}{
		{true, false, 100 * time.Millisecond}, // EN low
		{false, true, 50 * time.Millisecond},  // EN high, GPIO0 low
		{true, false, 50 * time.Millisecond},  // release GPIO0
		{false, false, 0},
	}
	for _, s := range steps {
		if err := p.SetRTS(s.rts); err != nil {
			return err
		}
		if err := p.SetDTR(s.dtr); err != nil {
			return err
		}
		time.Sleep(s.wait)
	}

	// Drop the boot banner garbage.
	p.Flush()
	time.Sleep(100 * time.Millisecond)

	return nil
}

// HardReset pulses RTS to restart the chip into its application.
func (p *Port) HardReset() error {
	if err := p.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return p.SetRTS(false)
}

// OnDisconnect registers fn to be called once when the device goes away
// while the port is held.
func (p *Port) OnDisconnect(fn func(error)) {
	p.mu.Lock()
	p.onDisconnect = fn
	p.mu.Unlock()
}

func (p *Port) lost(err error) {
	var pe *serial.PortError
	if !errors.As(err, &pe) && !errors.Is(err, io.EOF) {
		return
	}

	p.mu.Lock()
	if p.released || p.disconnected {
		p.mu.Unlock()
		return
	}
	p.disconnected = true
	fn := p.onDisconnect
	p.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// CancelInbound stops the inbound stream and discards pending input.
func (p *Port) CancelInbound() error {
	p.mu.Lock()
	if p.inboundDone {
		p.mu.Unlock()
		return nil
	}
	p.inboundDone = true
	p.mu.Unlock()
	return p.port.ResetInputBuffer()
}

// CloseOutbound waits for queued output to be sent and refuses further writes.
func (p *Port) CloseOutbound() error {
	p.mu.Lock()
	if p.outboundDone {
		p.mu.Unlock()
		return nil
	}
	p.outboundDone = true
	p.mu.Unlock()
	return p.port.Drain()
}

// Release closes the device and gives up ownership of the port name.
func (p *Port) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.port.Close(); err != nil {
		return fmt.Errorf("failed to close port %s: %w", p.portName, err)
	}

	p.mu.Lock()
	p.released = true
	p.inboundDone = true
	p.outboundDone = true
	p.mu.Unlock()
	release(p.portName)
	return nil
}

// Close releases the port.
func (p *Port) Close() error {
	return p.Release()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// Touch1200 opens the port at 1200 baud and drops DTR, which makes
// nRF52 and RP2040 bootloaders reboot into mass-storage mode.
func Touch1200(portName string) error {
	p, err := Open(portName, 1200)
	if err != nil {
		return err
	}
	defer p.Release()

	if err := p.SetDTR(false); err != nil {
		return fmt.Errorf("failed to drop DTR: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}
