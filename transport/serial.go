package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
)

// SerialConfig describes a serial line for the RTU binding.
type SerialConfig struct {
	Device   string // e.g. /dev/ttyUSB0 or COM3
	BaudRate int    // default 19200
	DataBits int    // default 8
	Parity   string // "none", "even" (default) or "odd"
	StopBits int    // 1 (default) or 2
}

// SerialPort adapts an opened serial port to the BytePort contract. The
// read deadline maps onto the port's own read timeout, so a timed out read
// is cancelled inside the driver and leaves no pending callback behind.
type SerialPort struct {
	port serial.Port
}

// OpenSerialPort opens the configured device for RTU framing.
func OpenSerialPort(cfg SerialConfig) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 19200
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	switch cfg.Parity {
	case "", "even":
	case "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unknown parity %q", cfg.Parity)
	}
	if cfg.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return &SerialPort{port: port}, nil
}

// Write sends bytes onto the line.
func (p *SerialPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// ReadByteDeadline reads a single byte, waiting at most timeout.
func (p *SerialPort) ReadByteDeadline(timeout time.Duration) (byte, error) {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	var one [1]byte
	n, err := p.port.Read(one[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, common.ErrTimeout
	}
	return one[0], nil
}

// Close releases the port.
func (p *SerialPort) Close() error {
	return p.port.Close()
}

// ListSerialPorts enumerates the serial devices present on the host.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// PumpPort adapts a plain io.ReadWriter to the BytePort contract for
// transports without native read deadlines (TCP-tunneled serial, pipes in
// tests). A single pump goroutine performs the blocking reads; each
// ReadByteDeadline races the pump against a timer. Whichever fires first
// wins: a byte win stops the timer, a timer win parks the pending read,
// whose byte is delivered by the next call instead of being dropped. The
// two outcomes are mutually exclusive by construction of the select.
type PumpPort struct {
	rw   io.ReadWriter
	ch   chan pumpResult
	once sync.Once
}

type pumpResult struct {
	b   byte
	err error
}

// NewPumpPort wraps rw. The pump goroutine starts on first read and exits
// when the underlying reader fails or reaches EOF.
func NewPumpPort(rw io.ReadWriter) *PumpPort {
	return &PumpPort{rw: rw, ch: make(chan pumpResult)}
}

// Write sends bytes onto the underlying stream.
func (p *PumpPort) Write(b []byte) (int, error) {
	return p.rw.Write(b)
}

// ReadByteDeadline reads a single byte, waiting at most timeout.
func (p *PumpPort) ReadByteDeadline(timeout time.Duration) (byte, error) {
	p.once.Do(func() {
		go p.pump()
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.ch:
		if r.err != nil {
			return 0, r.err
		}
		return r.b, nil
	case <-timer.C:
		return 0, common.ErrTimeout
	}
}

func (p *PumpPort) pump() {
	var one [1]byte
	for {
		n, err := p.rw.Read(one[:])
		if n == 1 {
			p.ch <- pumpResult{b: one[0]}
		}
		if err != nil {
			p.ch <- pumpResult{err: err}
			return
		}
	}
}
