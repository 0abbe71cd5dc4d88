package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Serial is a Transport over a local serial port.
type Serial struct {
	port serial.Port
	name string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// OpenSerial opens cfg.Port in 8N1 mode at cfg.BaudRate, waits for the board
// to come out of reset and discards anything it printed while booting.
func OpenSerial(ctx context.Context, cfg Config) (*Serial, error) {
	cfg = cfg.withDefaults()
	if cfg.Port == "" {
		return nil, fmt.Errorf("%w: no serial port configured", ErrOpen)
	}

	p, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, cfg.Port, err)
	}
	if err := p.SetReadTimeout(cfg.ReadPoll); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %s: set read timeout: %w", ErrOpen, cfg.Port, err)
	}

	if cfg.ResetDelay > 0 {
		timer := time.NewTimer(cfg.ResetDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrOpen, cfg.Port, ctx.Err())
		case <-timer.C:
		}
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %s: flush input: %w", ErrOpen, cfg.Port, err)
	}

	return &Serial{port: p, name: cfg.Port}, nil
}

// OpenSerialTransport is an Opener backed by OpenSerial.
func OpenSerialTransport(ctx context.Context, cfg Config) (Transport, error) {
	s, err := OpenSerial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Write sends p to the port.
func (s *Serial) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.port.Write(p)
}

// ReadByte blocks until one byte is received or the port is closed.
func (s *Serial) ReadByte() (byte, error) {
	var b [1]byte
	for {
		if s.closed.Load() {
			return 0, ErrClosed
		}
		n, err := s.port.Read(b[:])
		if err != nil {
			if s.closed.Load() {
				return 0, ErrClosed
			}
			return 0, err
		}
		if n == 1 {
			return b[0], nil
		}
		// read timeout elapsed with no data, poll again
	}
}

// Close releases the port. It is safe to call more than once.
func (s *Serial) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

func (s *Serial) String() string {
	return fmt.Sprintf("transport.Serial{%s}", s.name)
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w", err)
	}
	return ports, nil
}
