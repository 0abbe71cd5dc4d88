// Package transport provides the byte links a monostream display is reached
// through: a serial port (USB CDC, FTDI, Arduino bridges) or any periph.io
// connection.
package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

// Transport is a flow-controlled byte stream to the display device.
//
// Write may block until the bytes are handed to the link. ReadByte blocks
// until the device sends a byte, the link fails or the transport is closed.
// Close must be safe to call more than once and must unblock a pending
// ReadByte.
type Transport interface {
	io.Writer
	io.ByteReader
	io.Closer
}

// Opener establishes a Transport from connection parameters.
type Opener func(ctx context.Context, cfg Config) (Transport, error)

var (
	// ErrOpen wraps every failure to establish a link.
	ErrOpen = errors.New("transport: open failed")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")
)

// Default connection parameters.
const (
	DefaultBaudRate   = 115200
	DefaultResetDelay = 2 * time.Second
	DefaultReadPoll   = 100 * time.Millisecond
)

// Config holds link parameters.
type Config struct {
	// Port is the device path or name, e.g. /dev/ttyACM0 or COM3.
	Port string

	// BaudRate defaults to 115200 when zero.
	BaudRate int

	// ResetDelay is how long to wait after opening before the first frame.
	// Boards with auto-reset on DTR (most Arduinos) reboot when the port is
	// opened. Zero uses DefaultResetDelay, a negative value disables the wait.
	ResetDelay time.Duration

	// ReadPoll bounds a single low-level read so a closed port is noticed.
	// Defaults to 100ms when zero.
	ReadPoll time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.ResetDelay == 0 {
		c.ResetDelay = DefaultResetDelay
	}
	if c.ReadPoll <= 0 {
		c.ReadPoll = DefaultReadPoll
	}
	return c
}
