package transport

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3"
)

// Conn adapts a periph.io connection (UART, SPI or I²C bridge) to Transport.
//
// Frames are sent with a write-only Tx and the acknowledgment is fetched one
// byte at a time with a read-only Tx.
type Conn struct {
	c      conn.Conn
	closer io.Closer

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps c. closer, when not nil, is closed by Close; pass the port or
// bus c was obtained from.
func NewConn(c conn.Conn, closer io.Closer) *Conn {
	return &Conn{c: c, closer: closer}
}

// Write sends p in a single transaction.
func (t *Conn) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	if err := t.c.Tx(p, nil); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadByte reads a single byte.
func (t *Conn) ReadByte() (byte, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	var b [1]byte
	if err := t.c.Tx(nil, b[:]); err != nil {
		if t.closed.Load() {
			return 0, ErrClosed
		}
		return 0, err
	}
	return b[0], nil
}

// Close closes the underlying port, if any. It is safe to call more than once.
func (t *Conn) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.closer != nil {
			t.closeErr = t.closer.Close()
		}
	})
	return t.closeErr
}

func (t *Conn) String() string {
	return fmt.Sprintf("transport.Conn{%s}", t.c)
}
