package monostream

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flavioheleno/monostream/dither"
	"github.com/flavioheleno/monostream/image1bit"
	"github.com/flavioheleno/monostream/transport"
)

// Header starts every frame on the wire.
var Header = [4]byte{0xAA, 0x55, 0xAA, 0x55}

// Ack is sent by the device after it has consumed a frame.
const Ack byte = 0xAC

// DefaultAckTimeout bounds the acknowledgment wait when DefaultOpts is used.
const DefaultAckTimeout = 2 * time.Second

var (
	// ErrWrite wraps transport failures while sending a frame.
	ErrWrite = errors.New("monostream: write failed")

	// ErrAck wraps failures while waiting for the acknowledgment.
	ErrAck = errors.New("monostream: ack failed")

	// ErrAckTimeout is returned when the device does not acknowledge in time.
	// It matches ErrAck.
	ErrAckTimeout = fmt.Errorf("%w: timeout", ErrAck)

	errHalted = errors.New("monostream: halted")
)

// Opts is the configuration for the remote display.
type Opts struct {
	// Display dimensions in pixels
	W int // Width (1-1024)
	H int // Height (8-1024); rows past the last full page are not sent

	// Dithering used by Draw
	Algorithm dither.Key
	Params    dither.Params

	// AckTimeout bounds the wait for the device acknowledgment.
	// Zero waits forever, matching devices that may stall for long periods.
	AckTimeout time.Duration
}

// DefaultOpts is the common 128x64 panel with Floyd-Steinberg dithering.
var DefaultOpts = Opts{
	W:          128,
	H:          64,
	Algorithm:  dither.FloydSteinberg,
	Params:     dither.DefaultParams,
	AckTimeout: DefaultAckTimeout,
}

// Dev is the handle for a display reached over a transport.
type Dev struct {
	// Communication
	t          transport.Transport
	ackTimeout time.Duration

	// Display geometry
	rect  image.Rectangle
	pages int

	// Rendering
	algorithm  dither.Key
	params     dither.Params
	frameIndex uint64

	// Wire buffer: header followed by the packed frame
	frame []byte

	// State
	halted   atomic.Bool
	haltOnce sync.Once
	haltErr  error
}

// New creates a Dev sending frames through t.
//
// opts can be nil to use DefaultOpts. The Dev takes ownership of t: Halt
// closes it.
func New(t transport.Transport, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if t == nil {
		return nil, errors.New("monostream: nil transport")
	}
	if opts.W <= 0 || opts.W > 1024 {
		return nil, errors.New("monostream: width must be between 1 and 1024")
	}
	if opts.H < 8 || opts.H > 1024 {
		return nil, errors.New("monostream: height must be between 8 and 1024")
	}
	if opts.AckTimeout < 0 {
		return nil, errors.New("monostream: ack timeout must not be negative")
	}

	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = dither.Default
	}

	pages := opts.H / 8
	return &Dev{
		t:          t,
		ackTimeout: opts.AckTimeout,
		rect:       image.Rect(0, 0, opts.W, opts.H),
		pages:      pages,
		algorithm:  algorithm,
		params:     opts.Params,
		frame:      make([]byte, len(Header)+opts.W*pages),
	}, nil
}

// FrameSize returns the number of payload bytes of one frame.
func (d *Dev) FrameSize() int {
	return d.rect.Dx() * d.pages
}

// ColorModel returns the color model of the display.
func (d *Dev) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds returns the image bounds of the display.
func (d *Dev) Bounds() image.Rectangle {
	return d.rect
}

// Write sends one packed frame and waits for the device to acknowledge it.
// The data must be exactly FrameSize bytes in image1bit.VerticalLSB layout.
//
// When the acknowledgment times out the link is left in an unknown state, so
// the device is halted and the transport closed.
func (d *Dev) Write(pixels []byte) (int, error) {
	if d.halted.Load() {
		return 0, errHalted
	}
	if len(pixels) != d.FrameSize() {
		return 0, errors.New("monostream: invalid buffer size")
	}

	copy(d.frame, Header[:])
	copy(d.frame[len(Header):], pixels)
	if _, err := d.t.Write(d.frame); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWrite, err)
	}

	if err := d.awaitAck(); err != nil {
		if errors.Is(err, ErrAckTimeout) {
			d.Halt()
		}
		return 0, err
	}
	return len(pixels), nil
}

// Draw renders src onto the display: the dst region receives src starting
// at sp, the rest of the frame is black. The result is dithered with the
// configured algorithm, packed and sent with Write.
func (d *Dev) Draw(dst image.Rectangle, src image.Image, sp image.Point) error {
	if d.halted.Load() {
		return errHalted
	}

	// Clip to display bounds
	dst = dst.Intersect(d.rect)

	canvas := image.NewRGBA(d.rect)
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)
	if !dst.Empty() {
		draw.Draw(canvas, dst, src, sp, draw.Src)
	}

	p := d.params
	p.FrameIndex = d.frameIndex
	d.frameIndex++
	dither.Apply(canvas, d.algorithm, p)

	_, err := d.Write(image1bit.Pack(canvas).Pix)
	return err
}

// awaitAck consumes bytes until Ack arrives. Other bytes are skipped.
func (d *Dev) awaitAck() error {
	if d.ackTimeout <= 0 {
		return readAck(d.t)
	}

	done := make(chan error, 1)
	go func() {
		done <- readAck(d.t)
	}()

	timer := time.NewTimer(d.ackTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrAckTimeout, d.ackTimeout)
	}
}

func readAck(r io.ByteReader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: stream ended", ErrAck)
			}
			return fmt.Errorf("%w: %w", ErrAck, err)
		}
		if b == Ack {
			return nil
		}
	}
}

// Halt closes the transport.
// After calling Halt, the device will not accept further frames.
func (d *Dev) Halt() error {
	d.haltOnce.Do(func() {
		d.halted.Store(true)
		d.haltErr = d.t.Close()
	})
	return d.haltErr
}

// String returns a string representation of the device.
func (d *Dev) String() string {
	return fmt.Sprintf("monostream.Dev{%dx%d}", d.rect.Dx(), d.rect.Dy())
}
