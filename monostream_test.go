package monostream

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/flavioheleno/monostream/dither"
	"github.com/flavioheleno/monostream/image1bit"
	"github.com/flavioheleno/monostream/transport"
)

// fakeTransport records writes and serves reply bytes. ReadByte blocks until
// a reply is queued or the transport is closed.
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	replies  chan byte
	writeErr error
	readErr  error

	closed    chan struct{}
	closeOnce sync.Once
	closes    int
}

func newFakeTransport(replies ...byte) *fakeTransport {
	f := &fakeTransport{
		replies: make(chan byte, 64),
		closed:  make(chan struct{}),
	}
	for _, b := range replies {
		f.replies <- b
	}
	return f
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) ReadByte() (byte, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	select {
	case b := <-f.replies:
		return b, nil
	case <-f.closed:
		return 0, transport.ErrClosed
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    *Opts
		wantErr bool
	}{
		{"nil options (uses defaults)", nil, false},
		{"valid 128x64", &Opts{W: 128, H: 64}, false},
		{"valid 128x32", &Opts{W: 128, H: 32}, false},
		{"valid 1x8 (minimum)", &Opts{W: 1, H: 8}, false},
		{"valid 1024x1024 (maximum)", &Opts{W: 1024, H: 1024}, false},
		{"partial page height", &Opts{W: 128, H: 60}, false},
		{"width zero", &Opts{W: 0, H: 64}, true},
		{"width > 1024", &Opts{W: 1025, H: 64}, true},
		{"height < 8", &Opts{W: 128, H: 7}, true},
		{"height > 1024", &Opts{W: 128, H: 1025}, true},
		{"negative ack timeout", &Opts{W: 128, H: 64, AckTimeout: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newFakeTransport(), tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewNilTransport(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("New should fail without a transport")
	}
}

func TestNewDefaults(t *testing.T) {
	dev, err := New(newFakeTransport(), &Opts{W: 128, H: 64})
	if err != nil {
		t.Fatal(err)
	}
	if dev.algorithm != dither.FloydSteinberg {
		t.Errorf("algorithm = %q, want %q", dev.algorithm, dither.FloydSteinberg)
	}
	if dev.ackTimeout != 0 {
		t.Errorf("ackTimeout = %v, want 0", dev.ackTimeout)
	}

	dev, err = New(newFakeTransport(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if dev.ackTimeout != DefaultAckTimeout {
		t.Errorf("ackTimeout = %v, want %v", dev.ackTimeout, DefaultAckTimeout)
	}
	if dev.params.Threshold != 50 {
		t.Errorf("threshold = %v, want 50", dev.params.Threshold)
	}
}

func TestDevBounds(t *testing.T) {
	dev := &Dev{
		rect: image.Rect(0, 0, 128, 64),
	}
	want := image.Rect(0, 0, 128, 64)
	if got := dev.Bounds(); got != want {
		t.Errorf("Bounds() = %v, want %v", got, want)
	}
}

func TestDevColorModel(t *testing.T) {
	dev := &Dev{}
	if dev.ColorModel() != image1bit.BitModel {
		t.Error("ColorModel() did not return BitModel")
	}
}

func TestDevString(t *testing.T) {
	dev := &Dev{
		rect: image.Rect(0, 0, 128, 64),
	}
	want := "monostream.Dev{128x64}"
	if got := dev.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestFrameSize(t *testing.T) {
	tests := []struct {
		w, h int
		want int
	}{
		{128, 64, 1024},
		{128, 32, 512},
		{128, 60, 896},
		{16, 8, 16},
	}

	for _, tt := range tests {
		dev, err := New(newFakeTransport(), &Opts{W: tt.w, H: tt.h})
		if err != nil {
			t.Fatal(err)
		}
		if got := dev.FrameSize(); got != tt.want {
			t.Errorf("FrameSize() for %dx%d = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestWriteFraming(t *testing.T) {
	ft := newFakeTransport(Ack)
	dev, err := New(ft, &Opts{W: 4, H: 8})
	if err != nil {
		t.Fatal(err)
	}

	n, err := dev.Write([]byte{0x01, 0x02, 0x03, 0x04})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 4 {
		t.Errorf("Write() = %d, want 4", n)
	}

	frames := ft.frames()
	if len(frames) != 1 {
		t.Fatalf("got %d transport writes, want 1", len(frames))
	}
	want := []byte{0xAA, 0x55, 0xAA, 0x55, 0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(frames[0], want) {
		t.Errorf("frame = % X, want % X", frames[0], want)
	}
}

func TestWriteSkipsNoise(t *testing.T) {
	ft := newFakeTransport('o', 'k', '\n', 0x00, Ack, Ack)
	dev, err := New(ft, &Opts{W: 8, H: 8, AckTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}

	for i := range 2 {
		if _, err := dev.Write(make([]byte, 8)); err != nil {
			t.Fatalf("Write() #%d error = %v", i, err)
		}
	}
	if got := len(ft.frames()); got != 2 {
		t.Errorf("got %d frames, want 2", got)
	}
}

func TestWriteInvalidBufferSize(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		height     int
		bufferSize int
	}{
		{"128x64 too small", 128, 64, 1023},
		{"128x64 too large", 128, 64, 1025},
		{"128x60 includes partial page", 128, 60, 128 * 60 / 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			dev, err := New(ft, &Opts{W: tt.width, H: tt.height})
			if err != nil {
				t.Fatal(err)
			}

			_, err = dev.Write(make([]byte, tt.bufferSize))
			if err == nil {
				t.Fatal("Write should fail with invalid buffer size")
			}
			if err.Error() != "monostream: invalid buffer size" {
				t.Errorf("Write error = %v, want 'monostream: invalid buffer size'", err)
			}
			if len(ft.frames()) != 0 {
				t.Error("nothing should be sent for an invalid buffer")
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	boom := errors.New("boom")
	ft := newFakeTransport()
	ft.writeErr = boom
	dev, _ := New(ft, &Opts{W: 8, H: 8})

	_, err := dev.Write(make([]byte, 8))
	if !errors.Is(err, ErrWrite) {
		t.Errorf("Write error = %v, want ErrWrite", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Write error = %v, want it to wrap the transport error", err)
	}
}

func TestWriteAckStreamEnded(t *testing.T) {
	ft := newFakeTransport()
	ft.readErr = io.EOF
	dev, _ := New(ft, &Opts{W: 8, H: 8})

	_, err := dev.Write(make([]byte, 8))
	if !errors.Is(err, ErrAck) {
		t.Errorf("Write error = %v, want ErrAck", err)
	}
	if errors.Is(err, ErrAckTimeout) {
		t.Error("stream end is not a timeout")
	}
}

func TestWriteAckTimeout(t *testing.T) {
	ft := newFakeTransport()
	dev, _ := New(ft, &Opts{W: 8, H: 8, AckTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := dev.Write(make([]byte, 8))
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("Write error = %v, want ErrAckTimeout", err)
	}
	if !errors.Is(err, ErrAck) {
		t.Error("ErrAckTimeout should match ErrAck")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Write took %v, want about 20ms", elapsed)
	}

	// The device is halted and the transport closed so the pending read ends.
	select {
	case <-ft.closed:
	default:
		t.Error("transport should be closed after a timeout")
	}
	if _, err := dev.Write(make([]byte, 8)); err == nil {
		t.Error("Write should fail after a timeout")
	}
}

func TestWriteAckCompatibilityMode(t *testing.T) {
	ft := newFakeTransport()
	dev, _ := New(ft, &Opts{W: 8, H: 8})

	done := make(chan error, 1)
	go func() {
		_, err := dev.Write(make([]byte, 8))
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("Write returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	ft.replies <- Ack
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Write error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write did not return after the ack")
	}
}

func TestDevHalt(t *testing.T) {
	ft := newFakeTransport()
	dev, _ := New(ft, &Opts{W: 8, H: 8})

	if dev.halted.Load() {
		t.Error("device should not be halted initially")
	}
	if err := dev.Halt(); err != nil {
		t.Errorf("Halt() error = %v", err)
	}
	if err := dev.Halt(); err != nil {
		t.Errorf("second Halt() error = %v", err)
	}
	if ft.closes != 1 {
		t.Errorf("transport closed %d times, want 1", ft.closes)
	}

	_, err := dev.Write(make([]byte, 8))
	if err == nil || err.Error() != "monostream: halted" {
		t.Errorf("Write error = %v, want 'monostream: halted'", err)
	}
	if err := dev.Draw(dev.Bounds(), image.NewRGBA(dev.Bounds()), image.Point{}); err == nil {
		t.Error("Draw should fail when halted")
	}
}

func TestDraw(t *testing.T) {
	tests := []struct {
		name string
		dst  image.Rectangle
		src  color.Color
		want []byte
	}{
		{"white full frame", image.Rect(0, 0, 4, 16), color.White, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"black full frame", image.Rect(0, 0, 4, 16), color.Black, make([]byte, 8)},
		{"white top page only", image.Rect(0, 0, 4, 8), color.White, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0}},
		{"white right column", image.Rect(3, 0, 4, 16), color.White, []byte{0, 0, 0, 0xFF, 0, 0, 0, 0xFF}},
		{"clipped outside", image.Rect(10, 10, 20, 20), color.White, make([]byte, 8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport(Ack)
			dev, err := New(ft, &Opts{W: 4, H: 16, Algorithm: dither.Threshold})
			if err != nil {
				t.Fatal(err)
			}

			if err := dev.Draw(tt.dst, image.NewUniform(tt.src), image.Point{}); err != nil {
				t.Fatalf("Draw() error = %v", err)
			}

			frames := ft.frames()
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			if got := frames[0][len(Header):]; !bytes.Equal(got, tt.want) {
				t.Errorf("payload = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestDrawAdvancesFrameIndex(t *testing.T) {
	ft := newFakeTransport(Ack, Ack)
	dev, _ := New(ft, &Opts{W: 8, H: 8, Algorithm: dither.InterleavedNoise})

	src := image.NewUniform(color.Gray{Y: 128})
	for range 2 {
		if err := dev.Draw(dev.Bounds(), src, image.Point{}); err != nil {
			t.Fatal(err)
		}
	}
	if dev.frameIndex != 2 {
		t.Errorf("frameIndex = %d, want 2", dev.frameIndex)
	}
}
