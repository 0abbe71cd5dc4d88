// Package monostream streams 1-bit frames to a page-addressed monochrome
// OLED (SSD1306, SSD1309 and compatibles) driven by a microcontroller on a
// serial link.
//
// The host does all the image work: frames are fitted, dithered to black and
// white, packed in the controller's page layout and sent as a whole. The
// microcontroller only copies the bytes to the panel and acknowledges.
// This driver implements the display.Drawer interface from periph.io.
//
// # Wire Format
//
// Every frame is a 4-byte header followed by the packed bitmap:
//
//	AA 55 AA 55 | W*(H/8) bytes
//
// Byte p*W+x holds column x of page p; bit b (LSB first) is row p*8+b.
// A 128×64 panel therefore takes 1028 bytes per frame. After consuming a
// frame the device answers with the single byte 0xAC. Any other byte it
// prints (boot banners, debug output) is skipped while waiting.
//
// # Hardware Connection
//
// Wire the panel to the microcontroller as usual (I²C or SPI) and connect the
// microcontroller to the host over USB:
//
//	Host USB → Arduino / RP2040 / ESP32 → SSD1306
//
// The firmware reads the header, then W*(H/8) bytes, pushes them to the
// display and writes 0xAC back.
//
// # Basic Usage
//
//	package main
//
//	import (
//		"context"
//		"image"
//
//		"github.com/flavioheleno/monostream"
//		"github.com/flavioheleno/monostream/dither"
//		"github.com/flavioheleno/monostream/transport"
//	)
//
//	func main() {
//		t, _ := transport.OpenSerial(context.Background(), transport.Config{
//			Port: "/dev/ttyACM0",
//		})
//
//		dev, _ := monostream.New(t, &monostream.Opts{
//			W:         128,
//			H:         64,
//			Algorithm: dither.Atkinson,
//		})
//		defer dev.Halt()
//
//		img := image.NewRGBA(dev.Bounds())
//		// ... draw something ...
//		dev.Draw(dev.Bounds(), img, image.Point{})
//	}
//
// # Drawing Modes
//
// ## Packed Frames
//
// Write sends a frame that is already dithered and packed, for example the
// Pix of an image1bit.VerticalLSB:
//
//	frame := image1bit.NewVerticalLSB(dev.Bounds())
//	// ... set bits ...
//	dev.Write(frame.Pix)
//
// ## Color Images
//
// Draw accepts any image. It is placed on a black frame, dithered with the
// algorithm from Opts and packed before sending. Draw does not scale; use
// source.Fit to letterbox larger images first.
//
// # Acknowledgment Timeout
//
// Opts.AckTimeout bounds the wait for 0xAC (2s in DefaultOpts). When it
// elapses Write returns ErrAckTimeout and the device is halted: the link
// state is unknown and the transport must be reopened. An AckTimeout of zero
// waits forever, matching firmware that may stall for long periods.
//
// # Display Resolution
//
//	Opts{W: 128, H: 64} // 128×64 (most common)
//	Opts{W: 128, H: 32} // 128×32
//	Opts{W: 96, H: 16}  // 96×16
//
// Width must be between 1 and 1024 and height between 8 and 1024. Rows past
// the last complete page are not sent.
//
// # Compatibility with periph.io
//
// Dev implements display.Drawer from periph.io:
// https://pkg.go.dev/periph.io/x/conn/v3/display
//
// Any periph.io conn.Conn can carry the frames through transport.NewConn.
package monostream
