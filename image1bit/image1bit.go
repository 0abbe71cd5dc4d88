// Package image1bit provides a 1-bit monochrome image format for page-addressed
// display controllers such as the SSD1306 and SSD1309.
//
// Pixels are stored in vertical LSB-first pages: each byte covers 8 vertically
// stacked pixels of one column, bit 0 being the top row of the page.
// This package provides the Bit color type, BitModel and the VerticalLSB image.
package image1bit

import (
	"image"
	"image/color"
)

// Bit represents a 1-bit monochrome color, On (lit) or Off.
type Bit bool

const (
	On  Bit = true
	Off Bit = false
)

// RGBA converts the Bit color to standard RGBA.
func (b Bit) RGBA() (r, g, bl, a uint32) {
	if b {
		return 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF
	}
	return 0, 0, 0, 0xFFFF
}

func (b Bit) String() string {
	if b {
		return "On"
	}
	return "Off"
}

// toBit converts any color.Color to Bit.
func toBit(c color.Color) color.Color {
	if b, ok := c.(Bit); ok {
		return b
	}
	r, g, b, _ := c.RGBA()
	// Standard grayscale conversion: 0.299R + 0.587G + 0.114B
	// RGBA returns 16-bit values, scale down result to 8-bit
	y := (299*r + 587*g + 114*b + 500) / 1000
	return Bit(y>>8 > 127)
}

// BitModel converts colors to Bit.
var BitModel = color.ModelFunc(toBit)

// VerticalLSB is a 1-bit image where pixels are packed in vertical pages.
// Each byte holds 8 rows of one column: bit 0 = top row of the page.
// Bytes are ordered page-major, then column-major within a page.
type VerticalLSB struct {
	Pix    []byte          // Packed pages (1 byte per column per page)
	Stride int             // Bytes per page, equal to the width
	Rect   image.Rectangle // Image bounds
}

// NewVerticalLSB creates a new VerticalLSB image with the specified bounds.
// The height must be a multiple of 8 (one page is 8 rows).
func NewVerticalLSB(r image.Rectangle) *VerticalLSB {
	w, h := r.Dx(), r.Dy()
	if w < 0 || h < 0 {
		return &VerticalLSB{Rect: r}
	}
	if h%8 != 0 {
		panic("image1bit: height must be a multiple of 8")
	}

	return &VerticalLSB{
		Pix:    make([]byte, w*h/8),
		Stride: w,
		Rect:   r,
	}
}

// ColorModel returns the color model of the image.
func (p *VerticalLSB) ColorModel() color.Model {
	return BitModel
}

// Bounds returns the image bounds.
func (p *VerticalLSB) Bounds() image.Rectangle {
	return p.Rect
}

// At returns the color of the pixel at (x, y).
// It implements the image.Image interface.
func (p *VerticalLSB) At(x, y int) color.Color {
	return p.BitAt(x, y)
}

// BitAt returns the Bit of the pixel at (x, y).
func (p *VerticalLSB) BitAt(x, y int) Bit {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return Off
	}
	offset, mask := p.pixOffset(x, y)
	return Bit(p.Pix[offset]&mask != 0)
}

// Set sets the color of the pixel at (x, y).
func (p *VerticalLSB) Set(x, y int, c color.Color) {
	p.SetBit(x, y, BitModel.Convert(c).(Bit))
}

// SetBit sets the Bit of the pixel at (x, y).
// This is faster than Set() as it doesn't require color conversion.
func (p *VerticalLSB) SetBit(x, y int, b Bit) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	offset, mask := p.pixOffset(x, y)
	if b {
		p.Pix[offset] |= mask
	} else {
		p.Pix[offset] &^= mask
	}
}

// pixOffset returns the byte offset and bit mask for the pixel at (x, y).
// Page = row / 8, bit = row % 8 (LSB is the top row of the page).
func (p *VerticalLSB) pixOffset(x, y int) (offset int, mask byte) {
	row := y - p.Rect.Min.Y
	offset = (row/8)*p.Stride + (x - p.Rect.Min.X)
	mask = 1 << uint(row&7)
	return
}

// Pack converts a binarized RGBA frame into page-packed bytes.
//
// A bit is set when the pixel's red channel is above 127; dithered frames
// carry the same 0/255 value in all color channels. Only complete pages are
// packed: when the height is not a multiple of 8 the remaining rows are
// dropped.
func Pack(img *image.RGBA) *VerticalLSB {
	b := img.Bounds()
	w := b.Dx()
	pages := b.Dy() / 8

	dst := &VerticalLSB{
		Pix:    make([]byte, w*pages),
		Stride: w,
		Rect:   image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+pages*8),
	}

	i := 0
	for page := 0; page < pages; page++ {
		for x := 0; x < w; x++ {
			var v byte
			for bit := 0; bit < 8; bit++ {
				y := page*8 + bit
				if img.Pix[y*img.Stride+x*4] > 127 {
					v |= 1 << uint(bit)
				}
			}
			dst.Pix[i] = v
			i++
		}
	}
	return dst
}
