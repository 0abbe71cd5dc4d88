// Package source provides the frames a stream is made of: video files,
// screen and webcam capture through ffmpeg, animated GIFs, still images and a
// synthetic gradient test pattern.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // decoders for Images
	_ "image/png"
	"io"
	"math"
	"os"

	"github.com/disintegration/gift"
)

// Source yields frames in order.
//
// Next returns io.EOF once the source is exhausted. A source that is
// rewound starts over from its first frame. Images returned by Next belong to
// the caller.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	Rewind() error
	Close() error
}

// Fit scales img to fit a w×h frame keeping its aspect ratio and centers it
// on an opaque black background.
func Fit(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)

	sb := img.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw <= 0 || sh <= 0 || w <= 0 || h <= 0 {
		return dst
	}

	// Wider than the target: full width, bars above and below.
	var dw, dh, ox, oy int
	if sw*h > w*sh {
		dw = w
		dh = max(1, w*sh/sw)
		oy = (h - dh) / 2
	} else {
		dh = h
		dw = max(1, h*sw/sh)
		ox = (w - dw) / 2
	}

	g := gift.New()
	if dw != sw || dh != sh {
		g.Add(gift.Resize(dw, dh, gift.LinearResampling))
	}
	g.DrawAt(dst, img, image.Pt(ox, oy), gift.OverOperator)
	return dst
}

// Gradient is a single synthetic frame: a horizontal black to white ramp with
// a circle of the inverted ramp in the middle. It exercises both the smooth
// tones and the hard edges of a dithering algorithm.
type Gradient struct {
	w, h int
	done bool
}

// NewGradient returns a w×h gradient source.
func NewGradient(w, h int) *Gradient {
	return &Gradient{w: w, h: h}
}

// Image renders the pattern.
func (g *Gradient) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.w, g.h))
	radius := float64(g.h) * 0.25
	cx, cy := float64(g.w)/2, float64(g.h)/2

	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			v := uint8(0)
			if g.w > 1 {
				v = uint8(math.Round(float64(x) / float64(g.w-1) * 255))
			}
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= radius*radius {
				v = 255 - v
			}
			i := img.PixOffset(x, y)
			img.Pix[i] = v
			img.Pix[i+1] = v
			img.Pix[i+2] = v
			img.Pix[i+3] = 0xFF
		}
	}
	return img
}

// Next returns the pattern once, then io.EOF.
func (g *Gradient) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.done {
		return nil, io.EOF
	}
	g.done = true
	return g.Image(), nil
}

func (g *Gradient) Rewind() error {
	g.done = false
	return nil
}

func (g *Gradient) Close() error { return nil }

// Images yields still image files in order. PNG, JPEG and GIF (first frame)
// are supported.
type Images struct {
	paths []string
	next  int
}

// NewImages returns a source over paths. The files are read lazily.
func NewImages(paths ...string) (*Images, error) {
	if len(paths) == 0 {
		return nil, errors.New("source: no images")
	}
	return &Images{paths: paths}, nil
}

func (s *Images) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.next]
	s.next++
	return decodeFile(path)
}

func (s *Images) Rewind() error {
	s.next = 0
	return nil
}

func (s *Images) Close() error { return nil }

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("source: decode %s: %w", path, err)
	}
	return img, nil
}
