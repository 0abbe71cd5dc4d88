package source

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"time"
)

// GIF yields the frames of an animated GIF, composited the way a browser
// shows them.
type GIF struct {
	g *gif.GIF

	canvas   *image.RGBA
	previous *image.RGBA
	next     int
}

// OpenGIF decodes the animation at path.
func OpenGIF(path string) (*GIF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	defer f.Close()
	return DecodeGIF(f)
}

// DecodeGIF decodes an animation from r.
func DecodeGIF(r io.Reader) (*GIF, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("source: decode gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("source: decode gif: no frames")
	}
	s := &GIF{g: g}
	s.Rewind()
	return s, nil
}

// Len returns the number of frames.
func (s *GIF) Len() int { return len(s.g.Image) }

// Delay returns how long frame i is shown.
func (s *GIF) Delay(i int) time.Duration {
	if i < 0 || i >= len(s.g.Delay) {
		return 0
	}
	return time.Duration(s.g.Delay[i]) * 10 * time.Millisecond
}

func (s *GIF) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.g.Image) {
		return nil, io.EOF
	}

	if s.next > 0 {
		s.dispose(s.next - 1)
	}
	if s.disposal(s.next) == gif.DisposalPrevious {
		s.previous = cloneRGBA(s.canvas)
	}

	frame := s.g.Image[s.next]
	draw.Draw(s.canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
	s.next++
	return cloneRGBA(s.canvas), nil
}

// dispose undoes frame i according to its disposal method before the next
// frame is drawn.
func (s *GIF) dispose(i int) {
	switch s.disposal(i) {
	case gif.DisposalBackground:
		draw.Draw(s.canvas, s.g.Image[i].Bounds(), image.Transparent, image.Point{}, draw.Src)
	case gif.DisposalPrevious:
		if s.previous != nil {
			copy(s.canvas.Pix, s.previous.Pix)
		}
	}
}

func (s *GIF) disposal(i int) byte {
	if i < len(s.g.Disposal) {
		return s.g.Disposal[i]
	}
	return gif.DisposalNone
}

func (s *GIF) Rewind() error {
	r := image.Rect(0, 0, s.g.Config.Width, s.g.Config.Height)
	if r.Empty() {
		r = s.g.Image[0].Bounds()
	}
	s.canvas = image.NewRGBA(r)
	s.previous = nil
	s.next = 0
	return nil
}

func (s *GIF) Close() error { return nil }

func cloneRGBA(img *image.RGBA) *image.RGBA {
	out := &image.RGBA{
		Pix:    make([]byte, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(out.Pix, img.Pix)
	return out
}
