package dither

import (
	"image"
	"math"
)

// threshold lights pixels brighter than a fixed cutoff.
func threshold(img *image.RGBA, p Params) {
	cutoff := math.Round(p.Threshold / 100 * 255)
	eachPixel(img, func(_, _ int, luma float64, _ []uint8) bool {
		return luma > cutoff
	})
}

// Matrix is a square ordered-dithering table with values in [0, N²).
type Matrix [][]int

// Size returns N.
func (m Matrix) Size() int { return len(m) }

var (
	bayer2 = Matrix{
		{0, 2},
		{3, 1},
	}
	bayer4 = Matrix{
		{0, 8, 2, 10},
		{12, 4, 14, 6},
		{3, 11, 1, 9},
		{15, 7, 13, 5},
	}
	bayer8 = Matrix{
		{0, 32, 8, 40, 2, 34, 10, 42},
		{48, 16, 56, 24, 50, 18, 58, 26},
		{12, 44, 4, 36, 14, 46, 6, 38},
		{60, 28, 52, 20, 62, 30, 54, 22},
		{3, 35, 11, 43, 1, 33, 9, 41},
		{51, 19, 59, 27, 49, 17, 57, 25},
		{15, 47, 7, 39, 13, 45, 5, 37},
		{63, 31, 55, 23, 61, 29, 53, 21},
	}
)

// Ordered returns an algorithm tiling m over the image: a pixel is lit when
// luma/255 > m[y mod N][x mod N] / N².
func Ordered(m Matrix) Func {
	return ordered(m)
}

func ordered(m Matrix) Func {
	n := m.Size()
	levels := float64(n * n)
	return func(img *image.RGBA, _ Params) {
		eachPixel(img, func(x, y int, luma float64, _ []uint8) bool {
			return luma/255 > float64(m[y%n][x%n])/levels
		})
	}
}

// random compares each pixel against an independent uniform draw in [0, 255).
func random(img *image.RGBA, p Params) {
	src := p.rand()
	eachPixel(img, func(_, _ int, luma float64, _ []uint8) bool {
		return luma > src.Float64()*255
	})
}

const (
	lowStripe  = 100
	highStripe = 160
)

// line alternates the threshold between 100 and 160 on column parity
// (vertical) or row parity (horizontal).
func line(img *image.RGBA, p Params) {
	horizontal := p.Direction == Horizontal
	eachPixel(img, func(x, y int, luma float64, _ []uint8) bool {
		k := x
		if horizontal {
			k = y
		}
		if k%2 == 0 {
			return luma > lowStripe
		}
		return luma > highStripe
	})
}

func lineHorizontal(img *image.RGBA, p Params) {
	p.Direction = Horizontal
	line(img, p)
}

// huePatterns are indexed by hue sextant.
var huePatterns = [6]func(x, y int) bool{
	func(x, y int) bool { return (x+y)%2 == 0 }, // checkerboard
	func(x, _ int) bool { return x%2 == 0 },
	func(_, y int) bool { return y%2 == 0 },
	func(x, y int) bool { return (x+y)%3 == 0 },
	func(x, _ int) bool { return x%3 == 0 },
	func(_, y int) bool { return y%3 == 0 },
}

// HueSextant returns the 60° hue sector (0-5) of an RGB color using the HSL
// hue formula. Achromatic colors map to 0.
func HueSextant(r, g, b uint8) int {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	mx := max(rf, gf, bf)
	mn := min(rf, gf, bf)
	if mx == mn {
		return 0
	}
	d := mx - mn
	var h float64
	switch mx {
	case rf:
		h = math.Mod((gf-bf)/d, 6)
		if h < 0 {
			h += 6
		}
	case gf:
		h = (bf-rf)/d + 2
	default:
		h = (rf-gf)/d + 4
	}
	return int(h) % 6
}

// huePattern picks a spatial pattern by hue sextant and thresholds luma at
// 100 where the pattern is set and 160 elsewhere.
func huePattern(img *image.RGBA, _ Params) {
	eachPixel(img, func(x, y int, luma float64, px []uint8) bool {
		if huePatterns[HueSextant(px[0], px[1], px[2])](x, y) {
			return luma > lowStripe
		}
		return luma > highStripe
	})
}

// IGN returns the interleaved gradient noise value in [0, 1) for a pixel and
// frame index.
func IGN(x, y int, frame uint64) float64 {
	_, f := math.Modf(float64(x)*0.06711056 + float64(y)*0.00583715 + float64(frame)*0.00428772)
	_, n := math.Modf(52.9829189 * f)
	return n
}

// interleavedGradientNoise adds IGN remapped to [-127.5, 127.5] to the luma
// and thresholds at the midpoint.
func interleavedGradientNoise(img *image.RGBA, p Params) {
	eachPixel(img, func(x, y int, luma float64, _ []uint8) bool {
		return luma+(IGN(x, y, p.FrameIndex)*255-127.5) > 127.5
	})
}
