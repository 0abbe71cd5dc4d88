// Package dither reduces color frames to two luminance levels.
//
// Every algorithm shares the [Func] signature and works in place on an
// *image.RGBA: the luma of each pixel (ITU-R BT.601 weights) decides between
// 0 and 255, written to the red, green and blue channels. Alpha is left
// untouched. Algorithms are looked up by [Key] in a registry; unknown keys fall
// back to Floyd-Steinberg.
package dither

import (
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"slices"
	"sync"
)

// Key identifies a dithering algorithm in the registry.
type Key string

const (
	Threshold        Key = "threshold"
	Bayer2           Key = "bayer2"
	Bayer            Key = "bayer"
	Bayer8           Key = "bayer8"
	FloydSteinberg   Key = "floyd"
	Atkinson         Key = "atkinson"
	SierraLite       Key = "sierra-lite"
	Jarvis           Key = "jarvis"
	Stucki           Key = "stucki"
	Random           Key = "random"
	Line             Key = "line"
	LineHorizontal   Key = "line-horizontal"
	Hue              Key = "hue"
	InterleavedNoise Key = "ign"
	None             Key = "none"
)

// Default is used whenever a key is not registered.
const Default = FloydSteinberg

// ErrAlgorithmNotFound is returned by [Lookup] for unregistered keys.
var ErrAlgorithmNotFound = errors.New("dither: algorithm not found")

// Direction selects the stripe orientation of the line algorithm.
type Direction string

const (
	Vertical   Direction = "vertical"
	Horizontal Direction = "horizontal"
)

// IsValid reports whether d is a known direction. The empty value is valid
// and means vertical.
func (d Direction) IsValid() bool {
	switch d {
	case "", Vertical, Horizontal:
		return true
	}
	return false
}

// RandSource provides uniform values in [0, 1).
// *rand.Rand from math/rand/v2 satisfies it.
type RandSource interface {
	Float64() float64
}

// Params carries the per-call inputs some algorithms need.
type Params struct {
	// Threshold is the cutoff percentage for the threshold algorithm, used
	// as given: 0 lights every pixel brighter than black.
	Threshold float64

	// Direction of the line algorithm.
	Direction Direction

	// FrameIndex animates the interleaved gradient noise across frames.
	FrameIndex uint64

	// Rand drives the random algorithm. Nil uses the global source.
	Rand RandSource
}

// DefaultParams is a 50% threshold with vertical lines.
var DefaultParams = Params{
	Threshold: 50,
	Direction: Vertical,
}

func (p Params) rand() RandSource {
	if p.Rand == nil {
		return globalRand{}
	}
	return p.Rand
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Func dithers img in place.
type Func func(img *image.RGBA, p Params)

var (
	mu       sync.RWMutex
	registry = map[Key]Func{
		Threshold:        threshold,
		Bayer2:           ordered(bayer2),
		Bayer:            ordered(bayer4),
		Bayer8:           ordered(bayer8),
		FloydSteinberg:   diffusion(FloydSteinbergKernel),
		Atkinson:         diffusion(AtkinsonKernel),
		SierraLite:       diffusion(SierraLiteKernel),
		Jarvis:           diffusion(JarvisKernel),
		Stucki:           diffusion(StuckiKernel),
		Random:           random,
		Line:             line,
		LineHorizontal:   lineHorizontal,
		Hue:              huePattern,
		InterleavedNoise: interleavedGradientNoise,
		None:             func(*image.RGBA, Params) {},
	}
)

// Register adds fn under key, replacing any previous algorithm.
func Register(key Key, fn Func) {
	if fn == nil {
		panic("dither: Register with nil func")
	}
	mu.Lock()
	defer mu.Unlock()
	registry[key] = fn
}

// Lookup returns the algorithm registered under key.
func Lookup(key Key) (Func, error) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAlgorithmNotFound, key)
	}
	return fn, nil
}

// Keys returns the registered keys in sorted order.
func Keys() []Key {
	mu.RLock()
	defer mu.RUnlock()
	keys := make([]Key, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Resolve returns key when it is registered and [Default] otherwise.
func Resolve(key Key) Key {
	if _, err := Lookup(key); err != nil {
		return Default
	}
	return key
}

// Apply dithers img in place with the algorithm registered under key and
// returns it along with the key that was actually used.
func Apply(img *image.RGBA, key Key, p Params) (*image.RGBA, Key) {
	used := Resolve(key)
	fn, _ := Lookup(used)
	fn(img, p)
	return img, used
}

// Luma returns the perceptual brightness of an 8-bit RGB triple using the
// ITU-R BT.601 weights.
func Luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// eachPixel calls fn with the coordinates (relative to the image origin), the
// luma and the channels of every pixel, and writes back the returned level.
func eachPixel(img *image.RGBA, fn func(x, y int, luma float64, px []uint8) bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			setLevel(px, fn(x, y, Luma(px[0], px[1], px[2]), px))
		}
	}
}

// setLevel writes 255 (on) or 0 (off) into the color channels of px.
func setLevel(px []uint8, on bool) {
	var v uint8
	if on {
		v = 255
	}
	px[0], px[1], px[2] = v, v, v
}
