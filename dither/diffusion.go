package dither

import "image"

// Tap is one entry of an error-diffusion kernel: the share of the
// quantization error pushed to the pixel at (x+DX, y+DY).
type Tap struct {
	DX, DY int
	Weight float64
}

// Kernel lists the taps of an error-diffusion algorithm. All taps point
// forward in raster order (DY > 0, or DY == 0 and DX > 0).
type Kernel []Tap

// Sum returns the fraction of the error the kernel distributes.
func (k Kernel) Sum() float64 {
	var s float64
	for _, t := range k {
		s += t.Weight
	}
	return s
}

func taps(div float64, t ...[3]int) Kernel {
	k := make(Kernel, len(t))
	for i, v := range t {
		k[i] = Tap{DX: v[0], DY: v[1], Weight: float64(v[2]) / div}
	}
	return k
}

var (
	FloydSteinbergKernel = taps(16,
		[3]int{1, 0, 7},
		[3]int{-1, 1, 3}, [3]int{0, 1, 5}, [3]int{1, 1, 1},
	)

	// AtkinsonKernel spreads 6/8 of the error; the remaining quarter is
	// dropped on purpose, which raises contrast.
	AtkinsonKernel = taps(8,
		[3]int{1, 0, 1}, [3]int{2, 0, 1},
		[3]int{-1, 1, 1}, [3]int{0, 1, 1}, [3]int{1, 1, 1},
		[3]int{0, 2, 1},
	)

	SierraLiteKernel = taps(4,
		[3]int{1, 0, 2},
		[3]int{-1, 1, 1}, [3]int{0, 1, 1},
	)

	JarvisKernel = taps(48,
		[3]int{1, 0, 7}, [3]int{2, 0, 5},
		[3]int{-2, 1, 3}, [3]int{-1, 1, 5}, [3]int{0, 1, 7}, [3]int{1, 1, 5}, [3]int{2, 1, 3},
		[3]int{-2, 2, 1}, [3]int{-1, 2, 3}, [3]int{0, 2, 5}, [3]int{1, 2, 3}, [3]int{2, 2, 1},
	)

	StuckiKernel = taps(42,
		[3]int{1, 0, 8}, [3]int{2, 0, 4},
		[3]int{-2, 1, 2}, [3]int{-1, 1, 4}, [3]int{0, 1, 8}, [3]int{1, 1, 4}, [3]int{2, 1, 2},
		[3]int{-2, 2, 1}, [3]int{-1, 2, 2}, [3]int{0, 2, 4}, [3]int{1, 2, 2}, [3]int{2, 2, 1},
	)
)

// Diffuse runs a raster error-diffusion pass over a width×height luma buffer.
//
// Pixels are visited row by row, left to right. Each one is quantized to 0 or
// 255 (lit above 127), the buffer entry is replaced by the quantized value and
// the residual error is added to the in-bounds kernel taps. Later pixels read
// the error already injected by earlier ones, so the scan must stay
// sequential. The residual error of every pixel is returned.
func (k Kernel) Diffuse(luma []float64, width, height int) []float64 {
	residual := make([]float64, len(luma))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			old := luma[i]
			var q float64
			if old > 127 {
				q = 255
			}
			luma[i] = q
			e := old - q
			residual[i] = e
			k.spread(luma, width, height, x, y, e)
		}
	}
	return residual
}

// spread adds e*weight to every in-bounds tap around (x, y) and returns the
// total amount injected.
func (k Kernel) spread(luma []float64, width, height, x, y int, e float64) float64 {
	var total float64
	for _, t := range k {
		nx, ny := x+t.DX, y+t.DY
		if nx < 0 || nx >= width || ny >= height {
			continue
		}
		luma[ny*width+nx] += e * t.Weight
		total += e * t.Weight
	}
	return total
}

// ErrorDiffusion returns an algorithm diffusing quantization error with k.
func ErrorDiffusion(k Kernel) Func {
	return diffusion(k)
}

func diffusion(k Kernel) Func {
	return func(img *image.RGBA, _ Params) {
		w, h := img.Rect.Dx(), img.Rect.Dy()
		gray := make([]float64, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				px := img.Pix[y*img.Stride+x*4:]
				gray[y*w+x] = Luma(px[0], px[1], px[2])
			}
		}

		k.Diffuse(gray, w, h)

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				setLevel(img.Pix[y*img.Stride+x*4:], gray[y*w+x] > 127)
			}
		}
	}
}
