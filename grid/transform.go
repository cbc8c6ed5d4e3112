package grid

import "math"

// Transform is an affine pixel-to-map transform in GDAL geotransform order:
//
//	x = T[0] + col*T[1] + row*T[2]
//	y = T[3] + col*T[4] + row*T[5]
type Transform [6]float64

// Pixel returns the map coordinate of the top-left corner of (col, row).
func (t Transform) Pixel(col, row float64) (x, y float64) {
	x = t[0] + col*t[1] + row*t[2]
	y = t[3] + col*t[4] + row*t[5]
	return
}

func (t Transform) PixelCenter(col, row int) (x, y float64) {
	return t.Pixel(float64(col)+0.5, float64(row)+0.5)
}

func (t Transform) Resolution() (dx, dy float64) {
	dx = math.Hypot(t[1], t[4])
	dy = math.Hypot(t[2], t[5])
	return
}

func (t Transform) NorthUp() bool {
	return t[2] == 0 && t[4] == 0
}

// ToPixel maps a coordinate back to fractional (col, row). ok is false for a
// degenerate transform.
func (t Transform) ToPixel(x, y float64) (col, row float64, ok bool) {
	det := t[1]*t[5] - t[2]*t[4]
	if det == 0 {
		return
	}
	dx := x - t[0]
	dy := y - t[3]
	col = (dx*t[5] - dy*t[2]) / det
	row = (dy*t[1] - dx*t[4]) / det
	ok = true
	return
}

// Window returns the transform of the sub-window whose top-left pixel is
// (xoff, yoff) in t.
func (t Transform) Window(xoff, yoff int) Transform {
	x, y := t.Pixel(float64(xoff), float64(yoff))
	return Transform{x, t[1], t[2], y, t[4], t[5]}
}

// Scale returns the transform of a grid with f times finer pixels covering
// the same extent.
func (t Transform) Scale(f int) Transform {
	s := 1 / float64(f)
	return Transform{t[0], t[1] * s, t[2] * s, t[3], t[4] * s, t[5] * s}
}

func (t Transform) AlmostEqual(o Transform, tol float64) bool {
	for i := range t {
		if math.Abs(t[i]-o[i]) > tol {
			return false
		}
	}
	return true
}
