// Package grid defines the raster lattice shared by every layer of a store:
// the template Grid, raster file Profiles and named Layers.
package grid

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// Grid is an immutable 2-D pixel lattice: size, affine transform, CRS (WKT)
// and the no-data sentinel. All layers of a store conform to one Grid.
type Grid struct {
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Transform Transform `json:"transform"`
	CRS       string    `json:"crs"`
	NoData    float64   `json:"nodata"`
}

func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidGrid, g.Width, g.Height)
	}
	if g.Transform[1]*g.Transform[5]-g.Transform[2]*g.Transform[4] == 0 {
		return fmt.Errorf("%w: degenerate transform %v", ErrInvalidGrid, g.Transform)
	}
	return nil
}

func (g Grid) Shape() (h, w int) {
	return g.Height, g.Width
}

func (g Grid) Cells() int {
	return g.Width * g.Height
}

// Index of (row, col) in row-major order.
func (g Grid) Index(row, col int) int {
	return row*g.Width + col
}

// Conforms reports whether o describes the same lattice: identical size and
// CRS, and a transform equal up to a millionth of a pixel.
func (g Grid) Conforms(o Grid) bool {
	if g.Width != o.Width || g.Height != o.Height {
		return false
	}
	if !SameCRS(g.CRS, o.CRS) {
		return false
	}
	dx, dy := g.Transform.Resolution()
	return g.Transform.AlmostEqual(o.Transform, 1e-6*math.Max(dx, dy))
}

// SameCRS compares two WKT strings ignoring surrounding whitespace. An empty
// CRS only matches another empty CRS.
func SameCRS(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

func (g Grid) Resolution() (dx, dy float64) {
	return g.Transform.Resolution()
}

func (g Grid) PixelArea() float64 {
	dx, dy := g.Resolution()
	return dx * dy
}

func (g Grid) PixelCenter(row, col int) orb.Point {
	x, y := g.Transform.PixelCenter(col, row)
	return orb.Point{x, y}
}

// PixelBounds is the map-unit bound of pixel (row, col). For rotated
// transforms it is the bound of the rotated cell.
func (g Grid) PixelBounds(row, col int) orb.Bound {
	x0, y0 := g.Transform.Pixel(float64(col), float64(row))
	x1, y1 := g.Transform.Pixel(float64(col+1), float64(row+1))
	b := orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x0, y0}}.Extend(orb.Point{x1, y1})
	if !g.Transform.NorthUp() {
		x2, y2 := g.Transform.Pixel(float64(col+1), float64(row))
		x3, y3 := g.Transform.Pixel(float64(col), float64(row+1))
		b = b.Extend(orb.Point{x2, y2}).Extend(orb.Point{x3, y3})
	}
	return b
}

// Bounds is the map-unit extent of the whole grid.
func (g Grid) Bounds() orb.Bound {
	b := orb.Bound{}
	first := true
	for _, c := range [4][2]int{{0, 0}, {g.Width, 0}, {0, g.Height}, {g.Width, g.Height}} {
		x, y := g.Transform.Pixel(float64(c[0]), float64(c[1]))
		p := orb.Point{x, y}
		if first {
			b = orb.Bound{Min: p, Max: p}
			first = false
			continue
		}
		b = b.Extend(p)
	}
	return b
}

// Upscale returns the grid with f×f sub-pixels per pixel over the same extent.
func (g Grid) Upscale(f int) Grid {
	if f <= 1 {
		return g
	}
	u := g
	u.Width *= f
	u.Height *= f
	u.Transform = g.Transform.Scale(f)
	return u
}

// Window returns the sub-grid of size w×h starting at pixel (xoff, yoff).
func (g Grid) Window(xoff, yoff, w, h int) (sub Grid, err error) {
	if xoff < 0 || yoff < 0 || w <= 0 || h <= 0 || xoff+w > g.Width || yoff+h > g.Height {
		err = fmt.Errorf("%w: window %d,%d %dx%d outside %dx%d", ErrInvalidGrid, xoff, yoff, w, h, g.Width, g.Height)
		return
	}
	sub = g
	sub.Width = w
	sub.Height = h
	sub.Transform = g.Transform.Window(xoff, yoff)
	return
}
