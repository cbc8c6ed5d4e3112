// Package preview renders layers as PNG heat maps for quick inspection.
package preview

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/log"
)

const (
	logTag       = "Preview:"
	paletteSize  = 64
	plotWidth    = 8 * vg.Inch
	maxPlotRatio = 4.0
)

// bandGrid exposes band 0 of a layer as a plotter.GridXYZ with row 0 at
// the bottom, so y increases with r on north-up grids.
type bandGrid struct {
	band []float64
	l    *grid.Layer
	g    grid.Grid
}

func (b bandGrid) Dims() (c, r int) {
	return b.l.Width, b.l.Height
}

func (b bandGrid) Z(c, r int) float64 {
	v := b.band[(b.l.Height-1-r)*b.l.Width+c]
	if b.l.IsNoData(v) {
		return math.NaN()
	}
	return v
}

func (b bandGrid) X(c int) float64 {
	x, _ := b.g.Transform.PixelCenter(c, 0)
	return x
}

func (b bandGrid) Y(r int) float64 {
	_, y := b.g.Transform.PixelCenter(0, b.l.Height-1-r)
	return y
}

// Render writes band 0 of l on grid g to path as a PNG heat map.
func Render(path string, l *grid.Layer, g grid.Grid, title string) (err error) {
	if err = l.Conform(g); err != nil {
		return
	}
	band, err := l.Band(0)
	if err != nil {
		return
	}
	if filepath.Ext(path) == "" {
		path += ".png"
	}
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	h := plotter.NewHeatMap(bandGrid{band: band, l: l, g: g}, palette.Heat(paletteSize, 1))
	if math.IsInf(h.Min, 0) || math.IsInf(h.Max, 0) {
		h.Min, h.Max = 0, 1
	}
	if h.Min == h.Max {
		h.Max = h.Min + 1
	}
	h.NaN = color.Transparent
	p.Add(h)

	ratio := float64(g.Height) / float64(g.Width)
	ratio = math.Max(1/maxPlotRatio, math.Min(maxPlotRatio, ratio))
	if err = p.Save(plotWidth, vg.Length(ratio)*plotWidth, path); err != nil {
		return fmt.Errorf("failed to save preview %s: %w", path, err)
	}
	log.Info(logTag+"preview written", zap.String("path", path), zap.String("layer", l.Name),
		zap.Float64("min", h.Min), zap.Float64("max", h.Max))
	return
}
