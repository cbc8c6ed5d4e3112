package setback

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/log"
)

const logTag = "Setback:"

type Options struct {
	// UpscaleFactor > 1 produces fractional inclusion: each pixel is split
	// into factor×factor sub-pixels whose centers are tested separately.
	UpscaleFactor int
}

// Compute rasterizes the setback exclusion of features onto g as an
// inclusion layer: 1 included, 0 excluded, fractions in between when
// upscaling. Features are buffered by each distinct setback distance; a
// pixel is excluded when it touches the buffer for its own distance.
func Compute(features []Feature, g grid.Grid, p Policy, opts Options) (inc []float64, err error) {
	if err = g.Validate(); err != nil {
		return
	}
	if opts.UpscaleFactor < 0 {
		err = fmt.Errorf("%w: negative upscale factor %d", ErrConfig, opts.UpscaleFactor)
		return
	}
	dist, err := p.Distances(g)
	if err != nil {
		return
	}
	inc = make([]float64, g.Cells())
	for i := range inc {
		inc[i] = 1
	}
	idx := NewIndex(features)
	maxDist := slices.Max(dist)
	if idx.Len() == 0 || maxDist <= 0 {
		log.Info(logTag+"nothing to exclude", zap.Int("features", idx.Len()), zap.Float64("maxDist", maxDist))
		return
	}

	classes := map[float64][]int{}
	for i, d := range dist {
		if d > 0 {
			classes[d] = append(classes[d], i)
		}
	}
	ds := make([]float64, 0, len(classes))
	for d := range classes {
		ds = append(ds, d)
	}
	slices.Sort(ds)

	f := opts.UpscaleFactor
	excluded, partial := 0, 0
	for _, d := range ds {
		var z *zone
		if z, err = newZone(idx.Near(g.Bounds().Pad(d)), d); err != nil {
			return
		}
		for _, i := range classes[d] {
			row, col := i/g.Width, i%g.Width
			var v float64
			if v, err = z.inclusion(idx, g, row, col, f); err != nil {
				break
			}
			inc[i] = v
			switch {
			case v == 0:
				excluded++
			case v < 1:
				partial++
			}
		}
		z.Close()
		if err != nil {
			return
		}
		log.Debug(logTag+"distance class done", zap.Float64("dist", d), zap.Int("pixels", len(classes[d])))
	}
	log.Info(logTag+"setbacks computed",
		zap.Int("features", idx.Len()),
		zap.Int("distances", len(ds)),
		zap.Float64("maxDist", maxDist),
		zap.Int("upscale", f),
		zap.Int("excluded", excluded),
		zap.Int("partial", partial))
	return
}

// inclusion of pixel (row, col): 0 or 1 when f <= 1, otherwise the
// fraction of its f×f sub-pixel centers outside the zone.
func (z *zone) inclusion(idx *Index, g grid.Grid, row, col, f int) (v float64, err error) {
	cell := g.PixelBounds(row, col)
	near := idx.Near(cell.Pad(z.dist))
	hit, err := z.hits(near, cell.ToPolygon())
	if err != nil || !hit {
		return 1, err
	}
	if f <= 1 {
		return 0, nil
	}
	kept := 0
	step := 1 / float64(f)
	for sr := 0; sr < f; sr++ {
		for sc := 0; sc < f; sc++ {
			x, y := g.Transform.Pixel(float64(col)+(float64(sc)+0.5)*step, float64(row)+(float64(sr)+0.5)*step)
			if hit, err = z.hits(near, orb.Point{x, y}); err != nil {
				return
			}
			if !hit {
				kept++
			}
		}
	}
	v = float64(kept) / float64(f*f)
	return
}
