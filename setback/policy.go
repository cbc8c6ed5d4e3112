package setback

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/log"
)

// Policy decides the setback distance at each pixel. With Regulations and a
// Regions layer the distance comes from the pixel's region; otherwise one
// uniform distance, Base (or the turbine tip height) times Multiplier,
// applies everywhere.
type Policy struct {
	Base       float64 // meters; 0 derives the base from Turbine
	Turbine    *Turbine
	Multiplier float64 // 0 means 1

	Regulations *Regulations
	Regions     *grid.Layer // region id per pixel, e.g. county FIPS
	// Default applies to regions missing from Regulations; nil leaves them
	// without setback.
	Default *float64
}

func (p Policy) regional() bool {
	return p.Regulations != nil
}

// Uniform is the distance used when no regulations are given.
func (p Policy) Uniform() (float64, error) {
	base := p.Base
	if base < 0 {
		return 0, fmt.Errorf("%w: negative base setback %v", ErrConfig, base)
	}
	if base == 0 {
		if p.Turbine == nil {
			return 0, fmt.Errorf("%w: need a base setback distance or turbine geometry", ErrConfig)
		}
		if err := p.Turbine.Validate(); err != nil {
			return 0, err
		}
		base = p.Turbine.TipHeight()
	}
	mult := p.Multiplier
	if mult == 0 {
		mult = 1
	}
	if mult < 0 {
		return 0, fmt.Errorf("%w: negative multiplier %v", ErrConfig, mult)
	}
	return base * mult, nil
}

// Distances resolves the setback of every pixel of g; 0 means none.
func (p Policy) Distances(g grid.Grid) (dist []float64, err error) {
	dist = make([]float64, g.Cells())
	if !p.regional() {
		var d float64
		if d, err = p.Uniform(); err != nil {
			return
		}
		for i := range dist {
			dist[i] = d
		}
		return
	}

	if p.Regions == nil {
		err = fmt.Errorf("%w: regulations need a region layer", ErrConfig)
		return
	}
	if err = p.Regions.Conform(g); err != nil {
		return
	}
	if p.Default != nil && *p.Default < 0 {
		err = fmt.Errorf("%w: negative default setback %v", ErrConfig, *p.Default)
		return
	}
	if p.Multiplier != 0 && p.Multiplier != 1 {
		log.Warn(logTag+"multiplier is ignored when regulations are given", zap.Float64("multiplier", p.Multiplier))
	}
	byRegion, err := p.Regulations.Distances(p.Turbine)
	if err != nil {
		return
	}
	band, err := p.Regions.Band(0)
	if err != nil {
		return
	}
	missing := 0
	for i, v := range band {
		if !p.Regions.IsNoData(v) && v == math.Trunc(v) {
			if d, ok := byRegion[int64(v)]; ok {
				dist[i] = d
				continue
			}
		}
		missing++
		if p.Default != nil {
			dist[i] = *p.Default
		}
	}
	log.Debug(logTag+"regional distances resolved",
		zap.Int("regions", len(byRegion)), zap.Int("pixelsWithoutRegulation", missing))
	return
}
