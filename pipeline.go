package sitelab

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/log"
	"github.com/wgdzlh/sitelab/mask"
	"github.com/wgdzlh/sitelab/setback"
	"github.com/wgdzlh/sitelab/store"
)

// Output names where a computed layer goes: a store layer, a GeoTIFF, both
// or neither.
type Output struct {
	Layer   string `json:"layer,omitempty"`
	Path    string `json:"fpath,omitempty"`
	Replace bool   `json:"replace,omitempty"`
}

func (g *Toolbox) save(s *store.Store, l *grid.Layer, out Output) (err error) {
	if out.Layer != "" {
		l.Name = out.Layer
		if err = s.WriteLayer(l, out.Replace); err != nil {
			return
		}
	}
	if out.Path != "" {
		p := grid.ForGrid(s.Template(), l.DataType, l.Bands)
		p.NoData = l.NoData
		if err = g.WriteRaster(out.Path, l, p); err != nil {
			return
		}
	}
	return
}

// ComputeMask composes an inclusion mask from rules over the store's layers.
func (g *Toolbox) ComputeMask(s *store.Store, rules mask.RuleSet, opts mask.Options, out Output) (l *grid.Layer, err error) {
	if opts.Name == "" {
		opts.Name = out.Layer
	}
	if l, err = mask.Compose(s, rules, opts); err != nil {
		return
	}
	if err = g.save(s, l, out); err != nil {
		return
	}
	st := mask.Summarize(l.Data)
	log.Info(g.logTag+"mask computed", zap.Strings("layers", rules.Names()),
		zap.Int("included", st.Included), zap.Int("partial", st.Partial), zap.Int("excluded", st.Excluded),
		zap.Float64("fraction", st.Fraction))
	return
}

// ComputeSetbacks resolves the setback config against features on the
// store's template and returns the inclusion layer.
func (g *Toolbox) ComputeSetbacks(s *store.Store, features []Feature, cfg setback.Config, out Output) (l *grid.Layer, err error) {
	if err = cfg.Validate(); err != nil {
		return
	}
	var regions *grid.Layer
	if cfg.RegulationsFPath != "" {
		if regions, err = s.ReadLayer(cfg.RegionLayer); err != nil {
			err = fmt.Errorf("region layer: %w", err)
			return
		}
	}
	p, err := cfg.Policy(regions)
	if err != nil {
		return
	}
	t := s.Template()
	inc, err := setback.Compute(features, t, p, cfg.Options())
	if err != nil {
		return
	}
	name := out.Layer
	if name == "" {
		name = "setbacks"
	}
	if l, err = grid.FromBand(name, grid.Float32, t, inc); err != nil {
		return
	}
	l.NoData = nil
	if err = g.save(s, l, out); err != nil {
		return
	}
	st := mask.Summarize(inc)
	log.Info(g.logTag+"setbacks computed", zap.Int("features", len(features)),
		zap.Int("excluded", st.Excluded), zap.Int("partial", st.Partial), zap.Float64("fraction", st.Fraction))
	return
}
