package sitelab

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wgdzlh/sitelab/log"
	"github.com/wgdzlh/sitelab/store"
)

// CreateStore creates a layered store whose template is the lattice of the
// raster at templatePath, with per-pixel WGS84 coordinates.
func (g *Toolbox) CreateStore(storePath, templatePath string) (s *store.Store, err error) {
	t, err := g.TemplateFromRaster(templatePath)
	if err != nil {
		return
	}
	lat, lon, err := g.Coordinates(t)
	if err != nil {
		return
	}
	if s, err = store.Create(storePath, t, lat, lon); err != nil {
		return
	}
	log.Info(g.logTag+"store created from template", zap.String("store", storePath),
		zap.String("template", templatePath))
	return
}

// LayersToStore warps every source onto the store's template and writes it
// under its map key. Layers are written one by one in name order; a failure
// leaves the layers already written in place.
func (g *Toolbox) LayersToStore(s *store.Store, sources map[string]LayerSource, replace bool) (err error) {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	t := s.Template()
	for _, name := range names {
		src := sources[name]
		if store.IsReserved(name) {
			return fmt.Errorf("%w: %q", store.ErrReservedLayer, name)
		}
		if !replace {
			var ok bool
			if ok, err = s.Has(name); err != nil {
				return
			}
			if ok {
				return fmt.Errorf("%w: %q", store.ErrLayerExists, name)
			}
		}
		l, werr := g.WarpToTemplate(src.Path, t, src.Resampling)
		if werr != nil {
			return fmt.Errorf("layer %q: %w", name, werr)
		}
		l.Name = name
		if src.Description != "" {
			l.Description = src.Description
		}
		if err = s.WriteLayer(l, replace); err != nil {
			return fmt.Errorf("layer %q: %w", name, err)
		}
		resampling := src.Resampling
		if resampling == "" {
			resampling = DefaultResampling
		}
		for k, v := range map[string]string{
			ATTR_SOURCE:     src.Path,
			ATTR_RESAMPLING: resampling,
			ATTR_DTYPE:      l.DataType.String(),
		} {
			if err = s.SetAttr(name, k, v); err != nil {
				return
			}
		}
		log.Info(g.logTag+"layer stored", zap.String("layer", name), zap.String("source", src.Path))
	}
	return
}

// LayersFromStore extracts layers to GeoTIFF files keyed by layer name. The
// files carry the store's grid, so a round trip through LayersToStore is
// lossless.
func (g *Toolbox) LayersFromStore(s *store.Store, outputs map[string]string) (err error) {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		l, rerr := s.ReadLayer(name)
		if rerr != nil {
			return rerr
		}
		p, perr := s.Profile(name)
		if perr != nil {
			return perr
		}
		if err = g.WriteRaster(outputs[name], l, p); err != nil {
			return fmt.Errorf("layer %q: %w", name, err)
		}
	}
	log.Info(g.logTag+"layers extracted", zap.Int("layers", len(names)), zap.String("store", s.Path()))
	return
}
