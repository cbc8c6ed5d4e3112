// Package sitelab ingests rasters and vector features through GDAL, assembles
// them into a layered store on a template grid, and drives the mask and
// setback computations over that store.
package sitelab

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"go.uber.org/zap"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/log"
)

func init() {
	godal.RegisterAll()
}

type Toolbox struct {
	refMap map[string]*godal.SpatialRef
	rLock  sync.Mutex
	tmpDir string
	logTag string
}

// GDAL objects allocated in C, released with Close.
type destroyable interface {
	Close()
}

// NewToolbox takes an optional directory for temporary files (the system
// temp dir when omitted).
func NewToolbox(tmpDir ...string) *Toolbox {
	g := &Toolbox{
		refMap: map[string]*godal.SpatialRef{},
		tmpDir: os.TempDir(),
		logTag: "Toolbox:",
	}
	if len(tmpDir) > 0 && tmpDir[0] != "" {
		g.tmpDir = tmpDir[0]
	}
	return g
}

// Close releases the cached spatial references.
func (g *Toolbox) Close() {
	g.rLock.Lock()
	defer g.rLock.Unlock()
	for k, ref := range g.refMap {
		ref.Close()
		delete(g.refMap, k)
	}
}

// NormalizeCRS strips legacy "+init=" prefixes, e.g. "+init=epsg:5070".
func NormalizeCRS(crs string) string {
	return strings.TrimSpace(strings.ReplaceAll(crs, "+init=", ""))
}

// getSpatialRef returns the cached reference for an EPSG code ("EPSG:5070"),
// a PROJ string or WKT. Cached refs are shared and must not be closed.
func (g *Toolbox) getSpatialRef(crs string) (ref *godal.SpatialRef, err error) {
	key := NormalizeCRS(crs)
	if key == "" {
		err = ErrVoidSRS
		return
	}
	g.rLock.Lock()
	defer g.rLock.Unlock()
	if ref = g.refMap[key]; ref != nil {
		return
	}
	switch upper := strings.ToUpper(key); {
	case strings.HasPrefix(upper, "EPSG:"):
		var code int
		if code, err = strconv.Atoi(key[len("EPSG:"):]); err != nil {
			err = fmt.Errorf("%w: bad epsg code in %q", ErrVoidSRS, crs)
			return
		}
		ref, err = godal.NewSpatialRefFromEPSG(code)
	case strings.HasPrefix(key, "+proj"):
		ref, err = godal.NewSpatialRefFromProj4(key)
	default:
		ref, err = godal.NewSpatialRefFromWKT(key)
	}
	if err != nil {
		log.Error(g.logTag+"create spatial ref failed", zap.String("crs", key), zap.Error(err))
		return
	}
	g.refMap[key] = ref
	return
}

func epsg(code int) string {
	return "EPSG:" + strconv.Itoa(code)
}

// Coordinates returns the WGS84 latitude and longitude of every pixel
// center of t, row-major.
func (g *Toolbox) Coordinates(t grid.Grid) (lat, lon []float64, err error) {
	if err = t.Validate(); err != nil {
		return
	}
	src, err := g.getSpatialRef(t.CRS)
	if err != nil {
		return
	}
	dst, err := g.getSpatialRef(epsg(WGS84_SRID))
	if err != nil {
		return
	}
	trn, err := godal.NewTransform(src, dst)
	if err != nil {
		log.Error(g.logTag+"create coordinate transform failed", zap.Error(err))
		return
	}
	defer trn.Close()

	n := t.Cells()
	lon = make([]float64, n)
	lat = make([]float64, n)
	for row := 0; row < t.Height; row++ {
		for col := 0; col < t.Width; col++ {
			i := t.Index(row, col)
			lon[i], lat[i] = t.Transform.PixelCenter(col, row)
		}
	}
	ok := make([]bool, n)
	if err = trn.TransformEx(lon, lat, nil, ok); err != nil {
		log.Error(g.logTag+"coordinate transform failed", zap.Error(err))
		return
	}
	failed := 0
	for i, v := range ok {
		if !v {
			lon[i], lat[i] = t.NoData, t.NoData
			failed++
		}
	}
	log.Info(g.logTag+"pixel coordinates computed", zap.Int("pixels", n), zap.Int("failed", failed))
	return
}

// conforms checks a raster grid against template t: same size, transform
// within a millionth of a pixel and the same CRS as judged by GDAL, so WKT
// spelling differences do not matter. A template without CRS accepts any.
func (g *Toolbox) conforms(r, t grid.Grid) error {
	if r.Width != t.Width || r.Height != t.Height {
		return fmt.Errorf("%w: %dx%d raster, %dx%d template", grid.ErrShapeMismatch, r.Width, r.Height, t.Width, t.Height)
	}
	dx, dy := t.Resolution()
	if !r.Transform.AlmostEqual(t.Transform, 1e-6*max(dx, dy)) {
		return fmt.Errorf("%w: transform %v, template %v", grid.ErrShapeMismatch, r.Transform, t.Transform)
	}
	if t.CRS == "" || NormalizeCRS(r.CRS) == NormalizeCRS(t.CRS) {
		return nil
	}
	if r.CRS == "" {
		return fmt.Errorf("%w: crs %q, template %q", grid.ErrShapeMismatch, r.CRS, t.CRS)
	}
	a, err := g.getSpatialRef(r.CRS)
	if err != nil {
		return err
	}
	b, err := g.getSpatialRef(t.CRS)
	if err != nil {
		return err
	}
	if !a.IsSame(b) {
		return fmt.Errorf("%w: crs differs from template", grid.ErrShapeMismatch)
	}
	return nil
}
