package sitelab

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb/encoding/wkb"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/log"
	"github.com/wgdzlh/sitelab/utils"
)

// openVector resolves zipped shapefiles and the attribute code page before
// opening path. cleanup removes any extracted files.
func (g *Toolbox) openVector(path string) (ds *godal.Dataset, enc encoding.Encoding, cleanup func(), err error) {
	cleanup = func() {}
	if _, err = os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrVectorNotFound, path)
		}
		return
	}
	var cpg string
	switch strings.ToLower(filepath.Ext(path)) {
	case FILE_EXT_ZIP:
		var dir string
		if dir, err = utils.GetUniqSubDir(g.tmpDir); err != nil {
			return
		}
		cleanup = func() { os.RemoveAll(dir) }
		if path, cpg, err = utils.GetShpInZip(path, dir); err != nil {
			if errors.Is(err, utils.ErrNoShpInZip) {
				err = fmt.Errorf("%w: %s", ErrNoShpInZip, path)
			}
			cleanup()
			return
		}
	case FILE_EXT_SHP:
		cpg = utils.ReadCpg(path)
	}

	opts := []godal.OpenOption{godal.VectorOnly()}
	if cpg != "" && !utils.IsUTF8CodePage(cpg) {
		if e, cerr := utils.CodePageEncoding(cpg); cerr != nil {
			log.Warn(g.logTag+"unknown code page, leaving attributes to gdal", zap.String("cpg", cpg), zap.Error(cerr))
		} else {
			enc = e
			opts = append(opts, godal.DriverOpenOption(OO_RAW_ENCODING))
		}
	}
	if ds, err = godal.Open(path, opts...); err != nil {
		log.Error(g.logTag+"open vector failed", zap.String("path", path), zap.Error(err))
		err = fmt.Errorf("%w: %s: %v", ErrInvalidVector, path, err)
		cleanup()
	}
	return
}

// ReadFeatures reads every feature of a vector source (shapefile, zipped
// shapefile, GeoPackage, GeoJSON, ...) reprojected to the CRS of t.
func (g *Toolbox) ReadFeatures(path string, t grid.Grid, filter FeatureFilter) (feats []Feature, err error) {
	ds, enc, cleanup, err := g.openVector(path)
	if err != nil {
		return
	}
	defer cleanup()
	defer ds.Close()

	var dst *godal.SpatialRef
	if t.CRS != "" {
		if dst, err = g.getSpatialRef(t.CRS); err != nil {
			return
		}
	}
	var (
		skipped int
		gc      []destroyable
	)
	defer func() {
		for _, v := range gc {
			v.Close()
		}
	}()
	for _, layer := range ds.Layers() {
		var trn *godal.Transform
		if dst != nil {
			src := layer.SpatialRef()
			if src == nil {
				err = fmt.Errorf("%w: layer %s of %s", ErrVoidSRS, layer.Name(), path)
				return
			}
			if trn, err = godal.NewTransform(src, dst); err != nil {
				log.Error(g.logTag+"create feature transform failed", zap.Error(err))
				return
			}
			gc = append(gc, trn)
		}
		layer.ResetReading()
		for {
			feat := layer.NextFeature()
			if feat == nil {
				break
			}
			f, ok, ferr := g.convertFeature(feat, trn, enc, filter)
			feat.Close()
			if ferr != nil {
				err = ferr
				return
			}
			if !ok {
				skipped++
				continue
			}
			feats = append(feats, f)
		}
	}
	log.Info(g.logTag+"features read", zap.String("path", path), zap.Int("features", len(feats)),
		zap.Int("skipped", skipped), zap.Bool("recoded", enc != nil))
	return
}

func (g *Toolbox) convertFeature(feat *godal.Feature, trn *godal.Transform, enc encoding.Encoding, filter FeatureFilter) (f Feature, ok bool, err error) {
	f.Properties = featureProperties(feat, enc)
	if !filter.Keep(f.Properties) {
		return
	}
	geom := feat.Geometry()
	if geom == nil {
		return
	}
	defer geom.Close()
	if geom.Empty() {
		return
	}
	if trn != nil {
		if err = geom.Transform(trn); err != nil {
			log.Error(g.logTag+"feature transform failed", zap.Error(err))
			return
		}
	}
	raw, err := geom.WKB()
	if err != nil {
		return
	}
	if f.Geometry, err = wkb.Unmarshal(raw); err != nil {
		log.Error(g.logTag+"parse wkb failed", zap.Error(err))
		return
	}
	ok = true
	return
}

func featureProperties(feat *godal.Feature, enc encoding.Encoding) map[string]any {
	fields := feat.Fields()
	props := make(map[string]any, len(fields))
	for name, field := range fields {
		switch field.Type() {
		case godal.FTInt, godal.FTInt64:
			props[name] = field.Int()
		case godal.FTReal:
			props[name] = field.Float()
		default:
			props[name] = utils.DecodeString(enc, field.String())
		}
	}
	return props
}

// Keep reports whether props pass the filter; an empty filter keeps all.
func (f FeatureFilter) Keep(props map[string]any) bool {
	if f.Field == "" || len(f.Values) == 0 {
		return true
	}
	v, ok := props[f.Field]
	if !ok {
		return false
	}
	return slices.Contains(f.Values, fmt.Sprint(v))
}
