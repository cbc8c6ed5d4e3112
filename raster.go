package sitelab

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/log"
	"github.com/wgdzlh/sitelab/utils"
)

func (g *Toolbox) openRaster(path string, opts ...godal.OpenOption) (ds *godal.Dataset, err error) {
	if _, err = os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrRasterNotFound, path)
		}
		return
	}
	ds, err = godal.Open(path, append([]godal.OpenOption{godal.RasterOnly()}, opts...)...)
	if err != nil {
		log.Error(g.logTag+"open raster failed", zap.String("path", path), zap.Error(err))
		err = fmt.Errorf("%w: %s: %v", ErrInvalidRaster, path, err)
	}
	return
}

func (g *Toolbox) profile(ds *godal.Dataset) (p grid.Profile, err error) {
	bands := ds.Bands()
	if len(bands) == 0 {
		err = fmt.Errorf("%w: raster has no bands", ErrInvalidRaster)
		return
	}
	bs := bands[0].Structure()
	if p.DataType, err = fromGdalType(bs.DataType); err != nil {
		return
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		log.Warn(g.logTag+"raster has no geotransform", zap.Error(err))
		gt, err = [6]float64{0, 1, 0, 0, 0, 1}, nil
	}
	p.Driver = ds.Driver().ShortName()
	p.Width, p.Height, p.Count = bs.SizeX, bs.SizeY, len(bands)
	p.Transform = grid.Transform(gt)
	p.CRS = ds.Projection()
	if nd, ok := bands[0].NoData(); ok {
		p.NoData = &nd
	}
	if bs.BlockSizeX != bs.SizeX {
		p.Tiled, p.BlockX, p.BlockY = true, bs.BlockSizeX, bs.BlockSizeY
	}
	p.Compress = strings.ToLower(ds.Metadata("COMPRESSION", godal.Domain("IMAGE_STRUCTURE")))
	return
}

// ReadProfile reads the raster's profile without its pixels.
func (g *Toolbox) ReadProfile(path string) (p grid.Profile, err error) {
	ds, err := g.openRaster(path)
	if err != nil {
		return
	}
	defer ds.Close()
	return g.profile(ds)
}

// ReadRaster reads every band of a raster. The layer is named after the
// file.
func (g *Toolbox) ReadRaster(path string) (l *grid.Layer, p grid.Profile, err error) {
	ds, err := g.openRaster(path)
	if err != nil {
		return
	}
	defer ds.Close()
	if p, err = g.profile(ds); err != nil {
		return
	}
	log.Info(g.logTag+"start read raster", zap.String("path", path), zap.Int("bands", p.Count),
		zap.Int("width", p.Width), zap.Int("height", p.Height), zap.String("dt", p.DataType.String()))
	l = grid.NewLayer(utils.GetFilenameWithoutExt(path), p.DataType, p.Count, p.Height, p.Width)
	l.NoData = p.NoData
	for i, band := range ds.Bands() {
		buf, _ := l.Band(i)
		if err = band.IO(godal.IORead, 0, 0, buf, p.Width, p.Height); err != nil {
			log.Error(g.logTag+"read raster band failed", zap.Int("band", i), zap.Error(err))
			err = fmt.Errorf("%w: %s band %d: %v", ErrRasterRead, path, i+1, err)
			return
		}
	}
	l.Description = ds.Metadata(METADATA_DESCRIPTION)
	return
}

// WriteRaster writes l as a raster described by p.
func (g *Toolbox) WriteRaster(path string, l *grid.Layer, p grid.Profile) (err error) {
	if p.Driver == "" {
		p.Driver = grid.DefaultDriver
	}
	if p.Count == 0 {
		p.Count = l.Bands
	}
	if err = p.Validate(); err != nil {
		return
	}
	if err = l.Conform(p.Grid()); err != nil {
		return
	}
	if l.Bands != p.Count {
		return fmt.Errorf("%w: layer has %d bands, profile %d", grid.ErrShapeMismatch, l.Bands, p.Count)
	}
	dt, err := toGdalType(p.DataType)
	if err != nil {
		return
	}
	if dir := filepath.Dir(path); dir != "" {
		if err = os.MkdirAll(dir, os.ModePerm); err != nil {
			return
		}
	}
	ds, err := godal.Create(godal.DriverName(p.Driver), path, p.Count, dt, p.Width, p.Height,
		godal.CreationOption(p.CreationOptions()...))
	if err != nil {
		log.Error(g.logTag+"create raster failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrRasterWrite, path, err)
	}
	defer func() {
		multierr.AppendInto(&err, ds.Close())
	}()
	if err = ds.SetGeoTransform([6]float64(p.Transform)); err != nil {
		return
	}
	if p.CRS != "" {
		if err = ds.SetProjection(NormalizeCRS(p.CRS)); err != nil {
			return
		}
	}
	if l.Description != "" {
		if err = ds.SetMetadata(METADATA_DESCRIPTION, l.Description); err != nil {
			return
		}
	}
	for i, band := range ds.Bands() {
		if p.NoData != nil {
			if err = band.SetNoData(*p.NoData); err != nil {
				return
			}
		}
		buf, _ := l.Band(i)
		if err = band.IO(godal.IOWrite, 0, 0, buf, p.Width, p.Height); err != nil {
			log.Error(g.logTag+"write raster band failed", zap.Int("band", i), zap.Error(err))
			return fmt.Errorf("%w: %s band %d: %v", ErrRasterWrite, path, i+1, err)
		}
	}
	log.Info(g.logTag+"raster written", zap.String("path", path), zap.String("layer", l.Name),
		zap.String("dt", p.DataType.String()), zap.Strings("co", p.CreationOptions()))
	return
}

// TemplateFromRaster takes the raster's lattice as the template grid.
func (g *Toolbox) TemplateFromRaster(path string) (t grid.Grid, err error) {
	p, err := g.ReadProfile(path)
	if err != nil {
		return
	}
	t = p.Grid()
	t.CRS = NormalizeCRS(t.CRS)
	err = t.Validate()
	return
}

// WarpToTemplate reprojects and resamples a raster onto t. The result
// conforms to t whatever the source's CRS, extent or resolution.
func (g *Toolbox) WarpToTemplate(path string, t grid.Grid, resampling string) (l *grid.Layer, err error) {
	if resampling == "" {
		resampling = DefaultResampling
	}
	if _, ok := resamplingMethods[resampling]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadResampling, resampling)
	}
	if err = t.Validate(); err != nil {
		return
	}
	src, err := g.openRaster(path)
	if err != nil {
		return
	}
	defer src.Close()

	b := t.Bounds()
	tmp := filepath.Join(g.tmpDir, fmt.Sprintf(TMP_WARP, uuid.NewString()))
	defer os.Remove(tmp)
	switches := []string{
		"-of", "GTiff",
		"-te", ftoa(b.Min[0]), ftoa(b.Min[1]), ftoa(b.Max[0]), ftoa(b.Max[1]),
		"-ts", strconv.Itoa(t.Width), strconv.Itoa(t.Height),
		"-r", resampling,
		"-overwrite",
	}
	if t.CRS != "" {
		switches = append(switches, "-t_srs", NormalizeCRS(t.CRS))
	}
	if _, ok := src.Bands()[0].NoData(); !ok {
		switches = append(switches, "-dstnodata", ftoa(t.NoData))
	}
	log.Info(g.logTag+"start warp to template", zap.String("path", path), zap.Strings("switches", switches))
	ods, err := godal.Warp(tmp, []*godal.Dataset{src}, switches)
	if err != nil {
		log.Error(g.logTag+"warp failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrWarpFailed, path, err)
	}
	if err = ods.Close(); err != nil {
		return
	}
	l, p, err := g.ReadRaster(tmp)
	if err != nil {
		return
	}
	if err = l.Conform(t); err != nil {
		return nil, err
	}
	if err = g.conforms(p.Grid(), t); err != nil {
		log.Error(g.logTag+"warped raster off template", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	l.Name = utils.GetFilenameWithoutExt(path)
	return
}

// CropRaster crops path in place to window w and returns the new grid.
func (g *Toolbox) CropRaster(path string, w Window) (t grid.Grid, err error) {
	p, err := g.ReadProfile(path)
	if err != nil {
		return
	}
	if t, err = p.Grid().Window(w.XOff, w.YOff, w.Width, w.Height); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadWindow, err)
		return
	}
	t.CRS = NormalizeCRS(t.CRS)

	src, err := g.openRaster(path)
	if err != nil {
		return
	}
	tmp := filepath.Join(filepath.Dir(path), fmt.Sprintf(TMP_CROP, uuid.NewString()))
	switches := []string{
		"-of", "GTiff",
		"-srcwin", strconv.Itoa(w.XOff), strconv.Itoa(w.YOff), strconv.Itoa(w.Width), strconv.Itoa(w.Height),
	}
	if t.CRS != "" {
		switches = append(switches, "-a_srs", t.CRS)
	}
	for _, co := range p.CreationOptions() {
		switches = append(switches, "-co", co)
	}
	ods, err := src.Translate(tmp, switches)
	src.Close()
	if err != nil {
		log.Error(g.logTag+"crop failed", zap.String("path", path), zap.Error(err))
		err = fmt.Errorf("%w: %s: %v", ErrRasterWrite, path, err)
		return
	}
	if err = ods.Close(); err != nil {
		os.Remove(tmp)
		return
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return
	}
	log.Info(g.logTag+"raster cropped", zap.String("path", path), zap.Any("window", w),
		zap.Int("width", t.Width), zap.Int("height", t.Height))
	return
}
