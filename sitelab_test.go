package sitelab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/mask"
	"github.com/wgdzlh/sitelab/setback"
	"github.com/wgdzlh/sitelab/store"
)

const (
	utmX0 = 500000.
	utmY0 = 4000000.
)

func utmWKT(t *testing.T, g *Toolbox) string {
	t.Helper()
	ref, err := g.getSpatialRef("EPSG:32613")
	require.NoError(t, err)
	wkt, err := ref.WKT()
	require.NoError(t, err)
	return wkt
}

func testGrid(t *testing.T, g *Toolbox, w, h int, res float64) grid.Grid {
	return grid.Grid{
		Width:     w,
		Height:    h,
		Transform: grid.Transform{utmX0, res, 0, utmY0, 0, -res},
		CRS:       utmWKT(t, g),
		NoData:    -9999,
	}
}

// writeFixture writes a Float32 GeoTIFF on tg whose pixel values are fill(i).
func writeFixture(t *testing.T, g *Toolbox, path string, tg grid.Grid, fill func(i int) float64) *grid.Layer {
	t.Helper()
	data := make([]float64, tg.Cells())
	for i := range data {
		data[i] = fill(i)
	}
	l, err := grid.FromBand(filepath.Base(path), grid.Float32, tg, data)
	require.NoError(t, err)
	require.NoError(t, g.WriteRaster(path, l, grid.ForGrid(tg, grid.Float32, 1)))
	return l
}

func index(i int) float64 { return float64(i) }

func TestWriteRasterProfileRoundTrip(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	path := filepath.Join(t.TempDir(), "slope.tif")
	tg := testGrid(t, g, 32, 48, 90)

	want := grid.ForGrid(tg, grid.Int16, 1)
	want.Tiled, want.BlockX, want.BlockY = true, 16, 16
	l := grid.NewLayer("slope", grid.Int16, 1, tg.Height, tg.Width)
	for i := range l.Data {
		l.Data[i] = float64(i % 300)
	}
	l.Description = "slope in degrees"
	require.NoError(t, g.WriteRaster(path, l, want))

	got, err := g.ReadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "GTiff", got.Driver)
	assert.Equal(t, grid.Int16, got.DataType)
	require.NotNil(t, got.NoData)
	assert.Equal(t, -9999., *got.NoData)
	assert.Equal(t, 32, got.Width)
	assert.Equal(t, 48, got.Height)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, tg.Transform, got.Transform)
	assert.Contains(t, got.CRS, "32613")
	assert.True(t, got.Tiled)
	assert.Equal(t, 16, got.BlockX)
	assert.Equal(t, 16, got.BlockY)
	assert.Equal(t, "lzw", got.Compress)

	back, _, err := g.ReadRaster(path)
	require.NoError(t, err)
	assert.Equal(t, "slope", back.Name)
	assert.Equal(t, "slope in degrees", back.Description)
	if diff := cmp.Diff(l.Data, back.Data); diff != "" {
		t.Errorf("pixels differ (-want +got):\n%s", diff)
	}
}

func TestWriteRasterShapeMismatch(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	tg := testGrid(t, g, 4, 4, 90)
	l := grid.NewLayer("x", grid.Float32, 1, 3, 4)
	err := g.WriteRaster(filepath.Join(t.TempDir(), "x.tif"), l, grid.ForGrid(tg, grid.Float32, 1))
	assert.ErrorIs(t, err, grid.ErrShapeMismatch)
}

func TestReadRasterMissing(t *testing.T) {
	g := NewToolbox()
	defer g.Close()
	_, _, err := g.ReadRaster(filepath.Join(t.TempDir(), "nope.tif"))
	assert.ErrorIs(t, err, ErrRasterNotFound)
	_, err = g.ReadProfile(filepath.Join(t.TempDir(), "nope.tif"))
	assert.ErrorIs(t, err, ErrRasterNotFound)
}

func TestWarpToTemplateMatchesTemplate(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	dir := t.TempDir()
	tmpl := testGrid(t, g, 10, 8, 90)
	// twice the resolution over a larger extent
	src := testGrid(t, g, 30, 24, 45)
	src.Transform[0] -= 90
	src.Transform[3] += 90
	writeFixture(t, g, filepath.Join(dir, "src.tif"), src, func(int) float64 { return 7 })

	l, err := g.WarpToTemplate(filepath.Join(dir, "src.tif"), tmpl, "")
	require.NoError(t, err)
	require.NoError(t, l.Conform(tmpl))
	assert.Equal(t, "src", l.Name)

	// the layer written back out carries the template's lattice
	out := filepath.Join(dir, "warped.tif")
	require.NoError(t, g.WriteRaster(out, l, grid.ForGrid(tmpl, grid.Float32, 1)))
	p, err := g.ReadProfile(out)
	require.NoError(t, err)
	assert.Equal(t, tmpl.Transform, p.Transform)
	assert.NoError(t, g.conforms(p.Grid(), tmpl))
	for i, v := range l.Data {
		require.Equal(t, 7., v, "pixel %d", i)
	}

	for _, r := range []string{"bilinear", "average", "mode"} {
		l, err = g.WarpToTemplate(filepath.Join(dir, "src.tif"), tmpl, r)
		require.NoError(t, err, r)
		assert.NoError(t, l.Conform(tmpl), r)
	}
}

func TestWarpToTemplateRejectsRotatedTemplate(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	dir := t.TempDir()
	src := testGrid(t, g, 20, 20, 90)
	writeFixture(t, g, filepath.Join(dir, "src.tif"), src, index)

	tmpl := testGrid(t, g, 10, 8, 90)
	tmpl.Transform[2] = 10
	_, err := g.WarpToTemplate(filepath.Join(dir, "src.tif"), tmpl, "")
	assert.ErrorIs(t, err, grid.ErrShapeMismatch)
}

func TestConformsComparesTransformAndCRS(t *testing.T) {
	g := NewToolbox()
	defer g.Close()
	tmpl := testGrid(t, g, 10, 8, 90)

	same := tmpl
	same.CRS = "EPSG:32613"
	assert.NoError(t, g.conforms(same, tmpl))

	other := tmpl
	other.CRS = "EPSG:32612"
	assert.ErrorIs(t, g.conforms(other, tmpl), grid.ErrShapeMismatch)

	shifted := tmpl
	shifted.Transform[0] += 45
	assert.ErrorIs(t, g.conforms(shifted, tmpl), grid.ErrShapeMismatch)

	smaller := tmpl
	smaller.Width--
	assert.ErrorIs(t, g.conforms(smaller, tmpl), grid.ErrShapeMismatch)

	noCRS := tmpl
	noCRS.CRS = ""
	assert.ErrorIs(t, g.conforms(noCRS, tmpl), grid.ErrShapeMismatch)
	assert.NoError(t, g.conforms(tmpl, noCRS))
}

func TestWarpToTemplateErrors(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	tmpl := testGrid(t, g, 4, 4, 90)
	_, err := g.WarpToTemplate(filepath.Join(t.TempDir(), "missing.tif"), tmpl, "")
	assert.ErrorIs(t, err, ErrRasterNotFound)
	_, err = g.WarpToTemplate("whatever.tif", tmpl, "sharpen")
	assert.ErrorIs(t, err, ErrBadResampling)
}

func TestCropRaster(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	path := filepath.Join(t.TempDir(), "big.tif")
	tg := testGrid(t, g, 40, 30, 90)
	writeFixture(t, g, path, tg, index)

	sub, err := g.CropRaster(path, Window{XOff: 5, YOff: 10, Width: 20, Height: 10})
	require.NoError(t, err)
	assert.Equal(t, 20, sub.Width)
	assert.Equal(t, 10, sub.Height)

	p, err := g.ReadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, 20, p.Width)
	assert.Equal(t, 10, p.Height)
	assert.Equal(t, grid.Transform{utmX0 + 5*90, 90, 0, utmY0 - 10*90, 0, -90}, p.Transform)

	l, _, err := g.ReadRaster(path)
	require.NoError(t, err)
	want := make([]float64, 0, 200)
	for row := 10; row < 20; row++ {
		for col := 5; col < 25; col++ {
			want = append(want, float64(row*40+col))
		}
	}
	if diff := cmp.Diff(want, l.Data); diff != "" {
		t.Errorf("cropped pixels differ (-want +got):\n%s", diff)
	}

	_, err = g.CropRaster(path, DefaultWindow())
	assert.ErrorIs(t, err, ErrBadWindow)
}

func TestCoordinatesIdentity(t *testing.T) {
	g := NewToolbox()
	defer g.Close()
	tg := grid.Grid{
		Width:     3,
		Height:    2,
		Transform: grid.Transform{-105, 0.5, 0, 40, 0, -0.5},
		CRS:       "EPSG:4326",
		NoData:    -9999,
	}
	lat, lon, err := g.Coordinates(tg)
	require.NoError(t, err)
	require.Len(t, lat, 6)
	for row := 0; row < 2; row++ {
		for col := 0; col < 3; col++ {
			i := tg.Index(row, col)
			assert.InDelta(t, -105+0.5*(float64(col)+0.5), lon[i], 1e-9)
			assert.InDelta(t, 40-0.5*(float64(row)+0.5), lat[i], 1e-9)
		}
	}
}

func newTestStore(t *testing.T, g *Toolbox, tg grid.Grid) (*store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "template.tif")
	writeFixture(t, g, tmpl, tg, func(int) float64 { return 0 })
	s, err := g.CreateStore(filepath.Join(dir, "excl.db"), tmpl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestStoreRoundTrip(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	tg := testGrid(t, g, 12, 9, 90)
	s, dir := newTestStore(t, g, tg)
	assert.Equal(t, tg.Width, s.Template().Width)
	assert.Equal(t, tg.Height, s.Template().Height)
	assert.Equal(t, tg.Transform, s.Template().Transform)
	assert.Contains(t, s.Template().CRS, "32613")

	lat, lon, err := s.Coordinates()
	require.NoError(t, err)
	assert.Len(t, lat, tg.Cells())
	assert.Len(t, lon, tg.Cells())

	src := filepath.Join(dir, "slope.tif")
	want := writeFixture(t, g, src, tg, index)
	sources := map[string]LayerSource{"slope": {Path: src, Description: "percent slope"}}
	require.NoError(t, g.LayersToStore(s, sources, false))

	err = g.LayersToStore(s, sources, false)
	assert.ErrorIs(t, err, store.ErrLayerExists)
	require.NoError(t, g.LayersToStore(s, sources, true))

	desc, err := s.Description("slope")
	require.NoError(t, err)
	assert.Equal(t, "percent slope", desc)
	attrs, err := s.Attrs("slope")
	require.NoError(t, err)
	assert.Equal(t, src, attrs[ATTR_SOURCE])
	assert.Equal(t, DefaultResampling, attrs[ATTR_RESAMPLING])
	assert.Equal(t, "Float32", attrs[ATTR_DTYPE])

	out := filepath.Join(dir, "out", "slope.tif")
	require.NoError(t, g.LayersFromStore(s, map[string]string{"slope": out}))

	got, p, err := g.ReadRaster(out)
	require.NoError(t, err)
	if diff := cmp.Diff(want.Data, got.Data); diff != "" {
		t.Errorf("round trip differs (-want +got):\n%s", diff)
	}
	assert.True(t, p.Grid().Conforms(s.Template()))

	err = g.LayersFromStore(s, map[string]string{"missing": out})
	assert.ErrorIs(t, err, store.ErrLayerNotFound)
	err = g.LayersToStore(s, map[string]LayerSource{store.LatitudeKey: {Path: src}}, true)
	assert.ErrorIs(t, err, store.ErrReservedLayer)
}

func TestComputeMaskOnStore(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	tg := testGrid(t, g, 10, 8, 90)
	s, dir := newTestStore(t, g, tg)

	l, err := grid.FromBand("class", grid.Byte, s.Template(), make([]float64, tg.Cells()))
	require.NoError(t, err)
	for i := range l.Data {
		l.Data[i] = float64(i % 3)
	}
	require.NoError(t, s.WriteLayer(l, false))

	rules := mask.RuleSet{"class": {ExcludeValues: []float64{0}}}
	out := Output{Layer: "inclusion", Path: filepath.Join(dir, "inclusion.tif")}
	m, err := g.ComputeMask(s, rules, mask.Options{}, out)
	require.NoError(t, err)
	st := mask.Summarize(m.Data)
	assert.Equal(t, 53, st.Included)
	assert.Equal(t, 27, st.Excluded)

	stored, err := s.ReadLayer("inclusion")
	require.NoError(t, err)
	assert.Equal(t, m.Data, stored.Data)
	_, err = os.Stat(out.Path)
	assert.NoError(t, err)

	_, err = g.ComputeMask(s, rules, mask.Options{}, out)
	assert.ErrorIs(t, err, store.ErrLayerExists)
}

func TestComputeSetbacksOnStore(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	tg := testGrid(t, g, 10, 8, 90)
	s, _ := newTestStore(t, g, tg)

	center := s.Template().PixelCenter(4, 5)
	features := []setback.Feature{{Geometry: orb.Point(center)}}
	base := 100.
	l, err := g.ComputeSetbacks(s, features, setback.Config{BaseSetbackDist: &base}, Output{Layer: "setbacks"})
	require.NoError(t, err)
	assert.Equal(t, 9, mask.Summarize(l.Data).Excluded)
	for row := 3; row <= 5; row++ {
		for col := 4; col <= 6; col++ {
			assert.Zero(t, l.At(0, row, col))
		}
	}
	ok, err := s.Has("setbacks")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = g.ComputeSetbacks(s, features, setback.Config{}, Output{})
	assert.ErrorIs(t, err, setback.ErrConfig)
}

const featuresGeoJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"name":"a","kind":"road","lanes":2},"geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}},
{"type":"Feature","properties":{"name":"b","kind":"rail","lanes":1},"geometry":{"type":"Point","coordinates":[2,2]}},
{"type":"Feature","properties":{"name":"c","kind":"road","lanes":4},"geometry":{"type":"Point","coordinates":[3,3]}}
]}`

func TestReadFeatures(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	path := filepath.Join(t.TempDir(), "roads.geojson")
	require.NoError(t, os.WriteFile(path, []byte(featuresGeoJSON), 0o644))

	feats, err := g.ReadFeatures(path, grid.Grid{}, FeatureFilter{})
	require.NoError(t, err)
	require.Len(t, feats, 3)
	assert.Equal(t, "a", feats[0].Properties["name"])
	ls, ok := feats[0].Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}}, ls)

	feats, err = g.ReadFeatures(path, grid.Grid{}, FeatureFilter{Field: "kind", Values: []string{"road"}})
	require.NoError(t, err)
	require.Len(t, feats, 2)
	assert.Equal(t, "c", feats[1].Properties["name"])

	feats, err = g.ReadFeatures(path, grid.Grid{}, FeatureFilter{Field: "lanes", Values: []string{"1"}})
	require.NoError(t, err)
	require.Len(t, feats, 1)
	assert.Equal(t, "b", feats[0].Properties["name"])

	_, err = g.ReadFeatures(filepath.Join(t.TempDir(), "none.shp"), grid.Grid{}, FeatureFilter{})
	assert.ErrorIs(t, err, ErrVectorNotFound)
}

func TestFeatureFilterKeep(t *testing.T) {
	props := map[string]any{"kind": "road", "lanes": int64(2)}
	assert.True(t, FeatureFilter{}.Keep(props))
	assert.True(t, FeatureFilter{Field: "kind", Values: []string{"rail", "road"}}.Keep(props))
	assert.True(t, FeatureFilter{Field: "lanes", Values: []string{"2"}}.Keep(props))
	assert.False(t, FeatureFilter{Field: "kind", Values: []string{"rail"}}.Keep(props))
	assert.False(t, FeatureFilter{Field: "owner", Values: []string{"x"}}.Keep(props))
}

func TestDownload(t *testing.T) {
	g := NewToolbox(t.TempDir())
	defer g.Close()
	dir := t.TempDir()
	tif := filepath.Join(t.TempDir(), "remote.tif")
	writeFixture(t, g, tif, testGrid(t, g, 40, 30, 90), index)
	raw, err := os.ReadFile(tif)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.tif", "/b.tif":
			w.Write(raw)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	existing := filepath.Join(dir, "existing.tif")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o644))

	items := []DownloadItem{
		{URL: srv.URL + "/a.tif", Path: filepath.Join(dir, "nested", "a.tif")},
		{URL: srv.URL + "/b.tif", Path: filepath.Join(dir, "b.tif"), Crop: &Window{XOff: 10, YOff: 5, Width: 8, Height: 6}},
		{URL: srv.URL + "/a.tif", Path: existing},
		{URL: srv.URL + "/missing.tif", Path: filepath.Join(dir, "missing.tif")},
	}
	res, err := g.Download(context.Background(), items, DownloadOptions{Workers: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDownload))
	assert.Contains(t, err.Error(), "missing.tif")

	require.Len(t, res, 4)
	assert.False(t, res[0].Skipped)
	assert.False(t, res[0].Cropped)
	assert.True(t, res[1].Cropped)
	assert.True(t, res[2].Skipped)

	got, err := os.ReadFile(items[0].Path)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	p, err := g.ReadProfile(items[1].Path)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Width)
	assert.Equal(t, 6, p.Height)

	kept, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(kept))

	_, err = os.Stat(items[3].Path)
	assert.True(t, os.IsNotExist(err))
}
