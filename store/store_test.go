package store

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgdzlh/sitelab/grid"
)

func testTemplate() grid.Grid {
	return grid.Grid{
		Width:     3,
		Height:    2,
		Transform: grid.Transform{-1000, 90, 0, 2000, 0, -90},
		CRS:       `PROJCS["Albers"]`,
		NoData:    -9999,
	}
}

func coords(g grid.Grid) (lat, lon []float64) {
	lat = make([]float64, g.Cells())
	lon = make([]float64, g.Cells())
	for i := range lat {
		lat[i] = 40 + float64(i)*0.25
		lon[i] = -105 - float64(i)*0.5
	}
	return
}

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "excl.db")
	lat, lon := coords(testTemplate())
	s, err := Create(path, testTemplate(), lat, lon)
	require.NoError(t, err)
	return s, path
}

func TestCreateWritesTemplateAndCoordinates(t *testing.T) {
	s, path := newStore(t)

	assert.True(t, s.Template().Conforms(testTemplate()))
	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{LatitudeKey, LongitudeKey}, keys)

	names, err := s.Layers()
	require.NoError(t, err)
	assert.Empty(t, names)

	lat, lon, err := s.Coordinates()
	require.NoError(t, err)
	wantLat, wantLon := coords(testTemplate())
	assert.Equal(t, wantLat, lat)
	assert.Equal(t, wantLon, lon)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, s.Close())

	_, err = Create(path, testTemplate(), wantLat, wantLon)
	assert.ErrorIs(t, err, ErrStoreExists)
}

func TestCreateRejectsBadCoordinates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	_, err := Create(path, testTemplate(), []float64{1}, []float64{1})
	assert.ErrorIs(t, err, grid.ErrShapeMismatch)
	assert.NoFileExists(t, path)
}

func TestOpenMissingStore(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"))
	assert.ErrorIs(t, err, ErrStoreNotFound)
}

func TestWriteReadLayerRoundTrip(t *testing.T) {
	s, path := newStore(t)
	g := s.Template()

	for _, dt := range []grid.DataType{grid.Byte, grid.Int16, grid.UInt16, grid.Int32, grid.UInt32, grid.Float32, grid.Float64} {
		l := grid.NewLayer("layer_"+dt.String(), dt, 2, g.Height, g.Width)
		for i := range l.Data {
			l.Data[i] = float64(i * 3)
		}
		if dt == grid.Float64 {
			l.Data[0] = math.Pi
		}
		nd := 255.0
		l.NoData = &nd
		l.Description = "test " + dt.String()
		require.NoError(t, s.WriteLayer(l, false))
	}
	require.NoError(t, s.Close())

	s, err := Open(path, ReadOnly())
	require.NoError(t, err)
	defer s.Close()

	names, err := s.Layers()
	require.NoError(t, err)
	assert.Len(t, names, 7)

	got, err := s.ReadLayer("layer_Float64")
	require.NoError(t, err)
	assert.Equal(t, math.Pi, got.Data[0])
	assert.Equal(t, "test Float64", got.Description)
	require.NotNil(t, got.NoData)
	assert.Equal(t, 255.0, *got.NoData)

	got, err = s.ReadLayer("layer_Int16")
	require.NoError(t, err)
	want := make([]float64, 12)
	for i := range want {
		want[i] = float64(i * 3)
	}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Errorf("layer data mismatch (-want +got):\n%s", diff)
	}

	p, err := s.Profile("layer_Int16")
	require.NoError(t, err)
	assert.Equal(t, grid.Int16, p.DataType)
	assert.Equal(t, 2, p.Count)
	assert.Equal(t, g.Transform, p.Transform)
	assert.Equal(t, g.CRS, p.CRS)

	err = s.WriteLayer(got, true)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestWriteLayerReplaceFlag(t *testing.T) {
	s, _ := newStore(t)
	defer s.Close()
	g := s.Template()

	l, err := grid.FromBand("slope", grid.Float32, g, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.NoError(t, s.WriteLayer(l, false))
	require.NoError(t, s.SetAttr("slope", "source", "slope.tif"))

	l2, err := grid.FromBand("slope", grid.Float32, g, []float64{6, 5, 4, 3, 2, 1})
	require.NoError(t, err)
	assert.ErrorIs(t, s.WriteLayer(l2, false), ErrLayerExists)

	got, err := s.ReadLayer("slope")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, got.Data)

	require.NoError(t, s.WriteLayer(l2, true))
	got, err = s.ReadLayer("slope")
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 5, 4, 3, 2, 1}, got.Data)

	attrs, err := s.Attrs("slope")
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestWriteLayerErrors(t *testing.T) {
	s, _ := newStore(t)
	defer s.Close()
	g := s.Template()

	bad := grid.NewLayer("too_big", grid.Byte, 1, g.Height+1, g.Width)
	assert.ErrorIs(t, s.WriteLayer(bad, false), grid.ErrShapeMismatch)

	lat := grid.NewLayer(LatitudeKey, grid.Float32, 1, g.Height, g.Width)
	assert.ErrorIs(t, s.WriteLayer(lat, true), ErrReservedLayer)
	assert.ErrorIs(t, s.DeleteLayer(LongitudeKey), ErrReservedLayer)

	_, err := s.ReadLayer("missing")
	assert.ErrorIs(t, err, ErrLayerNotFound)
	assert.ErrorIs(t, s.SetDescription("missing", "x"), ErrLayerNotFound)
	assert.ErrorIs(t, s.DeleteLayer("missing"), ErrLayerNotFound)
	assert.ErrorIs(t, s.SetAttr("missing", "k", "v"), ErrLayerNotFound)
}

func TestDescriptionsAndDelete(t *testing.T) {
	s, _ := newStore(t)
	defer s.Close()

	l := grid.NewLayer("fips", grid.Int32, 1, 2, 3)
	require.NoError(t, s.WriteLayer(l, false))
	require.NoError(t, s.SetDescription("fips", "county FIPS codes"))
	desc, err := s.Description("fips")
	require.NoError(t, err)
	assert.Equal(t, "county FIPS codes", desc)

	require.NoError(t, s.SetAttr("fips", "source", "counties.tif"))
	require.NoError(t, s.SetAttr("fips", "source", "counties_v2.tif"))
	attrs, err := s.Attrs("fips")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"source": "counties_v2.tif"}, attrs)

	ok, err := s.Has("fips")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.DeleteLayer("fips"))
	ok, err = s.Has("fips")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecondWriterIsRejected(t *testing.T) {
	s, path := newStore(t)

	_, err := Open(path)
	assert.Error(t, err)

	require.NoError(t, s.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestBusyTimeoutWaitsForLock(t *testing.T) {
	s, path := newStore(t)
	defer s.Close()

	assert.Contains(t, dsn(path, options{busyTimeout: 1500 * time.Millisecond}), "busy_timeout(1500)")

	start := time.Now()
	_, err := Open(path, BusyTimeout(300*time.Millisecond))
	assert.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func TestNaNNoDataRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nan.db")
	tmpl := testTemplate()
	tmpl.NoData = math.NaN()
	lat, lon := coords(tmpl)
	s, err := Create(path, tmpl, lat, lon)
	require.NoError(t, err)

	nan := math.NaN()
	l, err := grid.FromBand("wind", grid.Float32, tmpl, []float64{1, nan, 3, 4, nan, 6})
	require.NoError(t, err)
	l.NoData = &nan
	require.NoError(t, s.WriteLayer(l, false))
	inf := math.Inf(-1)
	l2 := grid.NewLayer("depth", grid.Float64, 1, tmpl.Height, tmpl.Width)
	l2.NoData = &inf
	require.NoError(t, s.WriteLayer(l2, false))
	require.NoError(t, s.Close())

	s, err = Open(path, ReadOnly())
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, math.IsNaN(s.Template().NoData))

	got, err := s.ReadLayer("wind")
	require.NoError(t, err)
	require.NotNil(t, got.NoData)
	assert.True(t, math.IsNaN(*got.NoData))
	assert.True(t, got.IsNoData(got.Data[1]))
	assert.False(t, got.IsNoData(got.Data[0]))

	p, err := s.Profile("wind")
	require.NoError(t, err)
	require.NotNil(t, p.NoData)
	assert.True(t, math.IsNaN(*p.NoData))

	got, err = s.ReadLayer("depth")
	require.NoError(t, err)
	require.NotNil(t, got.NoData)
	assert.True(t, math.IsInf(*got.NoData, -1))
}
