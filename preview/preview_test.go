package preview

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgdzlh/sitelab/grid"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func testGrid() grid.Grid {
	return grid.Grid{Width: 4, Height: 3, Transform: grid.Transform{0, 90, 0, 270, 0, -90}, NoData: -1}
}

func TestRenderWritesPNG(t *testing.T) {
	g := testGrid()
	l, err := grid.FromBand("inclusion", grid.Float32, g, []float64{
		1, 1, 0, 0.5,
		1, -1, 0, 1,
		0, 0, 1, 1,
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "inclusion.png")
	require.NoError(t, Render(path, l, g, "inclusion"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}

func TestRenderConstantLayer(t *testing.T) {
	g := testGrid()
	l := grid.NewLayer("ones", grid.Byte, 1, g.Height, g.Width)
	for i := range l.Data {
		l.Data[i] = 1
	}
	path := filepath.Join(t.TempDir(), "ones")
	require.NoError(t, Render(path, l, g, "ones"))
	assert.FileExists(t, path+".png")
}

func TestRenderShapeMismatch(t *testing.T) {
	l := grid.NewLayer("small", grid.Byte, 1, 1, 1)
	err := Render(filepath.Join(t.TempDir(), "x.png"), l, testGrid(), "")
	assert.ErrorIs(t, err, grid.ErrShapeMismatch)
}

func TestBandGridOrientation(t *testing.T) {
	g := testGrid()
	l, err := grid.FromBand("v", grid.Float32, g, []float64{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, -1,
	})
	require.NoError(t, err)
	bg := bandGrid{band: l.Data, l: l, g: g}
	c, r := bg.Dims()
	assert.Equal(t, 4, c)
	assert.Equal(t, 3, r)
	assert.Equal(t, 8.0, bg.Z(0, 0))
	assert.Equal(t, 3.0, bg.Z(3, 2))
	assert.True(t, bg.Z(3, 0) != bg.Z(3, 0), "no-data renders as NaN")
	assert.Equal(t, 45.0, bg.X(0))
	assert.Equal(t, 45.0, bg.Y(0))
	assert.Equal(t, 225.0, bg.Y(2))
}
