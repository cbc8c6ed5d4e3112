package grid

import (
	"fmt"
	"math"
)

// Layer is a named banded array conforming to a Grid. Data is band-major,
// then row-major.
type Layer struct {
	Name        string
	Description string
	DataType    DataType
	NoData      *float64
	Bands       int
	Height      int
	Width       int
	Data        []float64
}

// NewLayer allocates a zeroed layer.
func NewLayer(name string, dt DataType, bands, height, width int) *Layer {
	return &Layer{
		Name:     name,
		DataType: dt,
		Bands:    bands,
		Height:   height,
		Width:    width,
		Data:     make([]float64, bands*height*width),
	}
}

// FromBand wraps a single-band array sized to g.
func FromBand(name string, dt DataType, g Grid, data []float64) (l *Layer, err error) {
	if len(data) != g.Cells() {
		err = fmt.Errorf("%w: %d values for %dx%d grid", ErrShapeMismatch, len(data), g.Height, g.Width)
		return
	}
	nd := g.NoData
	l = &Layer{
		Name:     name,
		DataType: dt,
		NoData:   &nd,
		Bands:    1,
		Height:   g.Height,
		Width:    g.Width,
		Data:     data,
	}
	return
}

func (l *Layer) Shape() (b, h, w int) {
	return l.Bands, l.Height, l.Width
}

func (l *Layer) bandSize() int {
	return l.Height * l.Width
}

// Band returns a view of band i (0-based).
func (l *Layer) Band(i int) ([]float64, error) {
	if i < 0 || i >= l.Bands {
		return nil, fmt.Errorf("%w: band %d of %d", ErrBandOutOfRange, i, l.Bands)
	}
	n := l.bandSize()
	return l.Data[i*n : (i+1)*n], nil
}

func (l *Layer) At(band, row, col int) float64 {
	return l.Data[band*l.bandSize()+row*l.Width+col]
}

func (l *Layer) Set(band, row, col int, v float64) {
	l.Data[band*l.bandSize()+row*l.Width+col] = v
}

// Conform checks the layer against template g.
func (l *Layer) Conform(g Grid) error {
	if l.Bands <= 0 {
		return fmt.Errorf("%w: layer %q has no bands", ErrShapeMismatch, l.Name)
	}
	if l.Height != g.Height || l.Width != g.Width {
		return fmt.Errorf("%w: layer %q is %dx%d, template is %dx%d",
			ErrShapeMismatch, l.Name, l.Height, l.Width, g.Height, g.Width)
	}
	if len(l.Data) != l.Bands*l.bandSize() {
		return fmt.Errorf("%w: layer %q holds %d values for shape (%d, %d, %d)",
			ErrShapeMismatch, l.Name, len(l.Data), l.Bands, l.Height, l.Width)
	}
	return nil
}

// IsNoData reports whether v is the layer's no-data sentinel.
func (l *Layer) IsNoData(v float64) bool {
	if l.NoData == nil {
		return false
	}
	if math.IsNaN(*l.NoData) {
		return math.IsNaN(v)
	}
	return v == *l.NoData
}
