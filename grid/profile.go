package grid

import (
	"fmt"
	"strconv"
	"strings"
)

const DefaultDriver = "GTiff"

// Profile describes a raster file: everything needed to recreate it.
type Profile struct {
	Driver    string    `json:"driver"`
	DataType  DataType  `json:"dtype"`
	NoData    *float64  `json:"nodata,omitempty"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Count     int       `json:"count"`
	CRS       string    `json:"crs"`
	Transform Transform `json:"transform"`
	Tiled     bool      `json:"tiled"`
	BlockX    int       `json:"blockxsize,omitempty"`
	BlockY    int       `json:"blockysize,omitempty"`
	Compress  string    `json:"compress,omitempty"`
}

// ForGrid builds the profile of a GeoTIFF conforming to g.
func ForGrid(g Grid, dt DataType, count int) Profile {
	nd := g.NoData
	return Profile{
		Driver:    DefaultDriver,
		DataType:  dt,
		NoData:    &nd,
		Width:     g.Width,
		Height:    g.Height,
		Count:     count,
		CRS:       g.CRS,
		Transform: g.Transform,
		Compress:  "lzw",
	}
}

// Grid drops the file-format details. A missing no-data value maps to 0.
func (p Profile) Grid() Grid {
	g := Grid{
		Width:     p.Width,
		Height:    p.Height,
		Transform: p.Transform,
		CRS:       p.CRS,
	}
	if p.NoData != nil {
		g.NoData = *p.NoData
	}
	return g
}

func (p Profile) Validate() error {
	if p.Count <= 0 {
		return fmt.Errorf("%w: band count %d", ErrInvalidGrid, p.Count)
	}
	if p.DataType.Size() == 0 {
		return ErrUnknownDataType
	}
	return p.Grid().Validate()
}

// CreationOptions renders the tiling/compression parameters as GDAL
// creation options.
func (p Profile) CreationOptions() (opts []string) {
	if p.Tiled {
		opts = append(opts, "TILED=YES")
		if p.BlockX > 0 {
			opts = append(opts, "BLOCKXSIZE="+strconv.Itoa(p.BlockX))
		}
		if p.BlockY > 0 {
			opts = append(opts, "BLOCKYSIZE="+strconv.Itoa(p.BlockY))
		}
	}
	if p.Compress != "" {
		opts = append(opts, "COMPRESS="+strings.ToUpper(p.Compress))
	}
	return
}
