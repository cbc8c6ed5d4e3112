package sitelab

import (
	"fmt"
	"strconv"

	"github.com/airbusgeo/godal"

	"github.com/wgdzlh/sitelab/grid"
)

func toGdalType(dt grid.DataType) (godal.DataType, error) {
	switch dt {
	case grid.Byte:
		return godal.Byte, nil
	case grid.Int16:
		return godal.Int16, nil
	case grid.UInt16:
		return godal.UInt16, nil
	case grid.Int32:
		return godal.Int32, nil
	case grid.UInt32:
		return godal.UInt32, nil
	case grid.Float32:
		return godal.Float32, nil
	case grid.Float64:
		return godal.Float64, nil
	}
	return godal.Unknown, fmt.Errorf("%w: %s", ErrUnsupportedDataType, dt)
}

func fromGdalType(dt godal.DataType) (grid.DataType, error) {
	switch dt {
	case godal.Byte:
		return grid.Byte, nil
	case godal.Int16:
		return grid.Int16, nil
	case godal.UInt16:
		return grid.UInt16, nil
	case godal.Int32:
		return grid.Int32, nil
	case godal.UInt32:
		return grid.UInt32, nil
	case godal.Float32:
		return grid.Float32, nil
	case godal.Float64:
		return grid.Float64, nil
	}
	return grid.Unknown, fmt.Errorf("%w: %s", ErrUnsupportedDataType, dt.String())
}

// ftoa formats a float for gdal switches without losing precision.
func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
