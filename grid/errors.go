package grid

import "errors"

var (
	ErrShapeMismatch   = errors.New("layer shape does not match template grid")
	ErrInvalidGrid     = errors.New("invalid raster grid")
	ErrUnknownDataType = errors.New("unknown raster data type")
	ErrBandOutOfRange  = errors.New("band index out of range")
)
