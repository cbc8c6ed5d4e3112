package grid

import (
	"encoding/binary"
	"math"
	"strings"
)

// DataType is the pixel type of a raster band, named as GDAL names them.
type DataType int

const (
	Unknown DataType = iota
	Byte
	Int16
	UInt16
	Int32
	UInt32
	Float32
	Float64
)

var dataTypeNames = [...]string{"Unknown", "Byte", "Int16", "UInt16", "Int32", "UInt32", "Float32", "Float64"}

func (dt DataType) String() string {
	if dt < 0 || int(dt) >= len(dataTypeNames) {
		return dataTypeNames[Unknown]
	}
	return dataTypeNames[dt]
}

func (dt DataType) Size() int {
	switch dt {
	case Byte:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// ParseDataType accepts GDAL names and the numpy-style aliases used in
// raster profiles (uint8, float32, ...).
func ParseDataType(s string) (dt DataType, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "byte", "uint8":
		dt = Byte
	case "int16":
		dt = Int16
	case "uint16":
		dt = UInt16
	case "int32":
		dt = Int32
	case "uint32":
		dt = UInt32
	case "float32":
		dt = Float32
	case "float64":
		dt = Float64
	default:
		err = ErrUnknownDataType
	}
	return
}

// Encode packs values little-endian in the width of dt. Integer types
// saturate at their range and truncate toward zero; NaN stores as 0.
func (dt DataType) Encode(vals []float64) (buf []byte, err error) {
	size := dt.Size()
	if size == 0 {
		err = ErrUnknownDataType
		return
	}
	buf = make([]byte, len(vals)*size)
	le := binary.LittleEndian
	for i, v := range vals {
		o := i * size
		switch dt {
		case Byte:
			buf[o] = uint8(saturate(v, 0, math.MaxUint8))
		case Int16:
			le.PutUint16(buf[o:], uint16(int16(saturate(v, math.MinInt16, math.MaxInt16))))
		case UInt16:
			le.PutUint16(buf[o:], uint16(saturate(v, 0, math.MaxUint16)))
		case Int32:
			le.PutUint32(buf[o:], uint32(int32(saturate(v, math.MinInt32, math.MaxInt32))))
		case UInt32:
			le.PutUint32(buf[o:], uint32(saturate(v, 0, math.MaxUint32)))
		case Float32:
			le.PutUint32(buf[o:], math.Float32bits(float32(v)))
		case Float64:
			le.PutUint64(buf[o:], math.Float64bits(v))
		}
	}
	return
}

func saturate(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v <= lo:
		return lo
	case v >= hi:
		return hi
	}
	return math.Trunc(v)
}

// Decode is the inverse of Encode.
func (dt DataType) Decode(buf []byte) (vals []float64, err error) {
	size := dt.Size()
	if size == 0 || len(buf)%size != 0 {
		err = ErrUnknownDataType
		return
	}
	vals = make([]float64, len(buf)/size)
	le := binary.LittleEndian
	for i := range vals {
		o := i * size
		switch dt {
		case Byte:
			vals[i] = float64(buf[o])
		case Int16:
			vals[i] = float64(int16(le.Uint16(buf[o:])))
		case UInt16:
			vals[i] = float64(le.Uint16(buf[o:]))
		case Int32:
			vals[i] = float64(int32(le.Uint32(buf[o:])))
		case UInt32:
			vals[i] = float64(le.Uint32(buf[o:]))
		case Float32:
			vals[i] = float64(math.Float32frombits(le.Uint32(buf[o:])))
		case Float64:
			vals[i] = math.Float64frombits(le.Uint64(buf[o:]))
		}
	}
	return
}
