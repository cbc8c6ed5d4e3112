package sitelab

import "errors"

var (
	ErrRasterNotFound      = errors.New("raster file not found")
	ErrVectorNotFound      = errors.New("vector file not found")
	ErrInvalidRaster       = errors.New("gdal cannot open raster")
	ErrInvalidVector       = errors.New("gdal cannot open vector source")
	ErrRasterRead          = errors.New("raster band read failed")
	ErrRasterWrite         = errors.New("raster write failed")
	ErrUnsupportedDataType = errors.New("unsupported raster data type")
	ErrVoidSRS             = errors.New("dataset has no spatial reference")
	ErrWarpFailed          = errors.New("gdal warp failed")
	ErrBadResampling       = errors.New("unknown resampling method")
	ErrBadWindow           = errors.New("crop window outside raster")
	ErrNoShpInZip          = errors.New("no shp in zip")
	ErrDownload            = errors.New("download failed")
)
