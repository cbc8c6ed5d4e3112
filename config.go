package sitelab

const (
	FILE_EXT_SHP  = ".shp"
	FILE_EXT_ZIP  = ".zip"
	FILE_EXT_JSON = ".json"

	WGS84_SRID = 4326

	// GDAL shapefile open option: an empty encoding returns attribute bytes
	// untouched so they can be decoded from the .cpg code page.
	OO_RAW_ENCODING = "ENCODING="

	METADATA_DESCRIPTION = "DESCRIPTION"

	TMP_WARP = "warp_%s.tif"
	TMP_CROP = "crop_%s.tif"

	DefaultResampling = "near"

	// Default crop window of downloaded rasters: 2000x2000 pixels at
	// column 47000, row 10000.
	DefaultCropXOff   = 47000
	DefaultCropYOff   = 10000
	DefaultCropWidth  = 2000
	DefaultCropHeight = 2000

	DefaultDownloadWorkers = 4

	// Layer attributes recorded by LayersToStore.
	ATTR_SOURCE     = "source"
	ATTR_RESAMPLING = "resampling"
	ATTR_DTYPE      = "source_dtype"
)

var resamplingMethods = map[string]struct{}{
	"near": {}, "bilinear": {}, "cubic": {}, "cubicspline": {}, "lanczos": {},
	"average": {}, "rms": {}, "mode": {}, "max": {}, "min": {}, "med": {},
	"q1": {}, "q3": {}, "sum": {},
}
