package sitelab

import "github.com/wgdzlh/sitelab/setback"

// LayerSource is a raster to be warped onto the template and stored.
type LayerSource struct {
	Path        string `json:"fpath"`
	Description string `json:"description,omitempty"`
	Resampling  string `json:"resampling,omitempty"` // gdalwarp -r, default near
}

// FeatureFilter keeps features whose Field attribute is one of Values. The
// zero value keeps everything.
type FeatureFilter struct {
	Field  string   `json:"field,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Window is a pixel window of a raster.
type Window struct {
	XOff   int `json:"xoff"`
	YOff   int `json:"yoff"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultWindow is the crop applied to downloads when none is given.
func DefaultWindow() Window {
	return Window{XOff: DefaultCropXOff, YOff: DefaultCropYOff, Width: DefaultCropWidth, Height: DefaultCropHeight}
}

// Feature re-exported for callers that only import the root package.
type Feature = setback.Feature
