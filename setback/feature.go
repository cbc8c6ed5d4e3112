package setback

import (
	"fmt"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is one vector geometry in the grid's CRS.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]any
}

// Index is an R-tree over feature bounds.
type Index struct {
	tree *rtreego.Rtree
	size int
}

type indexed struct {
	f    *Feature
	rect rtreego.Rect
}

func (i indexed) Bounds() rtreego.Rect {
	return i.rect
}

// rtreego treats touching rectangles as disjoint; bounds are padded by this.
const boundEpsilon = 1e-6

func toRect(b orb.Bound) rtreego.Rect {
	r, _ := rtreego.NewRectFromPoints(
		rtreego.Point{b.Min[0] - boundEpsilon, b.Min[1] - boundEpsilon},
		rtreego.Point{b.Max[0] + boundEpsilon, b.Max[1] + boundEpsilon},
	)
	return r
}

// NewIndex skips features without geometry.
func NewIndex(features []Feature) *Index {
	objs := make([]rtreego.Spatial, 0, len(features))
	for i := range features {
		f := &features[i]
		if f.Geometry == nil {
			continue
		}
		objs = append(objs, indexed{f: f, rect: toRect(f.Geometry.Bound())})
	}
	return &Index{tree: rtreego.NewTree(2, 25, 50, objs...), size: len(objs)}
}

func (x *Index) Len() int {
	return x.size
}

// Near returns the features whose bounds intersect b.
func (x *Index) Near(b orb.Bound) []*Feature {
	hits := x.tree.SearchIntersect(toRect(b))
	out := make([]*Feature, len(hits))
	for i, h := range hits {
		out[i] = h.(indexed).f
	}
	return out
}

// ReadGeoJSON decodes a FeatureCollection.
func ReadGeoJSON(data []byte) ([]Feature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	out := make([]Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		out = append(out, Feature{Geometry: f.Geometry, Properties: map[string]any(f.Properties)})
	}
	return out, nil
}
