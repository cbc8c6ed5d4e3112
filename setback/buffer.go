package setback

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// BufferQuadSegs is the number of segments per quarter circle used when
// buffering features.
const BufferQuadSegs = 30

// zone holds the buffer of every feature for one setback distance.
type zone struct {
	dist  float64
	geoms map[*Feature]*godal.Geometry
}

func toGodal(g orb.Geometry) (*godal.Geometry, error) {
	raw, err := wkb.Marshal(g)
	if err != nil {
		return nil, err
	}
	return godal.NewGeometryFromWKB(raw, nil)
}

// newZone buffers feats by d.
func newZone(feats []*Feature, d float64) (z *zone, err error) {
	z = &zone{dist: d, geoms: make(map[*Feature]*godal.Geometry, len(feats))}
	for _, f := range feats {
		src, e := toGodal(f.Geometry)
		if e != nil {
			z.Close()
			return nil, fmt.Errorf("feature %T: %w", f.Geometry, e)
		}
		buf, e := src.Buffer(d, BufferQuadSegs)
		src.Close()
		if e != nil {
			z.Close()
			return nil, fmt.Errorf("buffer %v: %w", d, e)
		}
		z.geoms[f] = buf
	}
	return
}

func (z *zone) Close() {
	for _, g := range z.geoms {
		g.Close()
	}
}

// hits reports whether target touches the buffer of any feature in near.
func (z *zone) hits(near []*Feature, target orb.Geometry) (hit bool, err error) {
	if len(near) == 0 {
		return
	}
	tg, err := toGodal(target)
	if err != nil {
		return
	}
	defer tg.Close()
	for _, f := range near {
		buf, ok := z.geoms[f]
		if !ok {
			continue
		}
		if hit, err = buf.Intersects(tg); err != nil || hit {
			return
		}
	}
	return
}
