package mask

import (
	"fmt"
	"math"

	"github.com/wgdzlh/sitelab/grid"
)

// Neighbors selects pixel connectivity for cluster detection.
type Neighbors int

const (
	Rook  Neighbors = 4
	Queen Neighbors = 8
)

var (
	rookSteps  = [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	queenSteps = [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}, {-1, -1}, {-1, 1}, {1, -1}, {1, 1}}
)

// MinAreaPixels converts an area in km² to the pixel count of g, rounding up.
// The grid's CRS must be in meters.
func MinAreaPixels(km2 float64, g grid.Grid) (int, error) {
	if km2 < 0 {
		return 0, fmt.Errorf("%w: negative minimum area %v", ErrConfig, km2)
	}
	area := g.PixelArea()
	if area <= 0 {
		return 0, fmt.Errorf("%w: zero pixel area", grid.ErrInvalidGrid)
	}
	return int(math.Ceil(km2 * 1e6 / area)), nil
}

// FilterMinArea zeroes clusters of included pixels (value > 0) smaller than
// minPixels, in place. Zero Neighbors means Rook. It returns the number of
// pixels removed.
func FilterMinArea(m []float64, height, width, minPixels int, nb Neighbors) (removed int) {
	steps := rookSteps
	if nb == Queen {
		steps = queenSteps
	}
	seen := make([]bool, len(m))
	var cluster, queue []int
	for start := range m {
		if seen[start] || m[start] <= 0 {
			continue
		}
		cluster = cluster[:0]
		queue = append(queue[:0], start)
		seen[start] = true
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			cluster = append(cluster, i)
			r, c := i/width, i%width
			for _, s := range steps {
				nr, nc := r+s[0], c+s[1]
				if nr < 0 || nr >= height || nc < 0 || nc >= width {
					continue
				}
				j := nr*width + nc
				if !seen[j] && m[j] > 0 {
					seen[j] = true
					queue = append(queue, j)
				}
			}
		}
		if len(cluster) < minPixels {
			for _, i := range cluster {
				m[i] = 0
			}
			removed += len(cluster)
		}
	}
	return
}
