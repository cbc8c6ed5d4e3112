package mask

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/log"
)

const logTag = "Mask:"

// LayerSource yields named layers; *store.Store satisfies it.
type LayerSource interface {
	ReadLayer(name string) (*grid.Layer, error)
}

// Operator combines the regular (non force-include) layers.
type Operator string

const (
	And Operator = "and" // a pixel is kept only if every layer keeps it: min
	Or  Operator = "or"  // a pixel is kept if any layer keeps it: max
)

// Options tunes Compose.
type Options struct {
	Operator Operator
	// MinAreaPixels drops included clusters smaller than this many pixels;
	// 0 disables the filter.
	MinAreaPixels int
	Neighbors     Neighbors
	// Name of the returned layer, "inclusion" when empty.
	Name string
}

// Evaluate applies r to band 0 of l and returns its inclusion values.
func Evaluate(r Rule, l *grid.Layer) (inc []float64, err error) {
	if err = r.Validate(); err != nil {
		return
	}
	band, err := l.Band(0)
	if err != nil {
		return
	}
	r = r.normalized()
	exclValues := toSet(r.ExcludeValues)
	inclValues := toSet(r.IncludeValues)
	partial := 1 - r.weight()

	inc = make([]float64, len(band))
	for i, v := range band {
		if l.IsNoData(v) {
			if r.ExcludeNoData {
				inc[i] = 0
				continue
			}
		}
		var excluded bool
		if r.isInclude() {
			_, in := inclValues[v]
			in = in || (r.IncludeRange != nil && r.IncludeRange.Contains(v))
			excluded = !in
		} else {
			_, out := exclValues[v]
			excluded = out || (r.ExcludeRange != nil && r.ExcludeRange.Contains(v))
		}
		if excluded {
			inc[i] = partial
		} else {
			inc[i] = 1
		}
	}
	return
}

// forced marks pixels a force-include rule matches with 1, others with 0.
func forced(r Rule, l *grid.Layer) (out []float64, err error) {
	inc, err := Evaluate(r, l)
	if err != nil {
		return
	}
	out = make([]float64, len(inc))
	for i, v := range inc {
		if v == 1 {
			out[i] = 1
		}
	}
	return
}

// Compose evaluates every rule against its layer from src and combines the
// results: regular layers by opts.Operator, in sorted name order, then
// force-include layers OR'ed on top. The minimum-area filter runs last.
func Compose(src LayerSource, rules RuleSet, opts Options) (out *grid.Layer, err error) {
	if err = rules.Validate(); err != nil {
		return
	}
	op := opts.Operator
	if op == "" {
		op = And
	}
	if op != And && op != Or {
		err = fmt.Errorf("%w: unknown operator %q", ErrConfig, op)
		return
	}
	if opts.MinAreaPixels < 0 {
		err = fmt.Errorf("%w: negative minimum area %d", ErrConfig, opts.MinAreaPixels)
		return
	}

	var (
		regular, force []string
		result         []float64
		height, width  int
	)
	for _, name := range rules.Names() {
		if rules[name].ForceInclude {
			force = append(force, name)
		} else {
			regular = append(regular, name)
		}
	}

	load := func(name string) (*grid.Layer, error) {
		l, err := src.ReadLayer(name)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", name, err)
		}
		if result == nil {
			height, width = l.Height, l.Width
			result = make([]float64, height*width)
			if op == And || len(regular) == 0 {
				for i := range result {
					result[i] = 1
				}
			}
		} else if l.Height != height || l.Width != width {
			return nil, fmt.Errorf("%w: layer %q is %dx%d, expected %dx%d",
				grid.ErrShapeMismatch, name, l.Height, l.Width, height, width)
		}
		return l, nil
	}

	for _, name := range regular {
		l, err := load(name)
		if err != nil {
			return nil, err
		}
		inc, err := Evaluate(rules[name], l)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", name, err)
		}
		for i, v := range inc {
			if op == And {
				result[i] = min(result[i], v)
			} else {
				result[i] = max(result[i], v)
			}
		}
		log.Debug(logTag+"layer applied", zap.String("layer", name), zap.String("op", string(op)))
	}
	for _, name := range force {
		l, err := load(name)
		if err != nil {
			return nil, err
		}
		f, err := forced(rules[name], l)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", name, err)
		}
		for i, v := range f {
			result[i] = max(result[i], v)
		}
		log.Debug(logTag+"force-include applied", zap.String("layer", name))
	}

	if opts.MinAreaPixels > 1 {
		removed := FilterMinArea(result, height, width, opts.MinAreaPixels, opts.Neighbors)
		log.Info(logTag+"min area filter", zap.Int("minPixels", opts.MinAreaPixels), zap.Int("removed", removed))
	}

	name := opts.Name
	if name == "" {
		name = "inclusion"
	}
	out = &grid.Layer{
		Name:     name,
		DataType: grid.Float32,
		Bands:    1,
		Height:   height,
		Width:    width,
		Data:     result,
	}
	return
}

// Invert flips polarity in place: inclusion becomes exclusion and back.
func Invert(m []float64) {
	for i, v := range m {
		m[i] = 1 - v
	}
}

func toSet(vs []float64) map[float64]struct{} {
	set := make(map[float64]struct{}, len(vs))
	for _, v := range vs {
		set[v] = struct{}{}
	}
	return set
}
