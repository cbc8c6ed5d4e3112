// Package mask composes per-layer inclusion rules into a single inclusion
// mask over the template grid. Every mask it produces uses one polarity:
// 1 is fully included, 0 is fully excluded.
package mask

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
)

var (
	ErrConfig = errors.New("invalid inclusion rule")
)

const maxRulesFileSize = 4 << 20

// Range is a closed interval; a nil bound is open on that side. In JSON it
// is a two-element array, e.g. [null, 5].
type Range struct {
	Low  *float64
	High *float64
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var pair []*float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: range needs exactly 2 bounds, got %d", ErrConfig, len(pair))
	}
	r.Low, r.High = pair[0], pair[1]
	return nil
}

func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]*float64{r.Low, r.High})
}

func (r Range) Contains(v float64) bool {
	if r.Low != nil && v < *r.Low {
		return false
	}
	if r.High != nil && v > *r.High {
		return false
	}
	return true
}

func (r Range) validate() error {
	if r.Low == nil && r.High == nil {
		return fmt.Errorf("%w: range has no bounds", ErrConfig)
	}
	if r.Low != nil && r.High != nil && *r.Low > *r.High {
		return fmt.Errorf("%w: range low %v > high %v", ErrConfig, *r.Low, *r.High)
	}
	return nil
}

// Rule decides, per pixel of one layer, whether the pixel is included.
// Exclude forms mark matching pixels excluded; include forms mark
// non-matching pixels excluded. The two families cannot be mixed.
type Rule struct {
	ExcludeValues []float64 `json:"exclude_values,omitempty"`
	ExcludeRange  *Range    `json:"exclude_range,omitempty"`
	IncludeValues []float64 `json:"include_values,omitempty"`
	IncludeRange  *Range    `json:"include_range,omitempty"`

	// ExcludeNoData fully excludes pixels equal to the layer's no-data value.
	ExcludeNoData bool `json:"exclude_nodata,omitempty"`
	// ForceInclude layers are OR'ed over the composed mask: a matching pixel
	// is included whatever the other layers say.
	ForceInclude bool `json:"force_include,omitempty"`
	// Weight is the excluded fraction of a matching pixel, default 1.
	Weight *float64 `json:"weight,omitempty"`
}

func (r Rule) isInclude() bool {
	return len(r.IncludeValues) > 0 || r.IncludeRange != nil
}

func (r Rule) isExclude() bool {
	return len(r.ExcludeValues) > 0 || r.ExcludeRange != nil
}

func (r Rule) weight() float64 {
	if r.Weight == nil {
		return 1
	}
	return *r.Weight
}

func (r Rule) Validate() error {
	switch {
	case r.isInclude() && r.isExclude():
		return fmt.Errorf("%w: include_* and exclude_* keys cannot be combined", ErrConfig)
	case !r.isInclude() && !r.isExclude():
		return fmt.Errorf("%w: one of exclude_values, exclude_range, include_values, include_range is required", ErrConfig)
	case r.ForceInclude && !r.isInclude():
		return fmt.Errorf("%w: force_include needs include_values or include_range", ErrConfig)
	}
	for _, rg := range []*Range{r.ExcludeRange, r.IncludeRange} {
		if rg == nil {
			continue
		}
		if err := rg.validate(); err != nil {
			return err
		}
	}
	if w := r.weight(); w <= 0 || w > 1 {
		return fmt.Errorf("%w: weight %v outside (0, 1]", ErrConfig, w)
	}
	return nil
}

// normalized returns a copy with sorted, de-duplicated value lists.
func (r Rule) normalized() Rule {
	dedup := func(vs []float64) []float64 {
		if len(vs) == 0 {
			return nil
		}
		out := slices.Clone(vs)
		slices.Sort(out)
		return slices.Compact(out)
	}
	r.ExcludeValues = dedup(r.ExcludeValues)
	r.IncludeValues = dedup(r.IncludeValues)
	return r
}

// RuleSet maps layer names to their rule.
type RuleSet map[string]Rule

func (rs RuleSet) Validate() error {
	if len(rs) == 0 {
		return fmt.Errorf("%w: no layers", ErrConfig)
	}
	for _, name := range rs.Names() {
		if err := rs[name].Validate(); err != nil {
			return fmt.Errorf("layer %q: %w", name, err)
		}
	}
	return nil
}

// Names in sorted order.
func (rs RuleSet) Names() []string {
	names := make([]string, 0, len(rs))
	for k := range rs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ParseRules decodes a JSON object of layer name to rule. Unknown keys are
// configuration errors.
func ParseRules(data []byte) (rs RuleSet, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err = dec.Decode(&rs); err != nil {
		if !errors.Is(err, ErrConfig) {
			err = fmt.Errorf("%w: %v", ErrConfig, err)
		}
		return
	}
	err = rs.Validate()
	return
}

// LoadRules reads a rules JSON file.
func LoadRules(path string) (RuleSet, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".json" {
		return nil, fmt.Errorf("%w: rules file must have .json extension, got %q", ErrConfig, ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat rules file: %w", err)
	}
	if info.Size() > maxRulesFileSize {
		return nil, fmt.Errorf("%w: rules file too large: %d bytes", ErrConfig, info.Size())
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	return ParseRules(data)
}
