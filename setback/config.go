package setback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/log"
)

const maxConfigFileSize = 1 << 20

// Config is the JSON setback configuration.
type Config struct {
	BaseSetbackDist    *float64 `json:"base_setback_dist,omitempty"`
	HubHeight          *float64 `json:"hub_height,omitempty"`
	RotorDiameter      *float64 `json:"rotor_diameter,omitempty"`
	Multiplier         *float64 `json:"multiplier,omitempty"`
	RegulationsFPath   string   `json:"regulations_fpath,omitempty"`
	RegionLayer        string   `json:"region_layer,omitempty"`
	FeatureType        string   `json:"feature_type,omitempty"`
	FeatureSubtype     string   `json:"feature_subtype,omitempty"`
	UpscaleFactor      int      `json:"upscale_factor,omitempty"`
	DefaultSetbackDist *float64 `json:"default_setback_dist,omitempty"`
}

func ParseConfig(data []byte) (c Config, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err = dec.Decode(&c); err != nil {
		err = fmt.Errorf("%w: %v", ErrConfig, err)
		return
	}
	err = c.Validate()
	return
}

func LoadConfig(path string) (Config, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".json" {
		return Config{}, fmt.Errorf("%w: config file must have .json extension, got %q", ErrConfig, ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return Config{}, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return Config{}, fmt.Errorf("%w: config file too large: %d bytes", ErrConfig, info.Size())
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return Config{}, err
	}
	c, err := ParseConfig(data)
	if err != nil {
		return c, err
	}
	// regulations paths are relative to the config file
	if c.RegulationsFPath != "" && !filepath.IsAbs(c.RegulationsFPath) {
		c.RegulationsFPath = filepath.Join(filepath.Dir(clean), c.RegulationsFPath)
	}
	return c, nil
}

func (c Config) Validate() error {
	if (c.HubHeight == nil) != (c.RotorDiameter == nil) {
		return fmt.Errorf("%w: hub_height and rotor_diameter go together", ErrConfig)
	}
	if t := c.Turbine(); t != nil {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	if c.RegulationsFPath != "" {
		if c.RegionLayer == "" {
			return fmt.Errorf("%w: regulations_fpath needs region_layer", ErrConfig)
		}
		if c.FeatureType == "" {
			return fmt.Errorf("%w: regulations_fpath needs feature_type", ErrConfig)
		}
		if c.BaseSetbackDist != nil {
			return fmt.Errorf("%w: base_setback_dist is not used with regulations_fpath", ErrConfig)
		}
	} else {
		if c.BaseSetbackDist == nil && c.Turbine() == nil {
			return fmt.Errorf("%w: need base_setback_dist or hub_height with rotor_diameter", ErrConfig)
		}
		if c.BaseSetbackDist != nil && c.Turbine() != nil {
			return fmt.Errorf("%w: base_setback_dist and turbine geometry are exclusive", ErrConfig)
		}
	}
	for name, v := range map[string]*float64{
		"base_setback_dist":    c.BaseSetbackDist,
		"default_setback_dist": c.DefaultSetbackDist,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: %s is negative", ErrConfig, name)
		}
	}
	if c.Multiplier != nil && *c.Multiplier <= 0 {
		return fmt.Errorf("%w: multiplier must be positive", ErrConfig)
	}
	if c.UpscaleFactor < 0 {
		return fmt.Errorf("%w: upscale_factor is negative", ErrConfig)
	}
	return nil
}

func (c Config) Turbine() *Turbine {
	if c.HubHeight == nil || c.RotorDiameter == nil {
		return nil
	}
	return &Turbine{HubHeight: *c.HubHeight, RotorDiameter: *c.RotorDiameter}
}

func (c Config) Options() Options {
	return Options{UpscaleFactor: c.UpscaleFactor}
}

// Policy builds the distance policy. regions is required, and only read,
// when the config names a regulations file.
func (c Config) Policy(regions *grid.Layer) (p Policy, err error) {
	p = Policy{Turbine: c.Turbine(), Default: c.DefaultSetbackDist}
	if c.BaseSetbackDist != nil {
		p.Base = *c.BaseSetbackDist
	}
	if c.Multiplier != nil {
		p.Multiplier = *c.Multiplier
	}
	if c.RegulationsFPath == "" {
		return
	}
	if regions == nil {
		err = fmt.Errorf("%w: region layer %q not provided", ErrConfig, c.RegionLayer)
		return
	}
	regs, err := LoadRegulations(c.RegulationsFPath)
	if err != nil {
		return
	}
	p.Regulations = regs.Filter(c.FeatureType, c.FeatureSubtype)
	if p.Regulations.Len() == 0 {
		log.Warn(logTag+"no regulations match feature type",
			zap.String("featureType", c.FeatureType), zap.String("featureSubtype", c.FeatureSubtype))
	}
	p.Regions = regions
	return
}
