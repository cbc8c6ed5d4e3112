// Package setback resolves setback distance policies against vector
// features and rasterizes the resulting inclusion layer onto a grid.
package setback

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrConfig        = errors.New("invalid setback configuration")
	ErrMissingColumn = errors.New("regulations table is missing a required column")
)

const (
	colFeatureType    = "feature type"
	colFeatureSubtype = "feature subtype"
	colValueType      = "value type"
	colValue          = "value"
	colFIPS           = "fips"
)

// Turbine geometry in meters.
type Turbine struct {
	HubHeight     float64 `json:"hub_height"`
	RotorDiameter float64 `json:"rotor_diameter"`
}

// TipHeight is the blade tip height at the top of rotation.
func (t Turbine) TipHeight() float64 {
	return t.HubHeight + t.RotorDiameter/2
}

func (t Turbine) Validate() error {
	if t.HubHeight <= 0 || t.RotorDiameter <= 0 {
		return fmt.Errorf("%w: turbine hub height %v and rotor diameter %v must be positive",
			ErrConfig, t.HubHeight, t.RotorDiameter)
	}
	return nil
}

type ValueType int

const (
	Meters ValueType = iota
	HubHeightMultiplier
	TipHeightMultiplier
)

func (v ValueType) String() string {
	switch v {
	case Meters:
		return "meters"
	case HubHeightMultiplier:
		return "hub-height multiplier"
	case TipHeightMultiplier:
		return "max-tip height multiplier"
	}
	return "ValueType(" + strconv.Itoa(int(v)) + ")"
}

// ParseValueType accepts the regulation table spellings, case and
// punctuation insensitive.
func ParseValueType(s string) (ValueType, error) {
	norm := strings.Join(strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(s))), " ")
	switch norm {
	case "meters", "meter", "m":
		return Meters, nil
	case "hub height multiplier", "hub multiplier":
		return HubHeightMultiplier, nil
	case "max tip height multiplier", "tip height multiplier", "max tip multiplier", "tip multiplier":
		return TipHeightMultiplier, nil
	}
	return 0, fmt.Errorf("%w: unknown value type %q", ErrConfig, s)
}

// Regulation is one row of a regulations table.
type Regulation struct {
	FeatureType    string
	FeatureSubtype string
	ValueType      ValueType
	Value          float64
	RegionID       int64
}

// Distance resolves the setback in meters. Multiplier value types need t.
func (r Regulation) Distance(t *Turbine) (float64, error) {
	switch r.ValueType {
	case Meters:
		return r.Value, nil
	case HubHeightMultiplier, TipHeightMultiplier:
		if t == nil {
			return 0, fmt.Errorf("%w: region %d uses %s but no turbine was given", ErrConfig, r.RegionID, r.ValueType)
		}
		if err := t.Validate(); err != nil {
			return 0, err
		}
		if r.ValueType == HubHeightMultiplier {
			return t.HubHeight * r.Value, nil
		}
		return t.TipHeight() * r.Value, nil
	}
	return 0, fmt.Errorf("%w: unknown value type %d", ErrConfig, r.ValueType)
}

// Regulations is a parsed regulations table.
type Regulations struct {
	rows []Regulation
}

func NewRegulations(rows ...Regulation) *Regulations {
	return &Regulations{rows: rows}
}

func (rs *Regulations) Len() int {
	return len(rs.rows)
}

func (rs *Regulations) Rows() []Regulation {
	return slices.Clone(rs.rows)
}

// Filter keeps rows for featureType, and for subtype when it is not empty.
func (rs *Regulations) Filter(featureType, subtype string) *Regulations {
	out := &Regulations{}
	for _, r := range rs.rows {
		if !strings.EqualFold(strings.TrimSpace(r.FeatureType), strings.TrimSpace(featureType)) {
			continue
		}
		if subtype != "" && !strings.EqualFold(strings.TrimSpace(r.FeatureSubtype), strings.TrimSpace(subtype)) {
			continue
		}
		out.rows = append(out.rows, r)
	}
	return out
}

// Lookup returns every row for region.
func (rs *Regulations) Lookup(region int64) (out []Regulation) {
	for _, r := range rs.rows {
		if r.RegionID == region {
			out = append(out, r)
		}
	}
	return
}

// Regions in ascending order.
func (rs *Regulations) Regions() []int64 {
	ids := make([]int64, 0, len(rs.rows))
	for _, r := range rs.rows {
		ids = append(ids, r.RegionID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Distances resolves one distance per region; a region with several rows
// gets the largest.
func (rs *Regulations) Distances(t *Turbine) (map[int64]float64, error) {
	out := make(map[int64]float64, len(rs.rows))
	for _, r := range rs.rows {
		d, err := r.Distance(t)
		if err != nil {
			return nil, err
		}
		if prev, ok := out[r.RegionID]; !ok || d > prev {
			out[r.RegionID] = d
		}
	}
	return out, nil
}

// ReadRegulations parses a CSV regulations table. Header names are matched
// case-insensitively; Feature Subtype is optional.
func ReadRegulations(r io.Reader) (rs *Regulations, err error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		err = fmt.Errorf("%w: failed to read header: %v", ErrConfig, err)
		return
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range []string{colFeatureType, colValueType, colValue, colFIPS} {
		if _, ok := cols[c]; !ok {
			err = fmt.Errorf("%w: %q", ErrMissingColumn, c)
			return
		}
	}
	subtypeCol, hasSubtype := cols[colFeatureSubtype]

	rs = &Regulations{}
	for line := 2; ; line++ {
		rec, rerr := cr.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, rerr)
		}
		reg := Regulation{FeatureType: strings.TrimSpace(rec[cols[colFeatureType]])}
		if hasSubtype {
			reg.FeatureSubtype = strings.TrimSpace(rec[subtypeCol])
		}
		if reg.ValueType, err = ParseValueType(rec[cols[colValueType]]); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if reg.Value, err = strconv.ParseFloat(strings.TrimSpace(rec[cols[colValue]]), 64); err != nil || reg.Value < 0 {
			return nil, fmt.Errorf("%w: line %d: bad value %q", ErrConfig, line, rec[cols[colValue]])
		}
		if reg.RegionID, err = parseRegionID(rec[cols[colFIPS]]); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rs.rows = append(rs.rows, reg)
	}
	return rs, nil
}

// LoadRegulations reads a regulations CSV file.
func LoadRegulations(path string) (*Regulations, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".csv" {
		return nil, fmt.Errorf("%w: regulations file must be .csv, got %q", ErrConfig, ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRegulations(f)
}

// parseRegionID accepts zero-padded codes ("01001") and float-formatted
// integers ("1001.0").
func parseRegionID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: bad region id %q", ErrConfig, s)
	}
	return int64(f), nil
}
