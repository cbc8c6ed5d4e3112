package mask

import (
	"gonum.org/v1/gonum/floats"
)

// Stats summarises an inclusion mask.
type Stats struct {
	Pixels   int     `json:"pixels"`
	Included int     `json:"included"` // value == 1
	Partial  int     `json:"partial"`  // 0 < value < 1
	Excluded int     `json:"excluded"` // value == 0
	Fraction float64 `json:"fraction"` // mean inclusion
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

func Summarize(m []float64) (s Stats) {
	s.Pixels = len(m)
	if len(m) == 0 {
		return
	}
	for _, v := range m {
		switch {
		case v >= 1:
			s.Included++
		case v <= 0:
			s.Excluded++
		default:
			s.Partial++
		}
	}
	s.Fraction = floats.Sum(m) / float64(len(m))
	s.Min = floats.Min(m)
	s.Max = floats.Max(m)
	return
}
