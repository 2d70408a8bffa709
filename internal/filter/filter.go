package filter

import (
	"math"

	"nuha.dev/geolog/internal/device"
)

// Filter decides whether a fix moved far enough from the previously logged
// one to be worth persisting. The comparison is a raw angular-degree delta:
// on the longitude axis the real-world distance a given delta represents
// shrinks by cos(latitude), so Threshold is configuration, not a constant.
type Filter struct {
	Threshold float64
}

func New(threshold float64) Filter {
	return Filter{Threshold: threshold}
}

// Significant reports whether cand should be logged given the last logged
// fix. A device's first fix is always significant.
func (f Filter) Significant(cand device.Fix, prev *device.Fix) bool {
	if prev == nil {
		return true
	}
	return math.Abs(cand.Lat-prev.Lat) >= f.Threshold || math.Abs(cand.Lng-prev.Lng) >= f.Threshold
}
