package tariff

import (
	"github.com/eirsights/eirsights/pkg/types"
)

// Bucket is the per-tariff payload inside one hourly usage record.
type Bucket struct {
	Consumption *float64 `json:"consumption"`
	Cost        *float64 `json:"cost"`
}

// HasData reports whether the bucket holds an actual reading: a non-nil,
// non-zero consumption or cost.
func (b Bucket) HasData() bool {
	if b.Consumption != nil && *b.Consumption != 0 {
		return true
	}
	if b.Cost != nil && *b.Cost != 0 {
		return true
	}
	return false
}

// Active returns the tariff that the smart TOU schedule says is in effect
// for the given hour of day:
//
//	off-peak (night) 23:00-07:59
//	on-peak  (peak)  17:00-18:59
//	mid-peak (day)   08:00-16:59 and 19:00-22:59
//
// The schedule is fixed; it does not consult which buckets actually contain
// data (see Resolve).
func Active(hour int) types.Tariff {
	switch {
	case hour >= 23 || hour < 8:
		return types.TariffOffPeak
	case hour >= 17 && hour < 19:
		return types.TariffOnPeak
	default:
		return types.TariffMidPeak
	}
}

// Resolve picks the single authoritative bucket for an hour. The portal is
// known to populate more than one tariff bucket for the same hour; summing
// them would double count, so exactly one bucket may contribute.
//
// With a filter, only that tariff's bucket is consulted, whatever else is
// populated. Without one, the schedule-predicted bucket for the hour is
// consulted; data sitting in any other bucket is ignored even when the
// predicted bucket is empty. That mirrors the portal's own totals, but it
// means an hour whose data landed in an off-schedule bucket (as can happen
// around DST transitions) yields nothing.
//
// The boolean is false when the chosen bucket is absent or has no data; such
// hours produce no datapoint.
func Resolve(buckets map[types.Tariff]Bucket, filter types.Tariff, hour int) (types.Tariff, Bucket, bool) {
	chosen := filter
	if chosen == types.TariffNone {
		chosen = Active(hour)
	}

	b, ok := buckets[chosen]
	if !ok || !b.HasData() {
		return chosen, Bucket{}, false
	}
	return chosen, b, true
}
