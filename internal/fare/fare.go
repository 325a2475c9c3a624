// Package fare computes deterministic tariff breakdowns. All amounts
// are integer minor currency units; the breakdown is a pure function
// of distance and the night flag and is recomputed whenever either
// changes.
package fare

import (
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Tariff holds the tunable tariff parameters. The night window may
// wrap across midnight (e.g. 23:00-06:00).
type Tariff struct {
	BaseFare      int64   // covers the first BaseDistanceM meters
	BaseDistanceM float64 // default 1500
	UnitDistanceM float64 // default 250; partial units round up
	UnitFare      int64   // increment per (possibly partial) unit

	NightSurchargePct int64 // percent of base+distance, rounded down
	NightStartHour    int   // inclusive
	NightEndHour      int   // exclusive
}

func DefaultTariff() Tariff {
	return Tariff{
		BaseFare:          5000,
		BaseDistanceM:     1500,
		UnitDistanceM:     250,
		UnitFare:          500,
		NightSurchargePct: 20,
		NightStartHour:    23,
		NightEndHour:      6,
	}
}

// IsNight reports whether the given wall-clock hour falls inside the
// night window.
func (t Tariff) IsNight(hour int) bool {
	if t.NightStartHour > t.NightEndHour {
		return hour >= t.NightStartHour || hour < t.NightEndHour
	}
	return hour >= t.NightStartHour && hour < t.NightEndHour
}

// Compute returns the fare breakdown for a trip of the given distance.
func (t Tariff) Compute(distanceM float64, night bool) models.FareBreakdown {
	var distSurcharge int64
	if extra := distanceM - t.BaseDistanceM; extra > 0 {
		units := int64(math.Ceil(extra / t.UnitDistanceM))
		distSurcharge = units * t.UnitFare
	}
	pre := t.BaseFare + distSurcharge
	var nightSurcharge int64
	if night {
		nightSurcharge = pre * t.NightSurchargePct / 100
	}
	return models.FareBreakdown{
		Base:              t.BaseFare,
		DistanceSurcharge: distSurcharge,
		NightSurcharge:    nightSurcharge,
		Total:             pre + nightSurcharge,
		DistanceMeters:    distanceM,
		NightRate:         night,
	}
}

// ComputeAt derives the night flag from the wall-clock hour of at.
func (t Tariff) ComputeAt(distanceM float64, at time.Time) models.FareBreakdown {
	return t.Compute(distanceM, t.IsNight(at.Hour()))
}

// EstimateRange brackets the fare for an unknown distance: the lower
// bound evaluates minDistanceM with the night rate off, the upper
// bound maxDistanceM with the night rate on.
func (t Tariff) EstimateRange(minDistanceM, maxDistanceM float64) (lo, hi int64) {
	lo = t.Compute(minDistanceM, false).Total
	hi = t.Compute(maxDistanceM, true).Total
	return lo, hi
}
