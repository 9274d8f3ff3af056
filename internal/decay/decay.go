// Package decay provides the exponential recency weighting shared by the
// appreciation regression and PSF averaging.
package decay

import (
	"math"
	"time"
)

// Unit is the time unit an age is measured in.
type Unit int

const (
	Months Unit = iota
	Years
)

// Kernel weights an observation by base^age, where age is measured in
// Unit. Base is in (0, 1]; ages before now are clamped to zero.
type Kernel struct {
	Base float64
	Unit Unit
}

// Age returns how long before now at lies, in the kernel's unit.
func (k Kernel) Age(at, now time.Time) float64 {
	m := float64(MonthsBetween(at, now))
	if m < 0 {
		m = 0
	}
	if k.Unit == Years {
		return m / 12
	}
	return m
}

// Weight returns base^age for an observation at time at.
func (k Kernel) Weight(at, now time.Time) float64 {
	return math.Pow(k.Base, k.Age(at, now))
}

// MonthsBetween counts calendar months from a to b, ignoring the day of
// month. It is negative when b is before a.
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// WeightedMean returns sum(v*w)/sum(w), or false when the weights sum to
// zero or the slices differ in length.
func WeightedMean(values, weights []float64) (float64, bool) {
	if len(values) != len(weights) || len(values) == 0 {
		return 0, false
	}
	var num, den float64
	for i, v := range values {
		num += v * weights[i]
		den += weights[i]
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}
