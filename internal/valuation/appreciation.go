package valuation

import (
	"math"
	"time"

	"github.com/hartproperty/propsync/internal/decay"
	"github.com/hartproperty/propsync/internal/model"
)

// Appreciation fit constants.
const (
	DefaultAppreciation = 0.03
	MinAppreciation     = -0.10
	MaxAppreciation     = 0.15
	degenerateEpsilon   = 1e-4
)

// AppreciationKernel weights regression points by 0.85 per year of age.
var AppreciationKernel = decay.Kernel{Base: 0.85, Unit: decay.Years}

// EstimateAppreciation fits PSF against time with weighted least squares
// and returns slope over intercept as an annual rate, clamped to
// [MinAppreciation, MaxAppreciation]. x is minus the age in years, so the
// intercept is today's PSF. Fewer than two points, a degenerate fit or a
// non-positive intercept give DefaultAppreciation.
func EstimateAppreciation(rows []model.Transaction, now time.Time) float64 {
	var sw, swx, swy, swxx, swxy float64
	n := 0
	for i := range rows {
		psf, ok := rows[i].PSF()
		if !ok {
			continue
		}
		n++
		x := -AppreciationKernel.Age(rows[i].SaleDate, now)
		w := AppreciationKernel.Weight(rows[i].SaleDate, now)
		sw += w
		swx += w * x
		swy += w * psf
		swxx += w * x * x
		swxy += w * x * psf
	}
	if n < 2 {
		return DefaultAppreciation
	}

	den := sw*swxx - swx*swx
	if math.Abs(den) < degenerateEpsilon {
		return DefaultAppreciation
	}
	slope := (sw*swxy - swx*swy) / den
	intercept := (swy - slope*swx) / sw
	if intercept <= 0 {
		return DefaultAppreciation
	}
	return math.Max(MinAppreciation, math.Min(MaxAppreciation, slope/intercept))
}
