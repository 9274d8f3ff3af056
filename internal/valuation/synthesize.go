package valuation

import (
	"math"
	"slices"
	"time"

	"github.com/hartproperty/propsync/internal/decay"
)

// Estimate methods.
const (
	MethodRecent       = "recent"
	MethodTimeAdjusted = "time_adjusted"
)

const (
	maxComparables = 10
	floorStep      = 0.005
	// defaultFloor stands in for a comparable with no known floor.
	defaultFloor = 10.0
)

var (
	// RecentKernel weights recent sales by 0.92 per month of age.
	RecentKernel = decay.Kernel{Base: 0.92, Unit: decay.Months}
	// AdjustedKernel weights time-adjusted sales by 0.90 per month of age.
	AdjustedKernel = decay.Kernel{Base: 0.90, Unit: decay.Months}
)

// Comparable is one sale shown alongside an estimate.
type Comparable struct {
	SaleDate    time.Time `json:"sale_date"`
	SalePrice   float64   `json:"sale_price"`
	FloorRange  string    `json:"floor_range"`
	Sqft        float64   `json:"sqft"`
	PSF         float64   `json:"psf"`
	AdjustedPSF float64   `json:"adjusted_psf"`
}

// Estimate is the synthesized low/mid/high valuation.
type Estimate struct {
	Method        string       `json:"method"`
	PSFLow        float64      `json:"psf_low"`
	PSFMid        float64      `json:"psf_mid"`
	PSFHigh       float64      `json:"psf_high"`
	PriceLow      float64      `json:"price_low"`
	PriceMid      float64      `json:"price_mid"`
	PriceHigh     float64      `json:"price_high"`
	FloorAdjusted bool         `json:"floor_adjusted"`
	FloorFactor   float64      `json:"floor_factor"`
	From          time.Time    `json:"from"`
	To            time.Time    `json:"to"`
	DataPeriod    string       `json:"data_period"`
	Comparables   []Comparable `json:"comparables"`
}

// adjust projects a PSF forward by months at an annual rate.
func adjust(psf, annualRate, months float64) float64 {
	return psf * math.Pow(1+annualRate/12, months)
}

// Synthesize turns a non-empty selection into an estimate for a unit of
// sqft on floor. With enough recent sales their raw PSFs are averaged;
// otherwise every chosen sale is projected to now at rate first. When no
// same-floor sale exists the result is scaled by half a percent per floor
// of difference from the comparables' average floor.
func Synthesize(sel *Selection, floor int, sqft, rate float64, now time.Time) Estimate {
	used := sel.Used()
	est := Estimate{FloorFactor: 1}

	values := make([]float64, 0, len(used))
	weights := make([]float64, 0, len(used))
	if sel.UseRecent() {
		est.Method = MethodRecent
		for i := range used {
			psf, _ := used[i].PSF()
			values = append(values, psf)
			weights = append(weights, RecentKernel.Weight(used[i].SaleDate, now))
		}
	} else {
		est.Method = MethodTimeAdjusted
		for i := range used {
			psf, _ := used[i].PSF()
			values = append(values, adjust(psf, rate, AdjustedKernel.Age(used[i].SaleDate, now)))
			weights = append(weights, AdjustedKernel.Weight(used[i].SaleDate, now))
		}
	}
	if len(values) == 0 {
		return est
	}

	mid, ok := decay.WeightedMean(values, weights)
	if !ok {
		// Every weight underflowed; fall back to a plain mean.
		mid, _ = decay.WeightedMean(values, slices.Repeat([]float64{1}, len(values)))
	}
	est.PSFMid = math.Round(mid)
	est.PSFLow = math.Round(slices.Min(values))
	est.PSFHigh = math.Round(slices.Max(values))

	if !sel.SameFloorUsed() {
		var sum float64
		for i := range used {
			if low, high, ok := used[i].FloorBand(); ok {
				sum += float64(low+high) / 2
			} else {
				sum += defaultFloor
			}
		}
		avg := sum / float64(len(used))
		est.FloorAdjusted = true
		est.FloorFactor = 1 + floorStep*(float64(floor)-avg)
		est.PSFLow = math.Round(est.PSFLow * est.FloorFactor)
		est.PSFMid = math.Round(est.PSFMid * est.FloorFactor)
		est.PSFHigh = math.Round(est.PSFHigh * est.FloorFactor)
	}

	est.PriceLow = math.Round(est.PSFLow * sqft)
	est.PriceMid = math.Round(est.PSFMid * sqft)
	est.PriceHigh = math.Round(est.PSFHigh * sqft)

	est.From, est.To = used[0].SaleDate, used[0].SaleDate
	for i := range used {
		d := used[i].SaleDate
		if d.Before(est.From) {
			est.From = d
		}
		if d.After(est.To) {
			est.To = d
		}
	}
	est.DataPeriod = est.From.Format("Jan 2006") + " - " + est.To.Format("Jan 2006")

	for i := range used[:min(len(used), maxComparables)] {
		t := &used[i]
		psf, _ := t.PSF()
		c := Comparable{
			SaleDate:    t.SaleDate,
			SalePrice:   t.SalePrice,
			FloorRange:  "?",
			Sqft:        *t.Sqft,
			PSF:         math.Round(psf),
			AdjustedPSF: math.Round(adjust(psf, rate, AdjustedKernel.Age(t.SaleDate, now))),
		}
		if low, high, ok := t.FloorBand(); ok {
			c.FloorRange = RangeLabel(&low, &high)
		}
		est.Comparables = append(est.Comparables, c)
	}
	return est
}

