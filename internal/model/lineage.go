package model

import (
	"math"
	"time"
)

const daysPerYear = 365.25

// HoldingDays is the number of whole days between purchase and sale, or
// false when either date is unknown.
func (t *Transaction) HoldingDays() (int, bool) {
	if t.PurchaseDate == nil || t.SaleDate.IsZero() {
		return 0, false
	}
	return int(t.SaleDate.Sub(*t.PurchaseDate) / (24 * time.Hour)), true
}

func (t *Transaction) lineageComplete() bool {
	days, ok := t.HoldingDays()
	return ok && days > 0 && t.PurchasePrice != nil && *t.PurchasePrice > 0 && t.SalePrice > 0
}

// CAGR returns the compound annual return in percent, rounded to 2 decimals.
func CAGR(salePrice, purchasePrice float64, holdingDays int) float64 {
	years := float64(holdingDays) / daysPerYear
	return Round2((math.Pow(salePrice/purchasePrice, 1/years) - 1) * 100)
}

// DeriveLineage fills profit and annualised return when the purchase side
// is complete. Populated values are left alone.
func DeriveLineage(t *Transaction) {
	if !t.lineageComplete() {
		return
	}
	days, _ := t.HoldingDays()
	if t.Profit == nil {
		t.Profit = Ptr(Round2(t.SalePrice - *t.PurchasePrice))
	}
	if t.AnnualisedPct == nil {
		t.AnnualisedPct = Ptr(CAGR(t.SalePrice, *t.PurchasePrice, days))
	}
}

// StripPartialLineage clears profit and annualised return on a freshly
// normalized candidate whose purchase side is incomplete, then derives
// whatever the complete lineage implies.
func StripPartialLineage(t *Transaction) {
	if !t.lineageComplete() {
		t.Profit = nil
		t.AnnualisedPct = nil
		return
	}
	DeriveLineage(t)
}
