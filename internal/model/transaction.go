// Package model defines the canonical records shared by ingestion,
// reconciliation and valuation.
package model

import (
	"math"
	"time"
)

// Source identifies the feed a candidate transaction came from.
type Source string

const (
	SourceGovernment Source = "ura"
	SourceBrokerage  Source = "propnex"
	SourceOCR        Source = "ocr"
	SourceManual     Source = "manual"
)

// Sale types shared by every feed.
const (
	SaleTypeNew    = "New Sale"
	SaleTypeSub    = "Sub Sale"
	SaleTypeResale = "Resale"
)

// DateLayout is the calendar-date wire format.
const DateLayout = "2006-01-02"

// Transaction is the canonical sale record. Optional fields are nil when
// unknown; a nil field is eligible to be filled by a later merge.
type Transaction struct {
	ID                  string    `json:"id"`
	CondoName           string    `json:"condo_name"`
	CondoNameNormalized string    `json:"condo_name_normalized"`
	SaleDate            time.Time `json:"sale_date"`
	SalePrice           float64   `json:"sale_price"`
	SaleMonth           int       `json:"sale_month"`

	ExactLevel *int `json:"exact_level,omitempty"`
	ExactUnit  *int `json:"exact_unit,omitempty"`
	LevelLow   *int `json:"level_low,omitempty"`
	LevelHigh  *int `json:"level_high,omitempty"`

	Sqft         *float64 `json:"sqft,omitempty"`
	UnitType     *string  `json:"unit_type,omitempty"`
	PropertyType *string  `json:"property_type,omitempty"`
	SaleType     *string  `json:"sale_type,omitempty"`

	PurchasePrice *float64   `json:"purchase_price,omitempty"`
	PurchaseDate  *time.Time `json:"purchase_date,omitempty"`
	Profit        *float64   `json:"profit,omitempty"`
	AnnualisedPct *float64   `json:"annualised_pct,omitempty"`

	Source             Source    `json:"source"`
	BrokerageProjectID *int64    `json:"brokerage_project_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Date returns midnight UTC on the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string, rejecting impossible dates.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// Month returns the YYYYMM grouping value for d.
func Month(d time.Time) int {
	return d.Year()*100 + int(d.Month())
}

// HasExactLocation reports whether both exact level and unit are known.
func (t *Transaction) HasExactLocation() bool {
	return t.ExactLevel != nil && t.ExactUnit != nil
}

// FloorBand returns the floor range a transaction is known to lie in. A
// stored range wins; otherwise an exact level is a one-floor band.
func (t *Transaction) FloorBand() (low, high int, ok bool) {
	if t.LevelLow != nil && t.LevelHigh != nil {
		return *t.LevelLow, *t.LevelHigh, true
	}
	if t.ExactLevel != nil {
		return *t.ExactLevel, *t.ExactLevel, true
	}
	return 0, 0, false
}

// PSF returns price per square foot when size is known.
func (t *Transaction) PSF() (float64, bool) {
	if t.Sqft == nil || *t.Sqft <= 0 || t.SalePrice <= 0 {
		return 0, false
	}
	return t.SalePrice / *t.Sqft, true
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
