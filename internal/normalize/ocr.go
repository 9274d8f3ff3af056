package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/model"
)

// VisionRow is one untrusted row returned by the vision extractor. Every
// field is loosely typed until validated.
type VisionRow struct {
	Date     any `json:"date"`
	Level    any `json:"level"`
	Unit     any `json:"unit"`
	UnitType any `json:"unit_type"`
	Sqft     any `json:"sqft"`
	Price    any `json:"price"`
	SaleType any `json:"sale_type"`
}

// PriorSaleLookup finds the most recent earlier sale of the same exact
// unit. It returns nil when none exists.
type PriorSaleLookup interface {
	PriorSale(ctx context.Context, condoNormalized string, level, unit int, before time.Time) (*model.Transaction, error)
}

var ocrDateLayouts = []string{
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	model.DateLayout,
	"02/01/2006",
	"2/1/2006",
}

// ParseOCRDate parses the date formats seen in extracted screenshots.
func ParseOCRDate(s string) (time.Time, error) {
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range ocrDateLayouts {
		if d, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return d, nil
		}
	}
	return time.Time{}, eris.Errorf("normalize: unrecognised date %q", s)
}

var saleTypes = map[string]string{
	"new sale": model.SaleTypeNew,
	"sub sale": model.SaleTypeSub,
	"subsale":  model.SaleTypeSub,
	"resale":   model.SaleTypeResale,
}

// OCR validates extracted rows for condo. Resale and sub-sale rows take
// their purchase side from the prior sale of the same unit in the store.
func OCR(ctx context.Context, lookup PriorSaleLookup, condo string, rows []VisionRow) (Result, error) {
	var res Result
	condo = strings.TrimSpace(condo)
	for _, row := range rows {
		t, drop := OCRRow(condo, row)
		if drop != nil {
			res.reject(drop)
			continue
		}
		if lookup != nil && t.SaleType != nil && *t.SaleType != model.SaleTypeNew {
			prior, err := lookup.PriorSale(ctx, identity.NormalizeName(condo), *t.ExactLevel, *t.ExactUnit, t.SaleDate)
			if err != nil {
				return res, eris.Wrap(err, "normalize: prior sale lookup")
			}
			if prior != nil {
				t.PurchasePrice = model.Ptr(prior.SalePrice)
				t.PurchaseDate = model.Ptr(prior.SaleDate)
			}
		}
		model.StripPartialLineage(&t)
		res.accept(t)
	}
	return res, nil
}

// OCRRow validates one row into a candidate. Any field failing validation
// drops the whole row.
func OCRRow(condo string, row VisionRow) (model.Transaction, *Drop) {
	drop := func(reason Reason, field string, v any) (model.Transaction, *Drop) {
		return model.Transaction{}, &Drop{Source: model.SourceOCR, Reason: reason, Field: field, Detail: fmt.Sprint(v)}
	}

	if condo == "" {
		return drop(ReasonMissingName, "condo", "")
	}

	dateText, ok := row.Date.(string)
	if !ok {
		return drop(ReasonInvalidDate, "date", row.Date)
	}
	saleDate, err := ParseOCRDate(dateText)
	if err != nil {
		return drop(ReasonInvalidDate, "date", row.Date)
	}

	price, ok := number(row.Price)
	if !ok || price <= 0 {
		return drop(ReasonInvalidPrice, "price", row.Price)
	}

	level, ok := wholeNumber(row.Level)
	if !ok || level <= 0 {
		return drop(ReasonInvalidField, "level", row.Level)
	}
	unit, ok := wholeNumber(row.Unit)
	if !ok || unit <= 0 {
		return drop(ReasonInvalidField, "unit", row.Unit)
	}

	t := model.Transaction{
		CondoName:  condo,
		SaleDate:   saleDate,
		SalePrice:  price,
		ExactLevel: model.Ptr(level),
		ExactUnit:  model.Ptr(unit),
		Source:     model.SourceOCR,
	}

	if row.Sqft != nil {
		sqft, ok := number(row.Sqft)
		if !ok || sqft <= 0 {
			return drop(ReasonInvalidField, "sqft", row.Sqft)
		}
		t.Sqft = model.Ptr(sqft)
	}

	if row.UnitType != nil {
		s, ok := row.UnitType.(string)
		if !ok {
			return drop(ReasonInvalidField, "unit_type", row.UnitType)
		}
		t.UnitType = nonEmpty(s)
	}

	if row.SaleType != nil {
		s, ok := row.SaleType.(string)
		if !ok {
			return drop(ReasonInvalidField, "sale_type", row.SaleType)
		}
		if s = strings.TrimSpace(s); s != "" {
			label, known := saleTypes[strings.ToLower(s)]
			if !known {
				return drop(ReasonInvalidField, "sale_type", s)
			}
			t.SaleType = &label
		}
	}
	return t, nil
}

// number accepts JSON numbers and numeric strings with currency marks.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.NewReplacer("$", "", ",", "", "S", "").Replace(strings.TrimSpace(n))
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

func wholeNumber(v any) (int, bool) {
	f, ok := number(v)
	if !ok || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
