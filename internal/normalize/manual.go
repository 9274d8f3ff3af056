package normalize

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/model"
)

// ErrInvalidPatch marks a manual patch that fails validation.
var ErrInvalidPatch = eris.New("invalid patch")

// Patch is a partial admin edit. Nil fields leave the stored value alone.
type Patch struct {
	ID            *string  `json:"id,omitempty" yaml:"id,omitempty"`
	CondoName     *string  `json:"condo_name,omitempty" yaml:"condo_name,omitempty"`
	SaleDate      *string  `json:"sale_date,omitempty" yaml:"sale_date,omitempty"`
	SalePrice     *float64 `json:"sale_price,omitempty" yaml:"sale_price,omitempty"`
	ExactLevel    *int     `json:"exact_level,omitempty" yaml:"exact_level,omitempty"`
	ExactUnit     *int     `json:"exact_unit,omitempty" yaml:"exact_unit,omitempty"`
	LevelLow      *int     `json:"level_low,omitempty" yaml:"level_low,omitempty"`
	LevelHigh     *int     `json:"level_high,omitempty" yaml:"level_high,omitempty"`
	Sqft          *float64 `json:"sqft,omitempty" yaml:"sqft,omitempty"`
	UnitType      *string  `json:"unit_type,omitempty" yaml:"unit_type,omitempty"`
	PropertyType  *string  `json:"property_type,omitempty" yaml:"property_type,omitempty"`
	SaleType      *string  `json:"sale_type,omitempty" yaml:"sale_type,omitempty"`
	PurchasePrice *float64 `json:"purchase_price,omitempty" yaml:"purchase_price,omitempty"`
	PurchaseDate  *string  `json:"purchase_date,omitempty" yaml:"purchase_date,omitempty"`
}

func invalid(field, format string, args ...any) error {
	return eris.Wrapf(ErrInvalidPatch, "normalize: %s: "+format, append([]any{field}, args...)...)
}

// ApplyPatch overlays p onto a stored row and validates the result. Name
// and unit type are required. Profit and annualised return are recomputed
// from the edited purchase and sale sides.
func ApplyPatch(existing model.Transaction, p Patch) (model.Transaction, error) {
	t := existing
	if err := overlay(&t, p); err != nil {
		return existing, err
	}
	if err := validate(&t); err != nil {
		return existing, err
	}
	if t.UnitType == nil {
		return existing, invalid("unit_type", "required")
	}
	t.Profit, t.AnnualisedPct = nil, nil
	model.DeriveLineage(&t)
	identity.Stamp(&t)
	return t, nil
}

// Manual turns a patch without an id into a candidate for the merge path.
func Manual(p Patch) (model.Transaction, error) {
	var t model.Transaction
	if err := overlay(&t, p); err != nil {
		return model.Transaction{}, err
	}
	if err := validate(&t); err != nil {
		return model.Transaction{}, err
	}
	t.Source = model.SourceManual
	model.StripPartialLineage(&t)
	identity.Stamp(&t)
	return t, nil
}

func overlay(t *model.Transaction, p Patch) error {
	if p.CondoName != nil {
		t.CondoName = strings.TrimSpace(*p.CondoName)
	}
	if p.SaleDate != nil {
		d, err := model.ParseDate(strings.TrimSpace(*p.SaleDate))
		if err != nil {
			return invalid("sale_date", "want YYYY-MM-DD, got %q", *p.SaleDate)
		}
		t.SaleDate = d
	}
	if p.PurchaseDate != nil {
		d, err := model.ParseDate(strings.TrimSpace(*p.PurchaseDate))
		if err != nil {
			return invalid("purchase_date", "want YYYY-MM-DD, got %q", *p.PurchaseDate)
		}
		t.PurchaseDate = &d
	}
	if p.SalePrice != nil {
		if *p.SalePrice <= 0 {
			return invalid("sale_price", "must be positive")
		}
		t.SalePrice = *p.SalePrice
	}
	floats := []struct {
		name string
		v    *float64
		dst  **float64
	}{
		{"sqft", p.Sqft, &t.Sqft},
		{"purchase_price", p.PurchasePrice, &t.PurchasePrice},
	}
	for _, f := range floats {
		if f.v == nil {
			continue
		}
		if *f.v <= 0 {
			return invalid(f.name, "must be positive")
		}
		*f.dst = model.Ptr(*f.v)
	}
	ints := []struct {
		name string
		v    *int
		dst  **int
	}{
		{"exact_level", p.ExactLevel, &t.ExactLevel},
		{"exact_unit", p.ExactUnit, &t.ExactUnit},
		{"level_low", p.LevelLow, &t.LevelLow},
		{"level_high", p.LevelHigh, &t.LevelHigh},
	}
	for _, f := range ints {
		if f.v == nil {
			continue
		}
		if *f.v <= 0 {
			return invalid(f.name, "must be positive")
		}
		*f.dst = model.Ptr(*f.v)
	}
	if p.UnitType != nil {
		t.UnitType = nonEmpty(*p.UnitType)
	}
	if p.PropertyType != nil {
		t.PropertyType = nonEmpty(*p.PropertyType)
	}
	if p.SaleType != nil {
		t.SaleType = nonEmpty(*p.SaleType)
	}
	return nil
}

func validate(t *model.Transaction) error {
	switch {
	case t.CondoName == "":
		return invalid("condo_name", "required")
	case t.SaleDate.IsZero():
		return invalid("sale_date", "required")
	case t.SalePrice <= 0:
		return invalid("sale_price", "required")
	}
	if t.LevelLow != nil && t.LevelHigh != nil && *t.LevelLow > *t.LevelHigh {
		return invalid("level_low", "above level_high")
	}
	if t.ExactLevel != nil && t.LevelLow != nil && t.LevelHigh != nil &&
		(*t.ExactLevel < *t.LevelLow || *t.ExactLevel > *t.LevelHigh) {
		return invalid("exact_level", "outside stored floor range %d-%d", *t.LevelLow, *t.LevelHigh)
	}
	return nil
}
