// Package merge decides how newly normalized candidates reconcile with the
// canonical rows already stored under the same identity key.
//
// Merges only ever fill nulls. A populated field is never erased and an
// exact floor/unit is never replaced by a range, so applying a decision a
// second time is a no-op.
package merge

import (
	"slices"

	"github.com/hartproperty/propsync/internal/model"
)

// Action is the outcome of resolving one identity key.
type Action int

const (
	Insert Action = iota
	Update
	Skip
)

func (a Action) String() string {
	switch a {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Decision is what to write for one identity key. Row is the unioned row;
// IDs are the stored rows an Update fills. The precise index allows one
// row per exact floor/unit, so Row's exact location is only applied to
// ExactID.
type Decision struct {
	Action  Action
	Key     string
	Row     model.Transaction
	IDs     []string
	ExactID string
}

// Origin names a side of the merge.
type Origin int

const (
	FromExisting Origin = iota
	FromIncoming
)

// Precedence is the order sides are consulted when coalescing: stored data
// first, so incoming data only fills gaps.
var Precedence = []Origin{FromExisting, FromIncoming}

// SourceRank orders incoming candidates. Higher ranks are consulted first.
func SourceRank(s model.Source) int {
	switch s {
	case model.SourceManual:
		return 4
	case model.SourceBrokerage:
		return 3
	case model.SourceOCR:
		return 2
	case model.SourceGovernment:
		return 1
	default:
		return 0
	}
}

// Coalesce returns the first non-nil value.
func Coalesce[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// MissingCore reports whether any core field is absent: exact level or
// unit, unit type, purchase date or purchase price.
func MissingCore(t *model.Transaction) bool {
	return t.ExactLevel == nil || *t.ExactLevel <= 0 ||
		t.ExactUnit == nil || *t.ExactUnit <= 0 ||
		t.UnitType == nil ||
		t.PurchaseDate == nil ||
		t.PurchasePrice == nil || *t.PurchasePrice <= 0
}

// Ordered returns existing and incoming rows in coalescing order. Stored
// rows with exact data lead the stored side; candidates follow by
// SourceRank. Both sorts are stable.
func Ordered(existing, incoming []model.Transaction) []model.Transaction {
	ex := slices.Clone(existing)
	slices.SortStableFunc(ex, func(a, b model.Transaction) int {
		return boolRank(b.HasExactLocation()) - boolRank(a.HasExactLocation())
	})
	in := slices.Clone(incoming)
	slices.SortStableFunc(in, func(a, b model.Transaction) int {
		return SourceRank(b.Source) - SourceRank(a.Source)
	})

	out := make([]model.Transaction, 0, len(ex)+len(in))
	for _, o := range Precedence {
		switch o {
		case FromExisting:
			out = append(out, ex...)
		case FromIncoming:
			out = append(out, in...)
		}
	}
	return out
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Union coalesces every field across existing then incoming rows. Identity
// fields come from the first row in order. An exact level is only taken
// when it lies inside every floor range in the set, and a floor range only
// when it contains every exact level, so the union never contradicts a row
// it is applied to.
func Union(existing, incoming []model.Transaction) model.Transaction {
	rows := Ordered(existing, incoming)
	if len(rows) == 0 {
		return model.Transaction{}
	}
	first := rows[0]
	u := model.Transaction{
		ID:                  first.ID,
		CondoName:           first.CondoName,
		CondoNameNormalized: first.CondoNameNormalized,
		SaleDate:            first.SaleDate,
		SalePrice:           first.SalePrice,
		SaleMonth:           model.Month(first.SaleDate),
		Source:              first.Source,
		CreatedAt:           first.CreatedAt,
	}

	var levels []int
	var bands [][2]int
	for i := range rows {
		if rows[i].ExactLevel != nil {
			levels = append(levels, *rows[i].ExactLevel)
		}
		if rows[i].LevelLow != nil && rows[i].LevelHigh != nil {
			bands = append(bands, [2]int{*rows[i].LevelLow, *rows[i].LevelHigh})
		}
	}

	for i := range rows {
		r := &rows[i]
		if u.CondoName == "" {
			u.CondoName = r.CondoName
		}
		if u.ExactLevel == nil && r.ExactLevel != nil && *r.ExactLevel > 0 && insideAll(*r.ExactLevel, bands) {
			u.ExactLevel = model.Ptr(*r.ExactLevel)
		}
		if u.ExactUnit == nil && r.ExactUnit != nil && *r.ExactUnit > 0 {
			u.ExactUnit = model.Ptr(*r.ExactUnit)
		}
		if u.LevelLow == nil && r.LevelLow != nil && r.LevelHigh != nil && containsAll(*r.LevelLow, *r.LevelHigh, levels) {
			u.LevelLow, u.LevelHigh = model.Ptr(*r.LevelLow), model.Ptr(*r.LevelHigh)
		}
		u.Sqft = Coalesce(u.Sqft, r.Sqft)
		u.UnitType = Coalesce(u.UnitType, r.UnitType)
		u.PropertyType = Coalesce(u.PropertyType, r.PropertyType)
		u.SaleType = Coalesce(u.SaleType, r.SaleType)
		u.PurchasePrice = Coalesce(u.PurchasePrice, r.PurchasePrice)
		u.PurchaseDate = Coalesce(u.PurchaseDate, r.PurchaseDate)
		u.Profit = Coalesce(u.Profit, r.Profit)
		u.AnnualisedPct = Coalesce(u.AnnualisedPct, r.AnnualisedPct)
		u.BrokerageProjectID = Coalesce(u.BrokerageProjectID, r.BrokerageProjectID)
	}
	if u.ExactLevel == nil {
		u.ExactUnit = nil
	}
	model.DeriveLineage(&u)
	return u
}

func insideAll(level int, bands [][2]int) bool {
	for _, b := range bands {
		if level < b[0] || level > b[1] {
			return false
		}
	}
	return true
}

func containsAll(lo, hi int, levels []int) bool {
	for _, l := range levels {
		if l < lo || l > hi {
			return false
		}
	}
	return true
}

// Fill copies every field of src into dst where dst is null and reports
// whether anything changed. It is the in-memory form of the store's
// fill-nulls update.
func Fill(dst, src model.Transaction) (model.Transaction, bool) {
	return fill(dst, src, true)
}

// Apply fills dst from an Update decision, honouring ExactID.
func Apply(dst model.Transaction, d Decision) (model.Transaction, bool) {
	return fill(dst, d.Row, dst.ID != "" && dst.ID == d.ExactID)
}

func fill(dst, src model.Transaction, exact bool) (model.Transaction, bool) {
	out := dst
	changed := false
	if exact {
		fillPtr(&out.ExactLevel, src.ExactLevel, &changed)
		fillPtr(&out.ExactUnit, src.ExactUnit, &changed)
	}
	fillPtr(&out.LevelLow, src.LevelLow, &changed)
	fillPtr(&out.LevelHigh, src.LevelHigh, &changed)
	fillPtr(&out.Sqft, src.Sqft, &changed)
	fillPtr(&out.UnitType, src.UnitType, &changed)
	fillPtr(&out.PropertyType, src.PropertyType, &changed)
	fillPtr(&out.SaleType, src.SaleType, &changed)
	fillPtr(&out.PurchasePrice, src.PurchasePrice, &changed)
	fillPtr(&out.PurchaseDate, src.PurchaseDate, &changed)
	fillPtr(&out.Profit, src.Profit, &changed)
	fillPtr(&out.AnnualisedPct, src.AnnualisedPct, &changed)
	fillPtr(&out.BrokerageProjectID, src.BrokerageProjectID, &changed)
	return out, changed
}

func fillPtr[T any](dst **T, src *T, changed *bool) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
		*changed = true
	}
}

// Resolve decides the action for one key. With no stored rows the
// candidates are inserted as one unioned row. Otherwise only stored rows
// still missing a core field are eligible; each receives the same union
// (the exact location going to ExactID alone), and rows the union would
// not change are left out. When nothing is left to fill the key is
// skipped.
func Resolve(existing, incoming []model.Transaction) Decision {
	if len(existing) == 0 {
		return Decision{Action: Insert, Row: Union(nil, incoming)}
	}

	var eligible []model.Transaction
	for i := range existing {
		if existing[i].ID != "" && MissingCore(&existing[i]) {
			eligible = append(eligible, existing[i])
		}
	}
	if len(eligible) == 0 {
		return Decision{Action: Skip, Row: existing[0], IDs: ids(existing)}
	}

	d := Decision{Action: Update, Row: Union(eligible, incoming)}
	d.ExactID = exactTarget(existing, eligible, &d.Row)
	for _, e := range eligible {
		if _, changed := Apply(e, d); changed {
			d.IDs = append(d.IDs, e.ID)
		}
	}
	if len(d.IDs) == 0 {
		return Decision{Action: Skip, Row: d.Row, IDs: ids(eligible)}
	}
	return d
}

// exactTarget picks the one row that may carry the union's exact location:
// the row already holding it, else the first eligible row it fits.
func exactTarget(existing, eligible []model.Transaction, u *model.Transaction) string {
	if !u.HasExactLocation() {
		return ""
	}
	l, n := *u.ExactLevel, *u.ExactUnit
	for i := range existing {
		e := &existing[i]
		if e.HasExactLocation() && *e.ExactLevel == l && *e.ExactUnit == n {
			return e.ID
		}
	}
	for i := range eligible {
		e := &eligible[i]
		if (e.ExactLevel == nil || *e.ExactLevel == l) && (e.ExactUnit == nil || *e.ExactUnit == n) {
			return e.ID
		}
	}
	return ""
}

func ids(rows []model.Transaction) []string {
	out := make([]string, 0, len(rows))
	for i := range rows {
		if rows[i].ID != "" {
			out = append(out, rows[i].ID)
		}
	}
	return out
}
