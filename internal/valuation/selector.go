package valuation

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/store"
)

// Size band and recency windows.
const (
	SizeBandLow        = 0.85
	SizeBandHigh       = 1.15
	RecentYears        = 2
	MinRecent          = 3
	AppreciationYears  = 3
	MinAppreciationSet = 3
)

// ComparableSource queries a condo's sales within a size band.
type ComparableSource interface {
	Comparables(ctx context.Context, q store.ComparableQuery) ([]model.Transaction, error)
}

// Selection is the comparable set for one valuation target.
type Selection struct {
	Band FloorBand
	// SizeBand holds every priced sale within the size band, newest first.
	SizeBand []model.Transaction
	// SameFloor is the part of SizeBand whose floor range meets Band.
	SameFloor []model.Transaction
	// Chosen is SameFloor when non-empty, else SizeBand.
	Chosen []model.Transaction
	// Recent is the part of Chosen sold within RecentYears.
	Recent []model.Transaction
}

// Empty reports whether no sale fell in the size band.
func (s *Selection) Empty() bool { return len(s.SizeBand) == 0 }

// UseRecent reports whether enough recent sales exist to value from them
// directly.
func (s *Selection) UseRecent() bool { return len(s.Recent) >= MinRecent }

// SameFloorUsed reports whether comparables came from the target's band.
func (s *Selection) SameFloorUsed() bool { return len(s.SameFloor) > 0 }

// Used returns the rows the estimate is computed from.
func (s *Selection) Used() []model.Transaction {
	if s.UseRecent() {
		return s.Recent
	}
	return s.Chosen
}

// Selector picks comparables from the store.
type Selector struct {
	source ComparableSource
	now    func() time.Time
}

// NewSelector creates a Selector. A nil now uses time.Now.
func NewSelector(source ComparableSource, now func() time.Time) *Selector {
	if now == nil {
		now = time.Now
	}
	return &Selector{source: source, now: now}
}

// Select returns the comparable set for a unit of sqft on floor.
func (s *Selector) Select(ctx context.Context, condo string, floor int, sqft float64) (*Selection, error) {
	rows, err := s.source.Comparables(ctx, store.ComparableQuery{
		Condo:   condo,
		MinSqft: math.Floor(sqft * SizeBandLow),
		MaxSqft: math.Ceil(sqft * SizeBandHigh),
	})
	if err != nil {
		return nil, eris.Wrap(err, "valuation: comparables")
	}
	return Split(rows, floor, s.now()), nil
}

// Split partitions size-band rows into the selection for floor as of now.
// Rows without a positive price or size are ignored.
func Split(rows []model.Transaction, floor int, now time.Time) *Selection {
	sel := &Selection{Band: Band(floor)}
	for i := range rows {
		if _, ok := rows[i].PSF(); ok {
			sel.SizeBand = append(sel.SizeBand, rows[i])
		}
	}
	slices.SortStableFunc(sel.SizeBand, func(a, b model.Transaction) int {
		return b.SaleDate.Compare(a.SaleDate)
	})

	for i := range sel.SizeBand {
		if low, high, ok := sel.SizeBand[i].FloorBand(); ok && sel.Band.Intersects(low, high) {
			sel.SameFloor = append(sel.SameFloor, sel.SizeBand[i])
		}
	}
	sel.Chosen = sel.SizeBand
	if len(sel.SameFloor) > 0 {
		sel.Chosen = sel.SameFloor
	}

	cutoff := now.AddDate(-RecentYears, 0, 0)
	for i := range sel.Chosen {
		if !sel.Chosen[i].SaleDate.Before(cutoff) {
			sel.Recent = append(sel.Recent, sel.Chosen[i])
		}
	}
	return sel
}

// AppreciationSet returns the rows the appreciation rate is fitted on:
// the size-band sales of the last AppreciationYears when there are at
// least MinAppreciationSet of them, else the whole size band.
func (s *Selection) AppreciationSet(now time.Time) []model.Transaction {
	cutoff := now.AddDate(-AppreciationYears, 0, 0)
	var recent []model.Transaction
	for i := range s.SizeBand {
		if !s.SizeBand[i].SaleDate.Before(cutoff) {
			recent = append(recent, s.SizeBand[i])
		}
	}
	if len(recent) >= MinAppreciationSet {
		return recent
	}
	return s.SizeBand
}
