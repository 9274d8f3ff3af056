// Package feeds binds each transaction source to the reconciliation
// driver. A feed fetches one unit of work and normalizes it; the driver
// does the rest.
package feeds

import (
	"context"
	"strconv"

	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/reconcile"
)

// NameResolver maps normalized condo names to their stored display name.
type NameResolver interface {
	CanonicalNames(ctx context.Context, normalized []string) (map[string]string, error)
}

// MissingLister lists units recorded as missing for a source.
type MissingLister interface {
	ListMissing(ctx context.Context, source model.Source) ([]model.MissingUnit, error)
}

// RangeUnits returns the decimal units from..to inclusive.
func RangeUnits(from, to int) []string {
	if to < from {
		return nil
	}
	units := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		units = append(units, strconv.Itoa(i))
	}
	return units
}

// MissingUnits returns the units of source still on the missing list.
func MissingUnits(ctx context.Context, ml MissingLister, source model.Source) ([]string, error) {
	missing, err := ml.ListMissing(ctx, source)
	if err != nil {
		return nil, err
	}
	units := make([]string, 0, len(missing))
	for _, m := range missing {
		units = append(units, m.Unit)
	}
	return units, nil
}

var (
	_ reconcile.Feed = (*URAFeed)(nil)
	_ reconcile.Feed = (*PropNexFeed)(nil)
	_ reconcile.Feed = (*OCRFeed)(nil)
	_ reconcile.Feed = (*ManualFeed)(nil)
)
