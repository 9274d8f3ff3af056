// Package identity derives the dedup keys used to recognise one real-world
// sale reported by several feeds.
//
// Names match on exact normalized-string equality only. Two distinct sales
// of the same development at the same price in the same month share a
// coarse key; nothing in the feeds can tell them apart without an exact
// unit, so that collision is kept rather than guessed away.
package identity

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hartproperty/propsync/internal/model"
)

var lower = cases.Lower(language.Und)

// NormalizeName lowercases and trims a development name. Inner whitespace
// runs collapse to one space; nothing else is rewritten.
func NormalizeName(name string) string {
	return lower.String(strings.Join(strings.Fields(name), " "))
}

// CoarseKey groups candidates when the exact unit is unknown.
type CoarseKey struct {
	Name  string
	Price float64
	Month int
}

func (k CoarseKey) String() string {
	return fmt.Sprintf("%s::%.2f::%d", k.Name, k.Price, k.Month)
}

// PreciseKey refines a coarse key with exact floor and unit.
type PreciseKey struct {
	CoarseKey
	Level int
	Unit  int
}

func (k PreciseKey) String() string {
	return fmt.Sprintf("%s::%d::%d", k.CoarseKey, k.Level, k.Unit)
}

// Coarse returns the coarse key of t.
func Coarse(t *model.Transaction) CoarseKey {
	name := t.CondoNameNormalized
	if name == "" {
		name = NormalizeName(t.CondoName)
	}
	month := t.SaleMonth
	if month == 0 && !t.SaleDate.IsZero() {
		month = model.Month(t.SaleDate)
	}
	return CoarseKey{Name: name, Price: t.SalePrice, Month: month}
}

// Precise returns the precise key of t, or false when exact level or unit
// is unknown.
func Precise(t *model.Transaction) (PreciseKey, bool) {
	if !t.HasExactLocation() {
		return PreciseKey{}, false
	}
	return PreciseKey{CoarseKey: Coarse(t), Level: *t.ExactLevel, Unit: *t.ExactUnit}, true
}

// For returns the grouping key string for t: the precise key when exact
// data is known, the coarse key otherwise.
func For(t *model.Transaction) string {
	if k, ok := Precise(t); ok {
		return k.String()
	}
	return Coarse(t).String()
}

// Stamp fills the derived identity columns of t in place.
func Stamp(t *model.Transaction) {
	t.CondoNameNormalized = NormalizeName(t.CondoName)
	t.SaleMonth = model.Month(t.SaleDate)
}
