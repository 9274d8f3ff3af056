// Package normalize maps each feed's raw rows into canonical transactions.
// Normalizers never write; a row that fails a required field is dropped
// with a reason code instead of flowing on half-typed.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/model"
)

// Reason codes a dropped row is reported under.
type Reason string

const (
	ReasonMissingName    Reason = "missing_name"
	ReasonInvalidPrice   Reason = "invalid_price"
	ReasonInvalidDate    Reason = "invalid_date"
	ReasonInvalidField   Reason = "invalid_field"
	ReasonNonResidential Reason = "non_residential"
)

// Drop records one rejected row.
type Drop struct {
	Source model.Source `json:"source"`
	Reason Reason       `json:"reason"`
	Field  string       `json:"field,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

// Result is the outcome of normalizing one unit of raw input.
type Result struct {
	Candidates []model.Transaction
	Drops      []Drop
}

// DropCounts tallies drops by reason.
func (r *Result) DropCounts() map[Reason]int {
	counts := make(map[Reason]int, len(r.Drops))
	for _, d := range r.Drops {
		counts[d.Reason]++
	}
	return counts
}

func (r *Result) accept(t model.Transaction) {
	identity.Stamp(&t)
	r.Candidates = append(r.Candidates, t)
}

func (r *Result) reject(d *Drop) {
	r.Drops = append(r.Drops, *d)
}

var (
	floorRangeRe  = regexp.MustCompile(`(\d+)\s*-\s*(\d+)`)
	singleFloorRe = regexp.MustCompile(`(\d+)`)
)

// FloorRange parses "06 - 10" into (6, 10) and "12" into (12, 12). Blank
// or digit-free input yields nils.
func FloorRange(s string) (low, high *int) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if m := floorRangeRe.FindStringSubmatch(s); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		return &lo, &hi
	}
	if m := singleFloorRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return &n, model.Ptr(n)
	}
	return nil, nil
}

// SqmToSqft converts square metres to whole square feet.
func SqmToSqft(sqm float64) float64 {
	return math.Round(sqm * 10.764)
}

// parseAmount parses a positive currency amount, tolerating "$" and
// thousands separators.
func parseAmount(s string) (float64, bool) {
	s = strings.NewReplacer("$", "", ",", "", "S", "").Replace(strings.TrimSpace(s))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return f, true
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
