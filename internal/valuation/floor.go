package valuation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	dashLabelRe = regexp.MustCompile(`^(\d+)\s*-\s*(\d+)$`)
	fourDigitRe = regexp.MustCompile(`^\d{4}$`)
	floorOnlyRe = regexp.MustCompile(`^\d{1,2}$`)
)

func cleanLabel(label string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(label), "#"))
}

// ParseFloor reads the floor out of a unit label: "#12-05", "12-05",
// "1205" (first two digits) or a bare "12".
func ParseFloor(label string) (int, bool) {
	s := cleanLabel(label)
	var digits string
	switch {
	case dashLabelRe.MatchString(s):
		digits = dashLabelRe.FindStringSubmatch(s)[1]
	case fourDigitRe.MatchString(s):
		digits = s[:2]
	case floorOnlyRe.MatchString(s):
		digits = s
	default:
		return 0, false
	}
	floor, err := strconv.Atoi(digits)
	if err != nil || floor <= 0 {
		return 0, false
	}
	return floor, true
}

// ParseUnitNumber reads floor and unit out of "#12-05", "12-05" or
// "1205". A bare floor has no unit and is rejected.
func ParseUnitNumber(label string) (floor, unit int, ok bool) {
	s := cleanLabel(label)
	var f, u string
	switch {
	case dashLabelRe.MatchString(s):
		m := dashLabelRe.FindStringSubmatch(s)
		f, u = m[1], m[2]
	case fourDigitRe.MatchString(s):
		f, u = s[:2], s[2:]
	default:
		return 0, 0, false
	}
	floor, err1 := strconv.Atoi(f)
	unit, err2 := strconv.Atoi(u)
	if err1 != nil || err2 != nil || floor <= 0 || unit <= 0 {
		return 0, 0, false
	}
	return floor, unit, true
}

// FloorBand is a fixed five-floor bucket. The top bucket is open ended.
type FloorBand struct {
	Low   int    `json:"low"`
	High  int    `json:"high"`
	Label string `json:"label"`
}

// topBandHigh stands in for "no upper bound" on the 41+ bucket.
const topBandHigh = 999

// Band returns the bucket floor falls in: 1-5, 6-10, ... 36-40, 41+.
func Band(floor int) FloorBand {
	if floor > 40 {
		return FloorBand{Low: 41, High: topBandHigh, Label: "41+"}
	}
	if floor < 1 {
		floor = 1
	}
	low := (floor-1)/5*5 + 1
	high := low + 4
	return FloorBand{Low: low, High: high, Label: fmt.Sprintf("%02d to %02d", low, high)}
}

// Intersects reports whether [low, high] overlaps the band.
func (b FloorBand) Intersects(low, high int) bool {
	return low <= b.High && high >= b.Low
}

// RangeLabel formats a stored floor range for display: "06 to 10", a
// single "12", or "?" when unknown.
func RangeLabel(low, high *int) string {
	switch {
	case low == nil && high == nil:
		return "?"
	case low != nil && high != nil && *low == *high:
		return fmt.Sprintf("%02d", *low)
	}
	part := func(p *int) string {
		if p == nil {
			return "?"
		}
		return fmt.Sprintf("%02d", *p)
	}
	return part(low) + " to " + part(high)
}
