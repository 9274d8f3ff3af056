package propnex

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Scalar holds a JSON value the API sends as a number, a string or null.
type Scalar struct {
	raw   string
	valid bool
}

// S builds a Scalar from a Go value (for tests and fixtures).
func S(v any) Scalar {
	switch x := v.(type) {
	case nil:
		return Scalar{}
	case string:
		return Scalar{raw: x, valid: true}
	default:
		b, _ := json.Marshal(x)
		return Scalar{raw: string(b), valid: true}
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = Scalar{}
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Scalar{raw: str, valid: true}
		return nil
	}
	*s = Scalar{raw: string(b), valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Scalar) MarshalJSON() ([]byte, error) {
	if !s.valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.raw)
}

// Text returns the trimmed string form, or false when null or blank.
func (s Scalar) Text() (string, bool) {
	if !s.valid {
		return "", false
	}
	t := strings.TrimSpace(s.raw)
	return t, t != ""
}

// Float parses the value as a finite number. Thousands separators are
// tolerated.
func (s Scalar) Float() (float64, bool) {
	t, ok := s.Text()
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(t, ",", ""), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int parses the value as a whole number.
func (s Scalar) Int() (int64, bool) {
	f, ok := s.Float()
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// NonZeroInt is Int that also rejects zero.
func (s Scalar) NonZeroInt() (int64, bool) {
	n, ok := s.Int()
	return n, ok && n != 0
}

// Valid reports whether the value was present and non-null.
func (s Scalar) Valid() bool {
	return s.valid
}
