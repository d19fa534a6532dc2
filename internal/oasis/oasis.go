// Package oasis holds the OASIS Section G item set and the normalization
// rules that keep extracted scores inside the assessment's value domain.
package oasis

import (
	"encoding/json"
	"fmt"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NotApplicable is the marker for an item that does not apply to the patient.
const NotApplicable = "NA"

// MinScore and MaxScore bound every Section G item score.
const (
	MinScore = 0
	MaxScore = 6
)

// Item identifies one Section G question.
type Item string

// Section G items, M1800 through M1860.
const (
	M1800 Item = "M1800" // grooming
	M1810 Item = "M1810" // dress upper body
	M1820 Item = "M1820" // dress lower body
	M1830 Item = "M1830" // bathing
	M1840 Item = "M1840" // toilet transferring
	M1850 Item = "M1850" // transferring
	M1860 Item = "M1860" // ambulation/locomotion
)

// Items lists every Section G item in assessment order.
var Items = []Item{M1800, M1810, M1820, M1830, M1840, M1850, M1860}

// Values holds one value per Section G item. Only Normalize output is
// guaranteed to be in range; provider output is stored as-is.
type Values map[Item]string

// Defaults returns a Values set with every item scored "0".
func Defaults() Values {
	v := make(Values, len(Items))
	for _, item := range Items {
		v[item] = "0"
	}
	return v
}

var (
	decimalLiteral  = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?$`)
	infinityLiteral = regexp.MustCompile(`^[+-]?Infinity$`)
	prefixedLiteral = regexp.MustCompile(`^0(?:[xX][0-9a-fA-F]+|[oO][0-7]+|[bB][01]+)$`)
)

// Normalize maps an arbitrary extracted value onto "NA" or "0".."6".
// It never fails: unparseable input becomes "0".
func Normalize(val any) string {
	raw := strings.TrimSpace(stringify(val))
	if raw == "" {
		return "0"
	}
	if strings.EqualFold(raw, NotApplicable) {
		return NotApplicable
	}

	num, ok := parseNumber(raw)
	if !ok {
		return "0"
	}

	n := math.Trunc(num)
	if n < MinScore {
		n = MinScore
	}
	if n > MaxScore {
		n = MaxScore
	}
	return strconv.Itoa(int(n))
}

// parseNumber accepts decimal and exponent forms, signed "Infinity" and
// unsigned 0x/0o/0b integers. Out-of-range magnitudes saturate to ±Inf.
func parseNumber(raw string) (float64, bool) {
	switch {
	case decimalLiteral.MatchString(raw):
		num, err := strconv.ParseFloat(raw, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, false
		}
		return num, true

	case infinityLiteral.MatchString(raw):
		if raw[0] == '-' {
			return math.Inf(-1), true
		}
		return math.Inf(1), true

	case prefixedLiteral.MatchString(raw):
		num, err := strconv.ParseUint(raw, 0, 64)
		if errors.Is(err, strconv.ErrRange) {
			return math.Inf(1), true
		}
		if err != nil {
			return 0, false
		}
		return float64(num), true
	}
	return 0, false
}

// NormalizeAll applies Normalize to each item independently.
func NormalizeAll(v Values) Values {
	out := make(Values, len(Items))
	for _, item := range Items {
		out[item] = Normalize(v[item])
	}
	return out
}

// FromRaw pulls each item out of a decoded provider payload, keeping the
// provider's value in string form. Missing items default to "0".
func FromRaw(raw map[string]any) Values {
	out := Defaults()
	for _, item := range Items {
		if val, ok := raw[string(item)]; ok && val != nil {
			out[item] = stringify(val)
		}
	}
	return out
}

// ToRaw renders Values as a generic payload, suitable for the audit copy.
func (v Values) ToRaw() map[string]any {
	out := make(map[string]any, len(v))
	for item, val := range v {
		out[string(item)] = val
	}
	return out
}

func stringify(val any) string {
	switch t := val.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
