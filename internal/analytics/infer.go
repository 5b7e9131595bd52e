package analytics

import (
	"strconv"
	"strings"
	"time"
)

// Cell values arrive from the workbook parser as raw strings; empty or
// whitespace-only cells are treated as missing.

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"Jan 2, 2006",
}

var booleanTokens = map[string]bool{
	"true": true, "false": true, "yes": true, "no": true, "0": true, "1": true,
}

// truthyTokens are the values normalized to 1 for boolean columns.
var truthyTokens = map[string]bool{
	"true": true, "yes": true, "1": true, "1.0": true,
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		// Naive timestamps are assumed UTC.
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// InferLogicalType infers a column's logical type from its raw cells.
// Empty columns are string. Checks run in priority order: date (>= 80%
// of values parse), boolean (every value is a boolean token), integer
// (>= 90% coerce), float (>= 90% coerce), else string.
func InferLogicalType(values []string) LogicalType {
	nonNull := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			nonNull = append(nonNull, strings.TrimSpace(v))
		}
	}
	if len(nonNull) == 0 {
		return TypeString
	}
	total := float64(len(nonNull))

	dates := 0
	for _, v := range nonNull {
		if _, ok := parseDate(v); ok {
			dates++
		}
	}
	if float64(dates)/total >= 0.8 {
		return TypeDate
	}

	allBool := true
	for _, v := range nonNull {
		if !booleanTokens[strings.ToLower(v)] {
			allBool = false
			break
		}
	}
	if allBool {
		return TypeBoolean
	}

	ints := 0
	for _, v := range nonNull {
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			ints++
		} else if f, err := strconv.ParseFloat(v, 64); err == nil && f == float64(int64(f)) {
			ints++
		}
	}
	if float64(ints)/total >= 0.9 {
		return TypeInteger
	}

	floats := 0
	for _, v := range nonNull {
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			floats++
		}
	}
	if float64(floats)/total >= 0.9 {
		return TypeFloat
	}

	return TypeString
}

// NormalizeCell converts a raw cell to its canonical stored form for the
// given logical type: UTC epoch seconds for dates, 0/1 for booleans,
// numeric coercion (nil on failure) for integer/float, trimmed text for
// strings. Missing cells normalize to nil.
func NormalizeCell(value string, lt LogicalType) any {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}

	switch lt {
	case TypeDate:
		t, ok := parseDate(v)
		if !ok {
			return nil
		}
		return t.UTC().Unix()
	case TypeBoolean:
		if truthyTokens[strings.ToLower(v)] {
			return int64(1)
		}
		return int64(0)
	case TypeInteger:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return int64(f)
		}
		return nil
	case TypeFloat:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		return nil
	default:
		return v
	}
}
