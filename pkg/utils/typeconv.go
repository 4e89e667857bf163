package utils

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ValueKind is the narrowest scalar type a CSV cell can be read as.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInteger
	KindFloat
	KindBoolean
	KindDate
	KindTimestamp
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	default:
		return "string"
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	dateLayout,
}

const dateLayout = "2006-01-02"

// CellString renders a normalized value as a CSV cell. nil becomes the empty cell;
// nested objects and arrays are kept as compact JSON.
func CellString(val interface{}) string {
	if val == nil {
		return ""
	}
	switch v := val.(type) {
	case time.Time:
		return v.Format(time.RFC3339)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
	s, err := cast.ToStringE(val)
	if err != nil {
		b, jerr := json.Marshal(val)
		if jerr != nil {
			return ""
		}
		return string(b)
	}
	return s
}

// GetIntOffset safely converts an interface to int, defaulting to 0.
// Useful for pagination offsets read back from checkpoint stores.
func GetIntOffset(v interface{}) int {
	if v == nil {
		return 0
	}
	val, err := cast.ToIntE(v)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

// ClassifyValue returns the narrowest kind that can represent s.
// Parsing is strict: numbers with leading zeros or a base prefix are treated as strings
// so identifiers like "007" survive a round trip through the warehouse.
func ClassifyValue(s string) ValueKind {
	s = strings.TrimSpace(s)
	if s == "" {
		return KindNull
	}
	if isInteger(s) {
		return KindInteger
	}
	if isFloat(s) {
		return KindFloat
	}
	if strings.EqualFold(s, "true") || strings.EqualFold(s, "false") {
		return KindBoolean
	}
	if _, err := time.Parse(dateLayout, s); err == nil {
		return KindDate
	}
	if _, err := ParseTimestamp(s); err == nil {
		return KindTimestamp
	}
	return KindString
}

// ParseTimestamp accepts the timestamp layouts the upstream API and the warehouse emit.
func ParseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ConvertCell converts a CSV cell into a Go value suitable for a typed column.
// The empty cell is NULL for every kind.
func ConvertCell(s string, kind ValueKind) (interface{}, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	switch kind {
	case KindInteger:
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	case KindFloat:
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	case KindBoolean:
		return strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	case KindDate:
		return time.Parse(dateLayout, strings.TrimSpace(s))
	case KindTimestamp:
		return ParseTimestamp(strings.TrimSpace(s))
	default:
		return s, nil
	}
}

func isInteger(s string) bool {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isFloat(s string) bool {
	if strings.ContainsAny(s, "xXpP_") || strings.EqualFold(s, "nan") || strings.Contains(strings.ToLower(s), "inf") {
		return false
	}
	intPart := strings.TrimPrefix(s, "-")
	if i := strings.IndexAny(intPart, ".eE"); i >= 0 {
		intPart = intPart[:i]
	}
	if len(intPart) > 1 && intPart[0] == '0' {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
