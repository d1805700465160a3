package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Runtime values for the semantic types are represented as Go natives:
// Integer→int64, Float→float64, Text→string, Boolean→bool, Date→time.Time.
// A missing cell is nil.

// ParseBool parses common truthy/falsy encodings, case-insensitively.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// dateLayouts are tried in order; the first match wins. Timestamp layouts
// are included because the date type covers both in this type system.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	"02.01.2006 15:04:05",
}

// ParseDate parses a date or timestamp string against the known layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range dateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Decode converts a raw string cell into the native value for t.
// The second return is false when the cell does not parse as t; callers
// decide whether that is a skip (join keys) or a degrade-to-text.
func Decode(cell string, t Type) (any, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil, true
	}
	switch t {
	case Integer:
		v, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return nil, false
		}
		return v, true
	case Float:
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, false
		}
		return v, true
	case Boolean:
		v, ok := ParseBool(cell)
		if !ok {
			return nil, false
		}
		return v, true
	case Date:
		v, ok := ParseDate(cell)
		if !ok {
			return nil, false
		}
		return v, true
	case Text, Unknown:
		return cell, true
	default:
		return cell, true
	}
}

// FormatValue renders a native value back to a display string.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(v)
	}
}
