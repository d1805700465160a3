// Package schema defines the semantic type system and column/schema model
// shared by the inferencer, the intent resolver, the planner, and the
// executor.
//
// A Schema is an ordered list of columns. Each column carries two names:
//   - Name: the original display casing from the file header
//   - Key:  the normalized identifier used for all internal matching
//
// Column keys are unique within a schema (case-insensitively, since keys
// are already lower-cased). Type compatibility and the implicit coercion
// table live here so that planning and execution agree on them.
package schema

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Type is the semantic type of a column.
type Type string

const (
	Integer Type = "integer"
	Float   Type = "float"
	Text    Type = "text"
	Boolean Type = "boolean"
	Date    Type = "date"
	// Unknown marks a column for which no value was ever observed.
	Unknown Type = "unknown"
)

// Numeric reports whether t participates in numeric aggregation.
func (t Type) Numeric() bool {
	return t == Integer || t == Float
}

// ParseType maps a user-facing type name (as accepted by schema overrides)
// to a semantic Type. Accepted spellings follow common shorthand:
// int/integer, float/double, str/string/text, bool/boolean, date.
func ParseType(s string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer", "bigint":
		return Integer, true
	case "float", "double", "real":
		return Float, true
	case "str", "string", "text":
		return Text, true
	case "bool", "boolean":
		return Boolean, true
	case "date", "datetime", "timestamp":
		return Date, true
	default:
		return Unknown, false
	}
}

// Compatible reports whether two column types may be joined on.
// Only two implicit coercions exist: integer↔float and text↔text.
// Unknown pairs with anything: it marks a column with no observed
// values, so an empty source can still join (to an empty result)
// instead of erroring.
func Compatible(a, b Type) bool {
	if a == Unknown || b == Unknown {
		return true
	}
	if a == b {
		return true
	}
	if (a == Integer && b == Float) || (a == Float && b == Integer) {
		return true
	}
	return false
}

// Wider returns the type both sides coerce to when joined or compared.
// Callers must have checked Compatible first.
func Wider(a, b Type) Type {
	if a == b {
		return a
	}
	if a == Unknown {
		return b
	}
	if b == Unknown {
		return a
	}
	if (a == Integer && b == Float) || (a == Float && b == Integer) {
		return Float
	}
	return Text
}

// Column describes one column of a source.
type Column struct {
	// Name is the header cell as it appeared in the file.
	Name string `json:"name"`
	// Key is the normalized identifier (trimmed, lower-cased, safe chars).
	Key string `json:"key"`
	// Type is the inferred or declared semantic type.
	Type Type `json:"type"`
}

// Schema is the ordered column layout of a source plus a row-count
// estimate. The estimate is non-authoritative and used only for planning
// heuristics (hash-join side sizing).
type Schema struct {
	Columns []Column `json:"columns"`
	// RowEstimate is the number of data rows observed at inference time.
	RowEstimate int64 `json:"rowEstimate"`
}

// New builds a Schema, enforcing key uniqueness. Duplicate normalized
// names are disambiguated deterministically with a numeric suffix so a
// file with repeated headers still registers.
func New(cols []Column, rowEstimate int64) Schema {
	seen := make(map[string]int, len(cols))
	out := make([]Column, len(cols))
	for i, c := range cols {
		key := c.Key
		if key == "" {
			key = NormalizeFieldName(c.Name)
		}
		if key == "" {
			key = fmt.Sprintf("column_%d", i+1)
		}
		if n, dup := seen[key]; dup {
			seen[key] = n + 1
			key = fmt.Sprintf("%s_%d", key, n+1)
		}
		seen[key] = 1
		out[i] = Column{Name: c.Name, Key: key, Type: c.Type}
	}
	return Schema{Columns: out, RowEstimate: rowEstimate}
}

// Lookup resolves a column reference case-insensitively against both the
// normalized key and the display name. Returns the column, its index, and
// whether it was found.
func (s Schema) Lookup(name string) (Column, int, bool) {
	want := NormalizeFieldName(name)
	for i, c := range s.Columns {
		if c.Key == want {
			return c, i, true
		}
	}
	// Fall back to a direct case-insensitive display-name match for
	// headers whose normalization dropped characters.
	for i, c := range s.Columns {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, i, true
		}
	}
	return Column{}, -1, false
}

// Keys returns the normalized column keys in order.
func (s Schema) Keys() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Key
	}
	return out
}

// Equal reports structural equality (same columns, keys, types, and row
// estimate). Refreshing an unchanged file must produce an Equal schema.
func (s Schema) Equal(o Schema) bool {
	if len(s.Columns) != len(o.Columns) || s.RowEstimate != o.RowEstimate {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != o.Columns[i] {
			return false
		}
	}
	return true
}

// NormalizeFieldName converts an arbitrary header string into a safe,
// lowercase identifier used for all internal matching.
func NormalizeFieldName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		if r == ' ' || r == '-' || r == '.' || r == '/' || r == '\\' || r == ':' || r == ';' {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}

		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			lastUnderscore = (r == '_')
			continue
		}

		// Drop everything else.
	}

	return strings.Trim(b.String(), "_")
}

// TruncateFieldName enforces identifier length limits while preserving
// UTF-8 validity.
func TruncateFieldName(s string) string {
	const maxLen = 63
	if len(s) <= maxLen {
		return s
	}
	b := []byte(s)
	cut := maxLen
	for cut > 0 && !utf8.Valid(b[:cut]) {
		cut--
	}
	if cut <= 0 {
		return s[:maxLen]
	}
	return string(b[:cut])
}
