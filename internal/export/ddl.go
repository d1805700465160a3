package export

import (
	"fmt"
	"strings"

	"filequery/internal/exec"
	"filequery/internal/schema"
)

// Dialect maps result column types to one SQL dialect's DDL types and
// quoting rules. Backends embed one of the package-level dialects.
type Dialect struct {
	QuoteOpen  string
	QuoteClose string
	Types      map[schema.Type]string
	Fallback   string
}

// QuoteIdent quotes one identifier, doubling embedded closing quotes.
func (d Dialect) QuoteIdent(name string) string {
	return d.QuoteOpen + strings.ReplaceAll(name, d.QuoteClose, d.QuoteClose+d.QuoteClose) + d.QuoteClose
}

// ColumnType returns the DDL type for a result column type.
func (d Dialect) ColumnType(t schema.Type) string {
	if s, ok := d.Types[t]; ok {
		return s
	}
	return d.Fallback
}

// CreateTableSQL builds a create-if-not-exists statement for the result
// column set. Column names are already normalized identifiers; duplicate
// names across joined sources are disambiguated with their source name.
func (d Dialect) CreateTableSQL(table string, cols []exec.Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(d.QuoteIdent(table))
	b.WriteString(" (")
	names := ColumnNames(cols)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(names[i]))
		b.WriteByte(' ')
		b.WriteString(d.ColumnType(c.Type))
	}
	b.WriteString(")")
	return b.String()
}

// ColumnNames returns the destination column name for each result
// column, qualifying with the source name on collisions.
func ColumnNames(cols []exec.Column) []string {
	seen := make(map[string]int, len(cols))
	for _, c := range cols {
		seen[c.Name]++
	}
	out := make([]string, len(cols))
	used := make(map[string]bool, len(cols))
	for i, c := range cols {
		name := c.Name
		if seen[c.Name] > 1 && c.Source != "" {
			name = c.Source + "_" + c.Name
		}
		base := name
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}
