// Package intent turns a natural-language request into a structured
// QueryIntent against the registered catalog.
//
// Translation may use an external language model through the Translator
// seam; when none is configured a rule-based fallback handles simple
// single-source requests. Either way the output is validated
// field-by-field against the catalog before it reaches planning, so
// downstream stages only ever see resolved references.
package intent

import "strings"

// Op is a filter comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpLe       Op = "le"
	OpGt       Op = "gt"
	OpGe       Op = "ge"
	OpContains Op = "contains"
)

// ParseOp maps the wire spelling of an operator, accepting both the
// symbolic and mnemonic forms.
func ParseOp(s string) (Op, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eq", "=", "==":
		return OpEq, true
	case "ne", "!=", "<>":
		return OpNe, true
	case "lt", "<":
		return OpLt, true
	case "le", "lte", "<=":
		return OpLe, true
	case "gt", ">":
		return OpGt, true
	case "ge", "gte", ">=":
		return OpGe, true
	case "contains", "like":
		return OpContains, true
	}
	return "", false
}

// AggFunc is an aggregation function name.
type AggFunc string

const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggAvg   AggFunc = "avg"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// ParseAggFunc maps the wire spelling of an aggregation function.
func ParseAggFunc(s string) (AggFunc, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "count":
		return AggCount, true
	case "sum", "total":
		return AggSum, true
	case "avg", "average", "mean":
		return AggAvg, true
	case "min", "minimum":
		return AggMin, true
	case "max", "maximum":
		return AggMax, true
	}
	return "", false
}

// JoinKind selects which unmatched rows survive a join.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinRight JoinKind = "right"
	JoinOuter JoinKind = "outer"
)

// ColumnRef names a column, optionally qualified by source name.
type ColumnRef struct {
	Source string `json:"source,omitempty"`
	Column string `json:"column"`
}

// Filter is a single row predicate. Value keeps the raw textual form;
// the executor decodes it against the column's inferred type.
type Filter struct {
	Source string `json:"source,omitempty"`
	Column string `json:"column"`
	Op     Op     `json:"op"`
	Value  string `json:"value"`
}

// Aggregate is one requested aggregation output.
type Aggregate struct {
	Func   AggFunc `json:"func"`
	Column string  `json:"column,omitempty"`
	Source string  `json:"source,omitempty"`
	As     string  `json:"as,omitempty"`
}

// JoinSpec pairs two sources on explicit key columns. When keys are
// omitted the resolver infers them from shared compatible columns.
type JoinSpec struct {
	Left     string   `json:"left"`
	Right    string   `json:"right"`
	LeftKey  string   `json:"left_key,omitempty"`
	RightKey string   `json:"right_key,omitempty"`
	Kind     JoinKind `json:"kind,omitempty"`
}

// QueryIntent is the fully resolved description of one query. Every
// source and column reference has been validated against the catalog.
type QueryIntent struct {
	Sources    []string    `json:"sources"`
	Filters    []Filter    `json:"filters,omitempty"`
	GroupBy    []ColumnRef `json:"group_by,omitempty"`
	Aggregates []Aggregate `json:"aggregates,omitempty"`
	Joins      []JoinSpec  `json:"joins,omitempty"`
	Columns    []ColumnRef `json:"columns,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// Aggregated reports whether the intent produces aggregate output.
func (q *QueryIntent) Aggregated() bool {
	return len(q.Aggregates) > 0 || len(q.GroupBy) > 0
}
