package intent

import (
	"regexp"
	"sort"
	"strings"

	"filequery/internal/qerr"
	"filequery/internal/registry"
)

// fallbackResolve is the rule-based translation path used when no
// language model is configured or its response was unusable. It handles
// single-source requests: column projection, simple comparisons, and
// aggregation with an optional group-by. Requests that appear to span
// several sources are rejected as ambiguous rather than guessed at.
func fallbackResolve(query string, catalog map[string]*registry.Source) (*QueryIntent, error) {
	words := tokenize(query)

	var mentioned []string
	for name := range catalog {
		if sourceMentioned(name, words) {
			mentioned = append(mentioned, name)
		}
	}
	sort.Strings(mentioned)

	switch len(mentioned) {
	case 0:
		if len(catalog) == 1 {
			for name := range catalog {
				mentioned = []string{name}
			}
		} else {
			return nil, &qerr.Error{
				Kind:       qerr.AmbiguousIntent,
				Message:    "request does not name a registered source",
				Candidates: catalogNames(catalog),
			}
		}
	case 1:
	default:
		return nil, &qerr.Error{
			Kind:       qerr.AmbiguousIntent,
			Message:    "multi-source requests need the language model; name one source or configure a translator",
			Candidates: mentioned,
		}
	}

	src := catalog[mentioned[0]]
	q := &QueryIntent{Sources: []string{src.Name}}

	lower := strings.ToLower(query)
	if agg, col := detectAggregate(lower, src); agg != "" {
		q.Aggregates = append(q.Aggregates, Aggregate{Func: agg, Source: src.Name, Column: col})
		if by := detectGroupBy(lower, src); by != "" {
			q.GroupBy = append(q.GroupBy, ColumnRef{Source: src.Name, Column: by})
		}
	}
	q.Filters = detectFilters(lower, src)
	return q, nil
}

// sourceMentioned matches a source name against the request tokens,
// tolerating a trailing plural s either way.
func sourceMentioned(name string, words map[string]bool) bool {
	for tok := range tokenize(name) {
		if words[tok] || words[tok+"s"] || words[strings.TrimSuffix(tok, "s")] {
			return true
		}
	}
	return false
}

var aggKeywords = []struct {
	fn    AggFunc
	terms []string
}{
	{AggAvg, []string{"average", "avg", "mean"}},
	{AggSum, []string{"sum", "total"}},
	{AggMin, []string{"minimum", "min", "lowest", "smallest"}},
	{AggMax, []string{"maximum", "max", "highest", "largest"}},
	{AggCount, []string{"count", "how many", "number of"}},
}

// detectAggregate finds the first aggregation keyword and binds it to
// the nearest column name mentioned after it. count works bare.
func detectAggregate(lower string, src *registry.Source) (AggFunc, string) {
	for _, k := range aggKeywords {
		for _, term := range k.terms {
			i := strings.Index(lower, term)
			if i < 0 {
				continue
			}
			rest := lower[i+len(term):]
			if col := firstColumnIn(rest, src); col != "" {
				return k.fn, col
			}
			if k.fn == AggCount {
				return AggCount, ""
			}
		}
	}
	return "", ""
}

var groupByRe = regexp.MustCompile(`\b(?:by|per|for each|grouped by)\s+([a-z0-9_ ]+)`)

func detectGroupBy(lower string, src *registry.Source) string {
	m := groupByRe.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}
	return firstColumnIn(m[1], src)
}

var filterRe = regexp.MustCompile(`\b([a-z0-9_]+)\s*(=|==|!=|<>|<=|>=|<|>|is|equals|contains|over|above|under|below|at least|at most)\s*"?([a-z0-9_.\- ]+?)"?(?:\s|$|,|\.)`)

var opWords = map[string]Op{
	"=": OpEq, "==": OpEq, "is": OpEq, "equals": OpEq,
	"!=": OpNe, "<>": OpNe,
	"<": OpLt, "under": OpLt, "below": OpLt,
	">": OpGt, "over": OpGt, "above": OpGt,
	"<=": OpLe, "at most": OpLe,
	">=": OpGe, "at least": OpGe,
	"contains": OpContains,
}

// detectFilters extracts comparison phrases whose left side names a
// column of src. Values keep their raw text.
func detectFilters(lower string, src *registry.Source) []Filter {
	var out []Filter
	for _, m := range filterRe.FindAllStringSubmatch(lower, -1) {
		col, _, ok := src.Schema.Lookup(m[1])
		if !ok {
			continue
		}
		op, ok := opWords[m[2]]
		if !ok {
			continue
		}
		val := strings.TrimSpace(m[3])
		if val == "" {
			continue
		}
		out = append(out, Filter{Source: src.Name, Column: col.Key, Op: op, Value: val})
	}
	return out
}

// firstColumnIn returns the key of the first src column whose name
// appears in text, preferring the earliest mention.
func firstColumnIn(text string, src *registry.Source) string {
	best := ""
	bestIdx := -1
	for _, c := range src.Schema.Columns {
		needle := strings.ReplaceAll(c.Key, "_", " ")
		i := strings.Index(text, needle)
		if i < 0 {
			i = strings.Index(text, c.Key)
		}
		if i >= 0 && (bestIdx < 0 || i < bestIdx) {
			best, bestIdx = c.Key, i
		}
	}
	return best
}

func catalogNames(catalog map[string]*registry.Source) []string {
	out := make([]string, 0, len(catalog))
	for n := range catalog {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
