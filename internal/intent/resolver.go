package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"filequery/internal/qerr"
	"filequery/internal/registry"
	"filequery/internal/schema"
)

// Translator produces a raw model response for a translation prompt.
// Implementations wrap a language-model API; tests substitute a fake.
type Translator interface {
	Translate(ctx context.Context, system, user string) (string, error)
}

// Resolver turns request text into a validated QueryIntent.
type Resolver struct {
	translator Translator
}

// NewResolver builds a resolver. translator may be nil, in which case
// only the rule-based fallback path is available.
func NewResolver(translator Translator) *Resolver {
	return &Resolver{translator: translator}
}

// Resolve translates query against catalog and validates the result.
// The configured translator is consulted exactly once per request; a
// translator error or unusable response falls through to the rule-based
// fallback rather than retrying.
func (r *Resolver) Resolve(ctx context.Context, query string, catalog map[string]*registry.Source) (*QueryIntent, error) {
	if len(catalog) == 0 {
		return nil, qerr.New(qerr.UnresolvedReference, "no sources registered")
	}

	if r.translator != nil {
		raw, err := r.translator.Translate(ctx, systemPrompt, BuildPrompt(query, catalog))
		if err == nil {
			q, perr := parseResponse(raw)
			if perr == nil {
				if verr := r.validate(q, catalog); verr != nil {
					return nil, verr
				}
				return q, nil
			}
			// Model refusals surface as AmbiguousIntent directly.
			if qerr.IsKind(perr, qerr.AmbiguousIntent) {
				return nil, perr
			}
		}
	}

	q, err := fallbackResolve(query, catalog)
	if err != nil {
		return nil, err
	}
	if verr := r.validate(q, catalog); verr != nil {
		return nil, verr
	}
	return q, nil
}

// wireIntent is the raw JSON shape accepted from the model, with string
// fields where QueryIntent uses enums.
type wireIntent struct {
	Error   string `json:"error,omitempty"`
	Sources []string
	Filters []struct {
		Source, Column, Op, Value string
	}
	GroupBy []struct {
		Source, Column string
	} `json:"group_by"`
	Aggregates []struct {
		Func, Source, Column, As string
	}
	Joins []struct {
		Left, Right, Kind string
		LeftKey           string `json:"left_key"`
		RightKey          string `json:"right_key"`
	}
	Columns []struct {
		Source, Column string
	}
	Limit int
}

// parseResponse extracts the JSON object from a model response, tolerating
// markdown code fences and surrounding prose.
func parseResponse(raw string) (*QueryIntent, error) {
	text := strings.TrimSpace(raw)
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		text = strings.TrimPrefix(text, "json")
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("intent: no JSON object in response")
	}

	var w wireIntent
	if err := json.Unmarshal([]byte(text[start:end+1]), &w); err != nil {
		return nil, fmt.Errorf("intent: decode response: %w", err)
	}
	if w.Error != "" {
		return nil, qerr.New(qerr.AmbiguousIntent, "cannot answer from registered sources: %s", w.Error)
	}

	q := &QueryIntent{Sources: w.Sources, Limit: w.Limit}
	for _, f := range w.Filters {
		op, ok := ParseOp(f.Op)
		if !ok {
			return nil, fmt.Errorf("intent: unknown operator %q", f.Op)
		}
		q.Filters = append(q.Filters, Filter{Source: f.Source, Column: f.Column, Op: op, Value: f.Value})
	}
	for _, g := range w.GroupBy {
		q.GroupBy = append(q.GroupBy, ColumnRef{Source: g.Source, Column: g.Column})
	}
	for _, a := range w.Aggregates {
		fn, ok := ParseAggFunc(a.Func)
		if !ok {
			return nil, fmt.Errorf("intent: unknown aggregate %q", a.Func)
		}
		q.Aggregates = append(q.Aggregates, Aggregate{Func: fn, Source: a.Source, Column: a.Column, As: a.As})
	}
	for _, j := range w.Joins {
		kind := JoinKind(strings.ToLower(j.Kind))
		switch kind {
		case JoinInner, JoinLeft, JoinRight, JoinOuter:
		case "":
			kind = JoinInner
		default:
			return nil, fmt.Errorf("intent: unknown join kind %q", j.Kind)
		}
		q.Joins = append(q.Joins, JoinSpec{Left: j.Left, Right: j.Right, LeftKey: j.LeftKey, RightKey: j.RightKey, Kind: kind})
	}
	for _, c := range w.Columns {
		q.Columns = append(q.Columns, ColumnRef{Source: c.Source, Column: c.Column})
	}
	return q, nil
}

// validate checks every reference in q against the catalog and fills in
// inferred pieces: unqualified column sources and missing join keys.
func (r *Resolver) validate(q *QueryIntent, catalog map[string]*registry.Source) error {
	if len(q.Sources) == 0 {
		return qerr.New(qerr.UnresolvedReference, "no sources named in request")
	}

	active := make(map[string]*registry.Source, len(q.Sources))
	for i, name := range q.Sources {
		key := schema.NormalizeFieldName(name)
		s, ok := catalog[key]
		if !ok {
			return &qerr.Error{
				Kind:       qerr.UnresolvedReference,
				Message:    fmt.Sprintf("unknown source %q", name),
				Source:     name,
				Candidates: nearestNames(key, catalog),
			}
		}
		q.Sources[i] = s.Name
		active[s.Name] = s
	}

	for i := range q.Filters {
		if err := resolveColumn(&q.Filters[i].Source, &q.Filters[i].Column, active); err != nil {
			return err
		}
	}
	for i := range q.GroupBy {
		if err := resolveColumn(&q.GroupBy[i].Source, &q.GroupBy[i].Column, active); err != nil {
			return err
		}
	}
	for i := range q.Columns {
		if err := resolveColumn(&q.Columns[i].Source, &q.Columns[i].Column, active); err != nil {
			return err
		}
	}
	for i := range q.Aggregates {
		a := &q.Aggregates[i]
		if a.Column == "" {
			if a.Func != AggCount {
				return qerr.New(qerr.UnresolvedReference, "%s requires a column", a.Func)
			}
			continue
		}
		if err := resolveColumn(&a.Source, &a.Column, active); err != nil {
			return err
		}
	}

	return r.resolveJoins(q, active)
}

// resolveColumn canonicalizes one column reference in place. An empty
// source qualifier is resolved by searching the active sources; the
// match must be unique.
func resolveColumn(srcName, colName *string, active map[string]*registry.Source) error {
	if *srcName != "" {
		s, ok := active[schema.NormalizeFieldName(*srcName)]
		if !ok {
			return qerr.New(qerr.UnresolvedReference, "column %s.%s references a source not in the query", *srcName, *colName)
		}
		col, _, ok := s.Schema.Lookup(*colName)
		if !ok {
			return &qerr.Error{
				Kind:       qerr.UnresolvedReference,
				Message:    fmt.Sprintf("source %q has no column %q", s.Name, *colName),
				Source:     s.Name,
				Column:     *colName,
				Candidates: s.Schema.Keys(),
			}
		}
		*srcName, *colName = s.Name, col.Key
		return nil
	}

	var hits []string
	var hitCol string
	names := sortedNames(active)
	for _, name := range names {
		if col, _, ok := active[name].Schema.Lookup(*colName); ok {
			hits = append(hits, name)
			hitCol = col.Key
		}
	}
	switch len(hits) {
	case 0:
		return &qerr.Error{
			Kind:    qerr.UnresolvedReference,
			Message: fmt.Sprintf("no queried source has column %q", *colName),
			Column:  *colName,
		}
	case 1:
		*srcName, *colName = hits[0], hitCol
		return nil
	default:
		return &qerr.Error{
			Kind:       qerr.AmbiguousIntent,
			Message:    fmt.Sprintf("column %q exists in multiple sources; qualify it", *colName),
			Column:     *colName,
			Candidates: hits,
		}
	}
}

// resolveJoins validates explicit join specs and infers keys for joins
// the model omitted. Multi-source queries end up with exactly
// len(Sources)-1 join specs chaining the sources in request order.
func (r *Resolver) resolveJoins(q *QueryIntent, active map[string]*registry.Source) error {
	if len(q.Sources) < 2 {
		q.Joins = nil
		return nil
	}

	byPair := make(map[string]JoinSpec)
	for _, j := range q.Joins {
		left, ok := active[schema.NormalizeFieldName(j.Left)]
		if !ok {
			return qerr.New(qerr.UnresolvedReference, "join references unknown source %q", j.Left)
		}
		right, ok := active[schema.NormalizeFieldName(j.Right)]
		if !ok {
			return qerr.New(qerr.UnresolvedReference, "join references unknown source %q", j.Right)
		}
		j.Left, j.Right = left.Name, right.Name
		if j.Kind == "" {
			j.Kind = JoinInner
		}

		if j.LeftKey != "" || j.RightKey != "" {
			if j.LeftKey == "" {
				j.LeftKey = j.RightKey
			}
			if j.RightKey == "" {
				j.RightKey = j.LeftKey
			}
			lc, _, ok := left.Schema.Lookup(j.LeftKey)
			if !ok {
				return qerr.New(qerr.UnresolvedReference, "source %q has no join column %q", left.Name, j.LeftKey)
			}
			rc, _, ok := right.Schema.Lookup(j.RightKey)
			if !ok {
				return qerr.New(qerr.UnresolvedReference, "source %q has no join column %q", right.Name, j.RightKey)
			}
			if !schema.Compatible(lc.Type, rc.Type) {
				return &qerr.Error{
					Kind: qerr.IncompatibleJoinKeys,
					Message: fmt.Sprintf("cannot join %s.%s (%s) with %s.%s (%s)",
						left.Name, lc.Key, lc.Type, right.Name, rc.Key, rc.Type),
				}
			}
			j.LeftKey, j.RightKey = lc.Key, rc.Key
		}
		byPair[pairKey(j.Left, j.Right)] = j
	}

	// Rebuild as a left-deep chain over the request's source order.
	joins := make([]JoinSpec, 0, len(q.Sources)-1)
	for i := 1; i < len(q.Sources); i++ {
		leftName, rightName := q.Sources[i-1], q.Sources[i]
		j, ok := byPair[pairKey(leftName, rightName)]
		if !ok {
			j = JoinSpec{Left: leftName, Right: rightName, Kind: JoinInner}
		}
		if j.LeftKey == "" {
			lk, rk, err := InferJoinKey(active[j.Left].Schema, active[j.Right].Schema, j.Left, j.Right)
			if err != nil {
				return err
			}
			j.LeftKey, j.RightKey = lk, rk
		}
		joins = append(joins, j)
	}
	q.Joins = joins
	return nil
}

// InferJoinKey finds the shared join column between two schemas: columns
// whose normalized names match and whose types are compatible. Exactly
// one candidate is required; zero means the schemas cannot be joined,
// more than one is ambiguous and must be stated explicitly.
func InferJoinKey(left, right schema.Schema, leftName, rightName string) (string, string, error) {
	type cand struct{ lk, rk string }
	var cands []cand
	for _, lc := range left.Columns {
		rc, _, ok := right.Lookup(lc.Key)
		if !ok {
			continue
		}
		if schema.Compatible(lc.Type, rc.Type) {
			cands = append(cands, cand{lc.Key, rc.Key})
		}
	}

	switch len(cands) {
	case 1:
		return cands[0].lk, cands[0].rk, nil
	case 0:
		return "", "", &qerr.Error{
			Kind:    qerr.IncompatibleJoinKeys,
			Message: fmt.Sprintf("sources %q and %q share no compatible column to join on", leftName, rightName),
		}
	default:
		names := make([]string, 0, len(cands))
		for _, c := range cands {
			names = append(names, c.lk)
		}
		return "", "", &qerr.Error{
			Kind:       qerr.AmbiguousJoinKey,
			Message:    fmt.Sprintf("sources %q and %q share several joinable columns; state the key explicitly", leftName, rightName),
			Candidates: names,
		}
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func sortedNames(m map[string]*registry.Source) []string {
	out := make([]string, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// nearestNames lists catalog names sharing a token with the miss, or all
// names when nothing matches, for the error's candidate list.
func nearestNames(miss string, catalog map[string]*registry.Source) []string {
	var hits []string
	var all []string
	for name := range catalog {
		all = append(all, name)
		if strings.Contains(name, miss) || strings.Contains(miss, name) {
			hits = append(hits, name)
		}
	}
	sort.Strings(all)
	sort.Strings(hits)
	if len(hits) > 0 {
		return hits
	}
	return all
}
