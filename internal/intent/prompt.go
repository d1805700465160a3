package intent

import (
	"encoding/json"
	"sort"
	"strings"

	"filequery/internal/registry"
)

// maxPromptSources bounds how many source schemas are embedded in the
// translation prompt. Larger catalogs are narrowed to the sources whose
// names or column names overlap the request text.
const maxPromptSources = 8

const systemPrompt = `You translate data questions into JSON query plans.

Respond with a single JSON object and nothing else. Shape:
{
  "sources": ["name", ...],
  "filters": [{"source": "name", "column": "col", "op": "eq|ne|lt|le|gt|ge|contains", "value": "raw text"}],
  "group_by": [{"source": "name", "column": "col"}],
  "aggregates": [{"func": "count|sum|avg|min|max", "source": "name", "column": "col", "as": "label"}],
  "joins": [{"left": "a", "right": "b", "left_key": "col", "right_key": "col", "kind": "inner|left|right|outer"}],
  "columns": [{"source": "name", "column": "col"}],
  "limit": 0
}

Rules:
- Use only source and column names from the catalog below.
- Omit empty fields. "count" may omit its column.
- Filter values stay as raw text; do not convert units or formats.
- Omit join keys when unsure; they will be inferred.
- If the question cannot be answered from the catalog, respond
  {"error": "short reason"}.`

type promptColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type promptSource struct {
	Name    string         `json:"name"`
	Rows    int64          `json:"rows"`
	Columns []promptColumn `json:"columns"`
}

// BuildPrompt renders the user-turn prompt: the catalog as JSON followed
// by the raw question.
func BuildPrompt(query string, catalog map[string]*registry.Source) string {
	selected := selectSources(query, catalog)

	sources := make([]promptSource, 0, len(selected))
	for _, s := range selected {
		ps := promptSource{Name: s.Name, Rows: s.Schema.RowEstimate}
		for _, c := range s.Schema.Columns {
			ps.Columns = append(ps.Columns, promptColumn{Name: c.Key, Type: string(c.Type)})
		}
		sources = append(sources, ps)
	}

	enc, _ := json.MarshalIndent(sources, "", "  ")

	var b strings.Builder
	b.WriteString("Catalog:\n")
	b.Write(enc)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

// selectSources returns the catalog entries to embed, in name order.
// Small catalogs go in whole; larger ones are ranked by textual overlap
// between the request and each source's name and column names.
func selectSources(query string, catalog map[string]*registry.Source) []*registry.Source {
	all := make([]*registry.Source, 0, len(catalog))
	for _, s := range catalog {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	if len(all) <= maxPromptSources {
		return all
	}

	words := tokenize(query)
	type scored struct {
		src   *registry.Source
		score int
	}
	ranked := make([]scored, 0, len(all))
	for _, s := range all {
		sc := 0
		for tok := range tokenize(s.Name) {
			if words[tok] {
				sc += 2
			}
		}
		for _, c := range s.Schema.Columns {
			for tok := range tokenize(c.Key) {
				if words[tok] {
					sc++
				}
			}
		}
		ranked = append(ranked, scored{s, sc})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]*registry.Source, 0, maxPromptSources)
	for _, r := range ranked[:maxPromptSources] {
		out = append(out, r.src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(w) >= 3 {
			out[w] = true
		}
	}
	return out
}
