// Package plan lowers a resolved QueryIntent into an executable tree:
// one leaf per source carrying its pushed-down filters, joined by a
// left-deep chain of hash-join steps in request order.
package plan

import (
	"fmt"

	"filequery/internal/intent"
	"filequery/internal/qerr"
	"filequery/internal/registry"
	"filequery/internal/schema"
)

// Leaf is one source scan. Filters are applied during the scan, before
// any rows reach a join or aggregate.
type Leaf struct {
	Source  *registry.Source
	Filters []intent.Filter
}

// Step joins two subtrees on a single equality key. Key types have been
// checked compatible; Coerce marks the integer-with-float pairing the
// executor must widen before matching. LeftSource and RightSource name
// the leaves that own each key: after earlier joins the combined left
// input can hold same-named columns from several sources, so the
// executor must bind source-qualified, not by bare name.
type Step struct {
	Left, Right Node
	LeftSource  string
	RightSource string
	LeftKey     string
	RightKey    string
	LeftType    schema.Type
	RightType   schema.Type
	Kind        intent.JoinKind
	Coerce      bool
}

// Node is either a leaf scan or the output of a join step.
type Node struct {
	Leaf *Leaf
	Step *Step
}

// Sources lists the source names under this node, left to right.
func (n Node) Sources() []string {
	if n.Leaf != nil {
		return []string{n.Leaf.Source.Name}
	}
	return append(n.Step.Left.Sources(), n.Step.Right.Sources()...)
}

// Plan is the executable form of one query.
type Plan struct {
	Root   Node
	Leaves []*Leaf
	Intent *intent.QueryIntent
}

// Build lowers q against catalog. q is assumed validated: every source
// and column reference resolves, and multi-source queries carry exactly
// len(Sources)-1 join specs chaining the sources in order.
func Build(q *intent.QueryIntent, catalog map[string]*registry.Source) (*Plan, error) {
	leaves := make(map[string]*Leaf, len(q.Sources))
	ordered := make([]*Leaf, 0, len(q.Sources))
	for _, name := range q.Sources {
		src, ok := catalog[name]
		if !ok {
			return nil, qerr.New(qerr.UnresolvedReference, "plan: source %q missing from catalog", name)
		}
		l := &Leaf{Source: src}
		leaves[name] = l
		ordered = append(ordered, l)
	}

	// Filter pushdown: every filter lands on its source's scan.
	for _, f := range q.Filters {
		l, ok := leaves[f.Source]
		if !ok {
			return nil, qerr.New(qerr.UnresolvedReference, "plan: filter on %s.%s references a source not in the query", f.Source, f.Column)
		}
		l.Filters = append(l.Filters, f)
	}

	root := Node{Leaf: ordered[0]}
	if len(q.Joins) != len(q.Sources)-1 {
		return nil, fmt.Errorf("plan: %d joins for %d sources", len(q.Joins), len(q.Sources))
	}
	for i, j := range q.Joins {
		right, ok := leaves[j.Right]
		if !ok {
			return nil, qerr.New(qerr.UnresolvedReference, "plan: join references source %q not in the query", j.Right)
		}
		if got := q.Sources[i+1]; j.Right != got {
			return nil, fmt.Errorf("plan: join %d pairs %q, expected %q", i, j.Right, got)
		}

		lk, lt, err := keyType(root, j.Left, j.LeftKey)
		if err != nil {
			return nil, err
		}
		rc, _, ok := right.Source.Schema.Lookup(j.RightKey)
		if !ok {
			return nil, qerr.New(qerr.UnresolvedReference, "plan: source %q has no column %q", j.Right, j.RightKey)
		}
		if !schema.Compatible(lt, rc.Type) {
			return nil, &qerr.Error{
				Kind: qerr.IncompatibleJoinKeys,
				Message: fmt.Sprintf("cannot join %s.%s (%s) with %s.%s (%s)",
					j.Left, j.LeftKey, lt, j.Right, rc.Key, rc.Type),
			}
		}

		root = Node{Step: &Step{
			Left:        root,
			Right:       Node{Leaf: right},
			LeftSource:  j.Left,
			RightSource: j.Right,
			LeftKey:     lk,
			RightKey:    rc.Key,
			LeftType:    lt,
			RightType:   rc.Type,
			Kind:        j.Kind,
			Coerce:      lt != rc.Type,
		}}
	}

	return &Plan{Root: root, Leaves: ordered, Intent: q}, nil
}

// keyType finds the canonical key and type of the named column within
// the subtree rooted at n, searching the leaf that owns srcName.
func keyType(n Node, srcName, key string) (string, schema.Type, error) {
	if n.Leaf != nil {
		if n.Leaf.Source.Name != srcName {
			return "", schema.Unknown, qerr.New(qerr.UnresolvedReference, "plan: join key %s.%s is outside the joined subtree", srcName, key)
		}
		c, _, ok := n.Leaf.Source.Schema.Lookup(key)
		if !ok {
			return "", schema.Unknown, qerr.New(qerr.UnresolvedReference, "plan: source %q has no column %q", srcName, key)
		}
		return c.Key, c.Type, nil
	}
	if k, t, err := keyType(n.Step.Left, srcName, key); err == nil {
		return k, t, nil
	}
	return keyType(n.Step.Right, srcName, key)
}
