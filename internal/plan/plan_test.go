package plan

import (
	"testing"

	"filequery/internal/intent"
	"filequery/internal/qerr"
	"filequery/internal/registry"
	"filequery/internal/schema"
)

func planCatalog() map[string]*registry.Source {
	return map[string]*registry.Source{
		"orders": {Name: "orders", Schema: schema.New([]schema.Column{
			{Name: "order_id", Type: schema.Integer},
			{Name: "customer_id", Type: schema.Integer},
			{Name: "amount", Type: schema.Float},
		}, 1000)},
		"customers": {Name: "customers", Schema: schema.New([]schema.Column{
			{Name: "customer_id", Type: schema.Integer},
			{Name: "region", Type: schema.Text},
		}, 50)},
		"regions": {Name: "regions", Schema: schema.New([]schema.Column{
			{Name: "region", Type: schema.Text},
			{Name: "manager", Type: schema.Text},
		}, 5)},
	}
}

func TestBuildSingleSource(t *testing.T) {
	t.Parallel()

	q := &intent.QueryIntent{
		Sources: []string{"orders"},
		Filters: []intent.Filter{{Source: "orders", Column: "amount", Op: intent.OpGt, Value: "10"}},
	}
	p, err := Build(q, planCatalog())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Root.Leaf == nil || p.Root.Step != nil {
		t.Fatalf("root is not a leaf: %+v", p.Root)
	}
	if len(p.Leaves) != 1 || len(p.Leaves[0].Filters) != 1 {
		t.Fatalf("leaves = %+v", p.Leaves)
	}
}

// TestBuildLeftDeepChain verifies three sources become two nested steps
// with the first source at the bottom left.
func TestBuildLeftDeepChain(t *testing.T) {
	t.Parallel()

	q := &intent.QueryIntent{
		Sources: []string{"orders", "customers", "regions"},
		Joins: []intent.JoinSpec{
			{Left: "orders", Right: "customers", LeftKey: "customer_id", RightKey: "customer_id", Kind: intent.JoinInner},
			{Left: "customers", Right: "regions", LeftKey: "region", RightKey: "region", Kind: intent.JoinLeft},
		},
	}
	p, err := Build(q, planCatalog())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	top := p.Root.Step
	if top == nil || top.Kind != intent.JoinLeft {
		t.Fatalf("root step = %+v", p.Root)
	}
	if top.Right.Leaf == nil || top.Right.Leaf.Source.Name != "regions" {
		t.Fatalf("top right = %+v", top.Right)
	}
	if top.LeftSource != "customers" || top.RightSource != "regions" {
		t.Fatalf("top key owners = %s, %s, want customers, regions", top.LeftSource, top.RightSource)
	}
	inner := top.Left.Step
	if inner == nil || inner.Left.Leaf.Source.Name != "orders" || inner.Right.Leaf.Source.Name != "customers" {
		t.Fatalf("inner step = %+v", top.Left)
	}
	if inner.LeftSource != "orders" || inner.RightSource != "customers" {
		t.Fatalf("inner key owners = %s, %s, want orders, customers", inner.LeftSource, inner.RightSource)
	}
	got := p.Root.Sources()
	want := []string{"orders", "customers", "regions"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sources() = %v, want %v", got, want)
		}
	}
}

// TestBuildFilterPushdown verifies each filter lands on the leaf of the
// source it names, not on the join output.
func TestBuildFilterPushdown(t *testing.T) {
	t.Parallel()

	q := &intent.QueryIntent{
		Sources: []string{"orders", "customers"},
		Filters: []intent.Filter{
			{Source: "customers", Column: "region", Op: intent.OpEq, Value: "north"},
			{Source: "orders", Column: "amount", Op: intent.OpGe, Value: "5"},
		},
		Joins: []intent.JoinSpec{
			{Left: "orders", Right: "customers", LeftKey: "customer_id", RightKey: "customer_id", Kind: intent.JoinInner},
		},
	}
	p, err := Build(q, planCatalog())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, l := range p.Leaves {
		if len(l.Filters) != 1 {
			t.Fatalf("leaf %s carries %d filters, want 1", l.Source.Name, len(l.Filters))
		}
		if l.Filters[0].Source != l.Source.Name {
			t.Fatalf("leaf %s carries filter for %s", l.Source.Name, l.Filters[0].Source)
		}
	}
}

func TestBuildCoercionFlag(t *testing.T) {
	t.Parallel()

	catalog := planCatalog()
	catalog["payments"] = &registry.Source{Name: "payments", Schema: schema.New([]schema.Column{
		{Name: "order_id", Type: schema.Float},
	}, 10)}

	q := &intent.QueryIntent{
		Sources: []string{"orders", "payments"},
		Joins: []intent.JoinSpec{
			{Left: "orders", Right: "payments", LeftKey: "order_id", RightKey: "order_id", Kind: intent.JoinInner},
		},
	}
	p, err := Build(q, catalog)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	step := p.Root.Step
	if !step.Coerce {
		t.Fatalf("integer/float key pair not marked for coercion: %+v", step)
	}
	if step.LeftType != schema.Integer || step.RightType != schema.Float {
		t.Fatalf("key types = %s, %s", step.LeftType, step.RightType)
	}
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	t.Run("incompatible_keys", func(t *testing.T) {
		t.Parallel()
		q := &intent.QueryIntent{
			Sources: []string{"orders", "regions"},
			Joins: []intent.JoinSpec{
				{Left: "orders", Right: "regions", LeftKey: "customer_id", RightKey: "region", Kind: intent.JoinInner},
			},
		}
		_, err := Build(q, planCatalog())
		if !qerr.IsKind(err, qerr.IncompatibleJoinKeys) {
			t.Fatalf("error kind = %v, want INCOMPATIBLE_JOIN_KEYS", qerr.KindOf(err))
		}
	})

	t.Run("source_missing_from_catalog", func(t *testing.T) {
		t.Parallel()
		q := &intent.QueryIntent{Sources: []string{"ghosts"}}
		_, err := Build(q, planCatalog())
		if !qerr.IsKind(err, qerr.UnresolvedReference) {
			t.Fatalf("error kind = %v, want UNRESOLVED_REFERENCE", qerr.KindOf(err))
		}
	})

	t.Run("wrong_join_count", func(t *testing.T) {
		t.Parallel()
		q := &intent.QueryIntent{Sources: []string{"orders", "customers"}}
		if _, err := Build(q, planCatalog()); err == nil {
			t.Fatal("missing join accepted")
		}
	})
}
