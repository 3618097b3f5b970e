package query

import (
	"testing"

	"github.com/orneryd/graphrouter/pkg/graph"
)

func person(name string, age any) *graph.Node {
	return &graph.Node{
		ID:         graph.NodeID("n-" + name),
		Label:      "Person",
		Properties: map[string]any{"name": name, "age": age},
	}
}

func TestPredicateMatchNode(t *testing.T) {
	alice := person("Alice", 30)

	t.Run("label equals", func(t *testing.T) {
		if !LabelEquals("Person").MatchNode(alice) {
			t.Fatal("label should match")
		}
		if LabelEquals("Robot").MatchNode(alice) {
			t.Fatal("wrong label matched")
		}
	})

	t.Run("property equals", func(t *testing.T) {
		if !PropertyEquals("name", "Alice").MatchNode(alice) {
			t.Fatal("string property should match")
		}
		if !PropertyEquals("age", 30.0).MatchNode(alice) {
			t.Fatal("numeric values compare by magnitude")
		}
		if PropertyEquals("age", "30").MatchNode(alice) {
			t.Fatal("string must not equal a number")
		}
		if PropertyEquals("missing", 1).MatchNode(alice) {
			t.Fatal("absent property must not match")
		}
	})

	t.Run("property contains", func(t *testing.T) {
		if !PropertyContains("name", "lic").MatchNode(alice) {
			t.Fatal("substring should match")
		}
		if PropertyContains("age", "3").MatchNode(alice) {
			t.Fatal("contains applies to string properties only")
		}
	})

	t.Run("custom", func(t *testing.T) {
		p := Custom(func(n *graph.Node) bool { return n.Label == "Person" })
		if !p.MatchNode(alice) {
			t.Fatal("custom predicate should match")
		}
	})
}

func TestPredicateMatchEdge(t *testing.T) {
	edge := &graph.Edge{
		ID:         "e1",
		FromID:     "a",
		ToID:       "b",
		Label:      "knows",
		Properties: map[string]any{"since": 2020},
	}
	if !RelationshipExists("b", "KNOWS").MatchEdge(edge) {
		t.Fatal("relationship should match (label case-insensitive)")
	}
	if RelationshipExists("c", "knows").MatchEdge(edge) {
		t.Fatal("unrelated node must not match")
	}
	if !PropertyEquals("since", 2020).MatchEdge(edge) {
		t.Fatal("edge property should match")
	}
}

func TestBuilderPaginate(t *testing.T) {
	q := New().Paginate(2, 3)
	if q.Skip != 3 || q.Limit != 3 {
		t.Fatalf("skip/limit = %d/%d, want 3/3", q.Skip, q.Limit)
	}
	if q2 := New(); q2.Skip != -1 || q2.Limit != -1 {
		t.Fatalf("unset skip/limit = %d/%d", q2.Skip, q2.Limit)
	}
}

func TestBuilderFindPathDefaults(t *testing.T) {
	q := New().FindPath("Person", "Person", []string{"KNOWS", "works_with"})
	if len(q.PathPatterns) != 1 {
		t.Fatalf("patterns = %d", len(q.PathPatterns))
	}
	p := q.PathPatterns[0]
	if p.MinDepth != 1 || p.MaxDepth != 2 {
		t.Fatalf("depth bounds = %d..%d", p.MinDepth, p.MaxDepth)
	}
	if p.Relationships[0] != "knows" {
		t.Fatalf("relationship labels must be lower-cased: %v", p.Relationships)
	}
}

func TestAggregationAliasDefaults(t *testing.T) {
	if a := NewAggregation(AggAvg, "age", ""); a.Alias != "avg_age" {
		t.Fatalf("alias = %q", a.Alias)
	}
	if a := NewAggregation(AggCount, "", ""); a.Alias != "count_result" {
		t.Fatalf("alias = %q", a.Alias)
	}
	if a := NewAggregation(AggSum, "age", "total"); a.Alias != "total" {
		t.Fatalf("explicit alias lost: %q", a.Alias)
	}
}

func TestVectorNearestCopiesVector(t *testing.T) {
	vec := []float64{1, 0}
	q := New().VectorNearest("embedding", vec, 5).MinScore(0.9)
	vec[0] = 99
	if q.VectorSpec.Vector[0] != 1 {
		t.Fatal("query must own its vector copy")
	}
	if q.VectorSpec.MinScore == nil || *q.VectorSpec.MinScore != 0.9 {
		t.Fatal("min score not set")
	}
}

func TestFingerprintStability(t *testing.T) {
	build := func() *Query {
		return New().
			Filter(LabelEquals("Person")).
			Filter(PropertyEquals("age", 30)).
			Sort("age", true).
			Paginate(1, 10)
	}
	a, okA := build().Fingerprint()
	b, okB := build().Fingerprint()
	if !okA || !okB {
		t.Fatal("structural queries must fingerprint")
	}
	if a != b {
		t.Fatalf("equal queries hash differently: %s vs %s", a, b)
	}
}

func TestFingerprintDistinguishesQueries(t *testing.T) {
	a, _ := New().Filter(LabelEquals("Person")).Fingerprint()
	b, _ := New().Filter(LabelEquals("Robot")).Fingerprint()
	if a == b {
		t.Fatal("distinct queries collided")
	}

	c, _ := New().Paginate(1, 10).Fingerprint()
	d, _ := New().Paginate(2, 10).Fingerprint()
	if c == d {
		t.Fatal("pagination not part of the fingerprint")
	}
}

func TestFingerprintRejectsCustomPredicates(t *testing.T) {
	q := New().Filter(Custom(func(n *graph.Node) bool { return true }))
	if _, ok := q.Fingerprint(); ok {
		t.Fatal("custom predicate queries must not fingerprint")
	}
}

func TestCloneResultsDeepCopies(t *testing.T) {
	edge := &graph.Edge{ID: "e1", FromID: "a", ToID: "b", Label: "knows", Properties: map[string]any{}}
	results := []Result{
		{Node: person("Alice", 30)},
		{Path: &Path{StartNode: person("Alice", 30), EndNode: person("Bob", 25), Relationships: []*graph.Edge{edge}}},
		{Aggregates: map[string]any{"count": 2}},
	}

	cloned := CloneResults(results)
	cloned[0].Node.Properties["name"] = "Mallory"
	cloned[1].Path.StartNode.Properties["name"] = "Mallory"
	cloned[1].Path.Relationships[0].Properties["w"] = 1
	cloned[2].Aggregates["count"] = 99

	if results[0].Node.Properties["name"] != "Alice" {
		t.Fatal("node shared with clone")
	}
	if results[1].Path.StartNode.Properties["name"] != "Alice" {
		t.Fatal("path node shared with clone")
	}
	if len(results[1].Path.Relationships[0].Properties) != 0 {
		t.Fatal("path edge shared with clone")
	}
	if results[2].Aggregates["count"] != 2 {
		t.Fatal("aggregates shared with clone")
	}

	if CloneResults(nil) != nil {
		t.Fatal("nil result set should stay nil")
	}
}

func TestStatsAccumulation(t *testing.T) {
	q := New()
	q.AddNodesScanned(3)
	q.AddNodesScanned(2)
	q.AddEdgesTraversed(4)
	stats := q.CollectStats()
	if stats.NodesScanned != 5 || stats.EdgesTraversed != 4 {
		t.Fatalf("stats = %+v", stats)
	}
}
