package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/orneryd/graphrouter/pkg/graph"
	"github.com/orneryd/graphrouter/pkg/query"
)

func newTestEngine(t *testing.T, path string) *LocalEngine {
	t.Helper()
	e := NewLocalEngine(path)
	if err := e.Connect(context.Background(), ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return e
}

func mustCreateNode(t *testing.T, e Backend, label string, props map[string]any) graph.NodeID {
	t.Helper()
	id, err := e.CreateNode(context.Background(), label, props)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	return id
}

func mustCreateEdge(t *testing.T, e Backend, from, to graph.NodeID, label string) graph.EdgeID {
	t.Helper()
	id, err := e.CreateEdge(context.Background(), from, to, label, map[string]any{})
	if err != nil {
		t.Fatalf("create edge: %v", err)
	}
	return id
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.json")

	e := newTestEngine(t, path)
	alice := mustCreateNode(t, e, "Person", map[string]any{"name": "Alice"})
	bob := mustCreateNode(t, e, "Person", map[string]any{"name": "Bob"})
	edgeID := mustCreateEdge(t, e, alice, bob, "KNOWS")
	if err := e.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	reloaded := newTestEngine(t, path)
	node, err := reloaded.GetNode(ctx, alice)
	if err != nil {
		t.Fatalf("get node after reload: %v", err)
	}
	if node.Label != "Person" || node.Properties["name"] != "Alice" {
		t.Fatalf("node corrupted by round trip: %+v", node)
	}
	edge, err := reloaded.GetEdge(ctx, edgeID)
	if err != nil {
		t.Fatalf("get edge after reload: %v", err)
	}
	if edge.Label != "knows" || edge.FromID != alice || edge.ToID != bob {
		t.Fatalf("edge corrupted by round trip: %+v", edge)
	}

	// Persisting the reloaded graph yields the identical snapshot.
	if err := reloaded.Disconnect(ctx); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	again := newTestEngine(t, path)
	if err := again.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatal("snapshot not stable across a load/store cycle")
	}
}

func TestConnectCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewLocalEngine(path)
	err := e.Connect(context.Background(), ConnectOptions{})
	if !errors.Is(err, graph.ErrCorruptSnapshot) {
		t.Fatalf("want ErrCorruptSnapshot, got %v", err)
	}
	if e.Connected() {
		t.Fatal("engine must stay disconnected after a corrupt snapshot")
	}
}

func TestNotConnected(t *testing.T) {
	e := NewLocalEngine("")
	if _, err := e.CreateNode(context.Background(), "Person", nil); !errors.Is(err, graph.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
	if _, err := e.GetNode(context.Background(), "x"); !errors.Is(err, graph.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestCreateEdgeRequiresEndpoints(t *testing.T) {
	e := newTestEngine(t, "")
	alice := mustCreateNode(t, e, "Person", map[string]any{})
	if _, err := e.CreateEdge(context.Background(), alice, "ghost", "knows", nil); !errors.Is(err, graph.ErrInvalidEdge) {
		t.Fatalf("want ErrInvalidEdge, got %v", err)
	}
	if _, err := e.CreateEdge(context.Background(), "ghost", alice, "knows", nil); !errors.Is(err, graph.ErrInvalidEdge) {
		t.Fatalf("want ErrInvalidEdge, got %v", err)
	}
}

func TestUpdateNodeMergesProperties(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	id := mustCreateNode(t, e, "Person", map[string]any{"name": "Alice", "age": 30})

	if err := e.UpdateNode(ctx, id, map[string]any{"age": 31, "city": "Oslo"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	n, _ := e.GetNode(ctx, id)
	if n.Properties["name"] != "Alice" || n.Properties["age"] != 31 || n.Properties["city"] != "Oslo" {
		t.Fatalf("merge wrong: %+v", n.Properties)
	}
}

func TestGetNodeReturnsCopy(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	id := mustCreateNode(t, e, "Person", map[string]any{"name": "Alice"})

	n, _ := e.GetNode(ctx, id)
	n.Properties["name"] = "Mallory"
	fresh, _ := e.GetNode(ctx, id)
	if fresh.Properties["name"] != "Alice" {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestCascadeDelete(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	a := mustCreateNode(t, e, "Person", map[string]any{})
	b := mustCreateNode(t, e, "Person", map[string]any{})
	c := mustCreateNode(t, e, "Person", map[string]any{})
	ab := mustCreateEdge(t, e, a, b, "knows")
	cb := mustCreateEdge(t, e, c, b, "knows")
	ac := mustCreateEdge(t, e, a, c, "knows")

	removed, err := e.DeleteNode(ctx, b)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed edges = %v, want both incident edges", removed)
	}
	if _, err := e.GetNode(ctx, b); !errors.Is(err, graph.ErrNotFound) {
		t.Fatal("deleted node still reachable")
	}
	for _, eid := range []graph.EdgeID{ab, cb} {
		if _, err := e.GetEdge(ctx, eid); !errors.Is(err, graph.ErrNotFound) {
			t.Fatalf("cascade-deleted edge %s still reachable", eid)
		}
	}
	if _, err := e.GetEdge(ctx, ac); err != nil {
		t.Fatalf("unrelated edge lost: %v", err)
	}
}

func TestQueryFilterAndScanCount(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	mustCreateNode(t, e, "Person", map[string]any{"name": "Alice"})
	mustCreateNode(t, e, "Person", map[string]any{"name": "Bob"})
	mustCreateNode(t, e, "City", map[string]any{"name": "Oslo"})

	q := query.New().Filter(query.LabelEquals("Person"))
	results, err := e.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if q.CollectStats().NodesScanned != 3 {
		t.Fatalf("nodes scanned = %d, want 3", q.CollectStats().NodesScanned)
	}
}

func TestQueryPagination(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	for i := 0; i < 10; i++ {
		mustCreateNode(t, e, "Item", map[string]any{"index": i})
	}

	q := query.New().
		Filter(query.LabelEquals("Item")).
		Sort("index", false).
		Paginate(2, 3)
	results, err := e.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("page size = %d, want 3", len(results))
	}
	for i, want := range []int{3, 4, 5} {
		if got := results[i].Node.Properties["index"]; got != want {
			t.Fatalf("page item %d has index %v, want %d", i, got, want)
		}
	}
}

func TestQuerySortReverse(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	for _, age := range []int{30, 25, 35} {
		mustCreateNode(t, e, "Person", map[string]any{"age": age})
	}

	q := query.New().Sort("age", true)
	results, err := e.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if results[0].Node.Properties["age"] != 35 || results[2].Node.Properties["age"] != 25 {
		t.Fatalf("descending sort wrong: %v, %v", results[0].Node.Properties, results[2].Node.Properties)
	}
}

func TestVectorSearchExactness(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	x := mustCreateNode(t, e, "Doc", map[string]any{"embedding": []float64{1, 0, 0}})
	mustCreateNode(t, e, "Doc", map[string]any{"embedding": []float64{0, 1, 0}})
	mustCreateNode(t, e, "Doc", map[string]any{"embedding": []float64{0, 0, 1}})

	t.Run("top-1 exact match", func(t *testing.T) {
		q := query.New().VectorNearest("embedding", []float64{1, 0, 0}, 1)
		results, err := e.Query(ctx, q)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(results) != 1 || results[0].Node.ID != x {
			t.Fatalf("results = %+v, want exactly node %s", results, x)
		}
	})

	t.Run("min score threshold", func(t *testing.T) {
		q := query.New().VectorNearest("embedding", []float64{1, 0.1, 0.1}, 10).MinScore(0.95)
		results, err := e.Query(ctx, q)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(results) != 1 || results[0].Node.ID != x {
			t.Fatalf("only the aligned embedding should survive: %+v", results)
		}
	})

	t.Run("missing or mismatched embeddings are skipped", func(t *testing.T) {
		mustCreateNode(t, e, "Doc", map[string]any{"embedding": []float64{1, 0}})
		mustCreateNode(t, e, "Doc", map[string]any{"name": "no embedding"})
		q := query.New().VectorNearest("embedding", []float64{1, 0, 0}, 10)
		results, err := e.Query(ctx, q)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("results = %d, want the three 3-dim embeddings", len(results))
		}
	})
}

func TestAggregation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	for _, age := range []int{30, 25, 35, 28} {
		mustCreateNode(t, e, "Person", map[string]any{"age": age})
	}

	q := query.New().
		Filter(query.LabelEquals("Person")).
		Aggregate(query.AggAvg, "age", "").
		Aggregate(query.AggCount, "", "count")
	results, err := e.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("aggregation must yield one row, got %d", len(results))
	}
	row := results[0].Aggregates
	if row["avg_age"] != 29.5 {
		t.Fatalf("avg_age = %v", row["avg_age"])
	}
	if row["count"] != 4 {
		t.Fatalf("count = %v", row["count"])
	}
}

func TestAggregationSkipsNonNumeric(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	mustCreateNode(t, e, "Person", map[string]any{"age": 10})
	mustCreateNode(t, e, "Person", map[string]any{"age": "unknown"})
	mustCreateNode(t, e, "Person", map[string]any{})

	q := query.New().Aggregate(query.AggSum, "age", "")
	results, err := e.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if results[0].Aggregates["sum_age"] != 10.0 {
		t.Fatalf("sum_age = %v", results[0].Aggregates["sum_age"])
	}

	q = query.New().Aggregate(query.AggMin, "height", "")
	results, err = e.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if results[0].Aggregates["min_height"] != nil {
		t.Fatalf("empty numeric subset must yield nil, got %v", results[0].Aggregates["min_height"])
	}
}

func TestPathDepthBounds(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	a := mustCreateNode(t, e, "Person", map[string]any{"name": "A"})
	b := mustCreateNode(t, e, "Person", map[string]any{"name": "B"})
	c := mustCreateNode(t, e, "Person", map[string]any{"name": "C"})
	d := mustCreateNode(t, e, "Person", map[string]any{"name": "D"})
	mustCreateEdge(t, e, a, b, "friends_with")
	mustCreateEdge(t, e, b, c, "works_with")
	mustCreateEdge(t, e, c, d, "friends_with")

	q := query.New().FindPathDepth("Person", "Person", []string{"friends_with", "works_with"}, 1, 2)
	results, err := e.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	foundAC := false
	for _, r := range results {
		if r.Path == nil {
			t.Fatalf("path query returned a non-path result: %+v", r)
		}
		if r.Path.StartNode.ID == a && r.Path.EndNode.ID == c {
			foundAC = true
			if len(r.Path.Relationships) != 2 {
				t.Fatalf("A..C path has %d relationships", len(r.Path.Relationships))
			}
		}
		if r.Path.StartNode.ID == a && r.Path.EndNode.ID == d {
			t.Fatal("A..D exceeds max depth 2 and must not appear")
		}
	}
	if !foundAC {
		t.Fatal("missing A..C path at depth 2")
	}
	if q.CollectStats().EdgesTraversed == 0 {
		t.Fatal("edges traversed not counted")
	}
}

func TestPathRelationshipFilters(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	a := mustCreateNode(t, e, "Person", map[string]any{})
	b := mustCreateNode(t, e, "Person", map[string]any{})
	if _, err := e.CreateEdge(ctx, a, b, "knows", map[string]any{"strength": 1}); err != nil {
		t.Fatal(err)
	}

	q := query.New().
		FindPathDepth("Person", "Person", []string{"knows"}, 1, 2).
		FilterRelationship(query.PropertyEquals("strength", 2))
	results, err := e.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("failing relationship filter must drop the path, got %d", len(results))
	}
}

func TestPathCyclesTerminate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	a := mustCreateNode(t, e, "Person", map[string]any{})
	b := mustCreateNode(t, e, "Person", map[string]any{})
	mustCreateEdge(t, e, a, b, "knows")
	mustCreateEdge(t, e, b, a, "knows")

	q := query.New().FindPathDepth("Person", "Person", []string{"knows"}, 1, 0)
	results, err := e.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// a->b and b->a, nothing longer: visited sets stop the cycle.
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
}

func TestBatchCreateEdgesAtomic(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")
	a := mustCreateNode(t, e, "Person", map[string]any{})
	b := mustCreateNode(t, e, "Person", map[string]any{})

	_, err := e.BatchCreateEdges(ctx, []graph.EdgeSpec{
		{FromID: a, ToID: b, Label: "knows", Properties: map[string]any{}},
		{FromID: a, ToID: "ghost", Label: "knows", Properties: map[string]any{}},
	})
	if !errors.Is(err, graph.ErrInvalidEdge) {
		t.Fatalf("want ErrInvalidEdge, got %v", err)
	}
	edges, _ := e.AllEdges(ctx)
	if len(edges) != 0 {
		t.Fatalf("partial batch committed: %d edges", len(edges))
	}
}
