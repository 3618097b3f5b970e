package graphrouter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphrouter/pkg/graph"
	"github.com/orneryd/graphrouter/pkg/ontology"
	"github.com/orneryd/graphrouter/pkg/query"
	"github.com/orneryd/graphrouter/pkg/storage"
)

func personOntology() *ontology.Ontology {
	o := ontology.New()
	o.AddNodeType("Person", map[string]any{
		"name":      "str",
		"age":       "int",
		"embedding": []any{"float"},
	}, []string{"name"})
	o.AddEdgeType("knows", map[string]any{"since": "int"}, nil)
	return o
}

func newTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	db := NewWithOptions(storage.NewLocalEngine(""), opts)
	db.SetOntology(personOntology())
	require.NoError(t, db.Connect(context.Background(), storage.ConnectOptions{}))
	t.Cleanup(func() { db.Disconnect(context.Background()) })
	return db
}

func TestCreateNodeValidates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})

	id, err := db.CreateNode(ctx, "Person", map[string]any{"name": "Alice", "age": 30})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = db.CreateNode(ctx, "Person", map[string]any{"age": 30})
	assert.Error(t, err, "missing required property must fail")

	_, err = db.CreateNode(ctx, "Robot", map[string]any{"name": "R2"})
	assert.Error(t, err, "unknown label must fail")

	_, err = db.CreateNode(ctx, "Person", nil)
	assert.ErrorIs(t, err, ErrNilProperties)
}

func TestCreateNodeCoercesProperties(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})

	// "30" is coerced to an int per the declared schema before validation.
	id, err := db.CreateNode(ctx, "Person", map[string]any{"name": "Alice", "age": "30"})
	require.NoError(t, err)

	n, err := db.GetNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(30), n.Properties["age"])
}

func TestNotConnectedSurface(t *testing.T) {
	db := New(storage.NewLocalEngine(""))
	_, err := db.CreateNode(context.Background(), "Person", map[string]any{})
	assert.ErrorIs(t, err, graph.ErrNotConnected)
	_, err = db.Query(context.Background(), query.New())
	assert.ErrorIs(t, err, graph.ErrNotConnected)
}

func TestGetNodeCaching(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	id, err := db.CreateNode(ctx, "Person", map[string]any{"name": "Alice"})
	require.NoError(t, err)

	first, err := db.GetNode(ctx, id)
	require.NoError(t, err)
	_, err = db.GetNode(ctx, id)
	require.NoError(t, err)

	hits, _ := db.CacheStats()
	assert.Equal(t, uint64(1), hits, "second read should hit the cache")

	// Cached reads hand out copies, not the cached instance.
	first.Properties["name"] = "Mallory"
	again, err := db.GetNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.Properties["name"])
}

func TestUpdateValidatesMergedSet(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	id, err := db.CreateNode(ctx, "Person", map[string]any{"name": "Alice", "age": 30})
	require.NoError(t, err)

	// The delta alone omits the required name, but the merged set carries it.
	require.NoError(t, db.UpdateNode(ctx, id, map[string]any{"age": 31}))

	// A delta that breaks the merged set is rejected.
	err = db.UpdateNode(ctx, id, map[string]any{"age": "unparseable"})
	assert.Error(t, err)

	n, err := db.GetNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(31), n.Properties["age"])
}

func TestUpdateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	id, err := db.CreateNode(ctx, "Person", map[string]any{"name": "Alice"})
	require.NoError(t, err)

	_, err = db.GetNode(ctx, id)
	require.NoError(t, err)
	require.NoError(t, db.UpdateNode(ctx, id, map[string]any{"age": 31}))

	n, err := db.GetNode(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, n.Properties["age"], "stale cache entry served after update")
}

func TestDeleteNodeInvalidatesEdgeEntries(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	a, err := db.CreateNode(ctx, "Person", map[string]any{"name": "A"})
	require.NoError(t, err)
	b, err := db.CreateNode(ctx, "Person", map[string]any{"name": "B"})
	require.NoError(t, err)
	eid, err := db.CreateEdge(ctx, a, b, "knows", map[string]any{})
	require.NoError(t, err)

	// Warm the edge cache, then cascade-delete through the node.
	_, err = db.GetEdge(ctx, eid)
	require.NoError(t, err)
	require.NoError(t, db.DeleteNode(ctx, a))

	_, err = db.GetEdge(ctx, eid)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestQueryCachingAndStats(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	for _, name := range []string{"Alice", "Bob"} {
		_, err := db.CreateNode(ctx, "Person", map[string]any{"name": name})
		require.NoError(t, err)
	}

	q := query.New().Filter(query.LabelEquals("Person"))
	results, err := db.Query(ctx, q)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Greater(t, q.CollectStats().MemoryUsed, 0.0)

	// A structurally identical query is served from the cache.
	q2 := query.New().Filter(query.LabelEquals("Person"))
	_, err = db.Query(ctx, q2)
	require.NoError(t, err)
	hits, _ := db.CacheStats()
	assert.GreaterOrEqual(t, hits, uint64(1))
}

func TestQueryResultsOwnedByCaller(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	_, err := db.CreateNode(ctx, "Person", map[string]any{"name": "Alice"})
	require.NoError(t, err)

	first, err := db.Query(ctx, query.New().Filter(query.LabelEquals("Person")))
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Mutating a returned row must not leak into later cache hits.
	first[0].Node.Properties["name"] = "Mallory"

	again, err := db.Query(ctx, query.New().Filter(query.LabelEquals("Person")))
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "Alice", again[0].Node.Properties["name"])

	// Nor may mutating a cache-hit row corrupt the cached copy.
	again[0].Node.Properties["name"] = "Eve"
	third, err := db.Query(ctx, query.New().Filter(query.LabelEquals("Person")))
	require.NoError(t, err)
	assert.Equal(t, "Alice", third[0].Node.Properties["name"])
}

func TestQueryCacheInvalidatedByMutation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	_, err := db.CreateNode(ctx, "Person", map[string]any{"name": "Alice"})
	require.NoError(t, err)

	q := query.New().Filter(query.LabelEquals("Person"))
	results, err := db.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, err = db.CreateNode(ctx, "Person", map[string]any{"name": "Bob"})
	require.NoError(t, err)

	results, err = db.Query(ctx, query.New().Filter(query.LabelEquals("Person")))
	require.NoError(t, err)
	assert.Len(t, results, 2, "mutation must invalidate cached query results")
}

func TestQueryWithCustomPredicateBypassesCache(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	_, err := db.CreateNode(ctx, "Person", map[string]any{"name": "Alice"})
	require.NoError(t, err)

	q := query.New().Filter(query.Custom(func(n *graph.Node) bool { return true }))
	results, err := db.Query(ctx, q)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestBatchCreateNodesAtomic(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})

	_, err := db.BatchCreateNodes(ctx, []graph.NodeSpec{
		{Label: "Person", Properties: map[string]any{"name": "A"}},
		{Label: "Person", Properties: map[string]any{"age": 1}}, // missing name
		{Label: "Person", Properties: map[string]any{"name": "C"}},
	})
	require.Error(t, err)

	nodes, err := db.AllNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes, "invalid element must abort the whole batch")
}

func TestBatchCreateEdges(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	a, err := db.CreateNode(ctx, "Person", map[string]any{"name": "A"})
	require.NoError(t, err)
	b, err := db.CreateNode(ctx, "Person", map[string]any{"name": "B"})
	require.NoError(t, err)

	ids, err := db.BatchCreateEdges(ctx, []graph.EdgeSpec{
		{FromID: a, ToID: b, Label: "KNOWS", Properties: map[string]any{"since": 2020}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	e, err := db.GetEdge(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "knows", e.Label)
}

func TestTraversalHelpers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	a, err := db.CreateNode(ctx, "Person", map[string]any{"name": "A"})
	require.NoError(t, err)
	b, err := db.CreateNode(ctx, "Person", map[string]any{"name": "B"})
	require.NoError(t, err)
	c, err := db.CreateNode(ctx, "Person", map[string]any{"name": "C"})
	require.NoError(t, err)
	_, err = db.CreateEdge(ctx, a, b, "knows", map[string]any{})
	require.NoError(t, err)
	_, err = db.CreateEdge(ctx, c, a, "knows", map[string]any{})
	require.NoError(t, err)

	edges, err := db.EdgesOfNode(ctx, a, "")
	require.NoError(t, err)
	assert.Len(t, edges, 2)

	out, err := db.ConnectedNodes(ctx, a, "", "out")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, b, out[0].ID)

	in, err := db.ConnectedNodes(ctx, a, "", "in")
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, c, in[0].ID)

	both, err := db.ConnectedNodes(ctx, a, "", "both")
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestNodesByProperty(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{})
	_, err := db.CreateNode(ctx, "Person", map[string]any{"name": "Alice", "age": 30})
	require.NoError(t, err)
	_, err = db.CreateNode(ctx, "Person", map[string]any{"name": "Bob"})
	require.NoError(t, err)

	matches, err := db.NodesByProperty(ctx, "name", "Alice")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Alice", matches[0].Properties["name"])

	withAge, err := db.NodesWithProperty(ctx, "age")
	require.NoError(t, err)
	assert.Len(t, withAge, 1)
}

func TestPerformanceMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, Options{MetricsRetention: time.Hour})
	_, err := db.CreateNode(ctx, "Person", map[string]any{"name": "Alice"})
	require.NoError(t, err)
	_, err = db.Query(ctx, query.New())
	require.NoError(t, err)

	avg := db.PerformanceMetrics()
	assert.Contains(t, avg, "create_node")
	assert.Contains(t, avg, "query")

	detailed := db.DetailedMetrics()
	assert.Equal(t, 1, detailed["create_node"].Count)

	db.ResetMetrics()
	assert.Empty(t, db.PerformanceMetrics())
}
