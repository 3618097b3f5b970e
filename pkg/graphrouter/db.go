// Package graphrouter is the orchestration layer of GraphRouter: one
// GraphDatabase contract over interchangeable storage backends.
//
// DB wraps a storage.Backend and wires the cross-cutting concerns around
// every operation:
//   - input validation against the attached ontology (with best-effort type
//     coercion first)
//   - a TTL query cache with pattern invalidation for point reads and
//     query result sets
//   - per-operation latency and error recording in a performance monitor
//   - batch normalization: every element of a batch is validated before
//     any element reaches the backend
//
// Backends implement storage semantics only; every caller reaches them
// through this contract. Blocking operations accept a context.Context so
// remote backends can honor cancellation; the embedded engines complete
// synchronously and only check the context between pipeline stages.
package graphrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orneryd/graphrouter/pkg/cache"
	"github.com/orneryd/graphrouter/pkg/graph"
	"github.com/orneryd/graphrouter/pkg/monitor"
	"github.com/orneryd/graphrouter/pkg/ontology"
	"github.com/orneryd/graphrouter/pkg/query"
	"github.com/orneryd/graphrouter/pkg/storage"
)

// ErrNilProperties is returned when a write is attempted with a nil
// property map. An empty map is legal; nil is a caller bug worth surfacing.
var ErrNilProperties = errors.New("properties cannot be nil")

// Options configures the cross-cutting state of a DB.
type Options struct {
	// CacheTTL bounds the query cache. Zero selects cache.DefaultTTL.
	CacheTTL time.Duration
	// MetricsRetention bounds the monitor's sample window. Zero selects
	// monitor.DefaultRetention.
	MetricsRetention time.Duration
}

// DB is the GraphDatabase contract: validation, caching, and monitoring
// wrapped around a storage backend. Construct with New or NewWithOptions;
// the zero value is not usable.
type DB struct {
	backend  storage.Backend
	ontology *ontology.Ontology
	cache    *cache.QueryCache
	monitor  *monitor.PerformanceMonitor
}

// New wraps a backend with default cache and monitor settings.
func New(backend storage.Backend) *DB {
	return NewWithOptions(backend, Options{})
}

// NewWithOptions wraps a backend with explicit cache/monitor settings.
func NewWithOptions(backend storage.Backend, opts Options) *DB {
	return &DB{
		backend: backend,
		cache:   cache.NewQueryCache(opts.CacheTTL),
		monitor: monitor.New(opts.MetricsRetention),
	}
}

// Connect opens the underlying backend.
func (db *DB) Connect(ctx context.Context, opts storage.ConnectOptions) error {
	return db.backend.Connect(ctx, opts)
}

// Disconnect closes the underlying backend.
func (db *DB) Disconnect(ctx context.Context) error {
	return db.backend.Disconnect(ctx)
}

// Connected reports whether the backend is connected.
func (db *DB) Connected() bool {
	return db.backend.Connected()
}

// SetOntology attaches the schema used to validate every mutation and
// forwards it to the backend.
func (db *DB) SetOntology(o *ontology.Ontology) {
	db.ontology = o
	db.backend.SetOntology(o)
}

// Ontology returns the attached schema, or nil when none is set.
func (db *DB) Ontology() *ontology.Ontology {
	return db.ontology
}

// ValidateNode reports whether a label/property pair passes the attached
// ontology. With no ontology attached, everything passes.
func (db *DB) ValidateNode(label string, properties map[string]any) bool {
	if db.ontology == nil {
		return true
	}
	return db.ontology.ValidateNode(label, properties) == nil
}

// ValidateEdge is the edge counterpart of ValidateNode.
func (db *DB) ValidateEdge(label string, properties map[string]any) bool {
	if db.ontology == nil {
		return true
	}
	return db.ontology.ValidateEdge(label, properties) == nil
}

// CreateNode validates and stores a new node, returning its generated id.
func (db *DB) CreateNode(ctx context.Context, label string, properties map[string]any) (graph.NodeID, error) {
	if !db.backend.Connected() {
		return "", graph.ErrNotConnected
	}
	if properties == nil {
		return "", ErrNilProperties
	}
	props := properties
	if db.ontology != nil {
		props = db.ontology.MapNodeProperties(label, properties)
		if err := db.ontology.ValidateNode(label, props); err != nil {
			return "", fmt.Errorf("node validation failed: %w", err)
		}
	}

	start := time.Now()
	id, err := db.backend.CreateNode(ctx, label, props)
	db.monitor.RecordOperation("create_node", time.Since(start), err)
	if err != nil {
		return "", err
	}
	db.cache.Invalidate("query:*")
	return id, nil
}

// GetNode returns the node, serving repeat reads from the cache. The
// caller owns the returned copy.
func (db *DB) GetNode(ctx context.Context, id graph.NodeID) (*graph.Node, error) {
	if !db.backend.Connected() {
		return nil, graph.ErrNotConnected
	}
	key := "node:" + string(id)
	if cached, ok := db.cache.Get(key); ok {
		if n, ok := cached.(*graph.Node); ok {
			return n.Clone(), nil
		}
	}

	start := time.Now()
	n, err := db.backend.GetNode(ctx, id)
	db.monitor.RecordOperation("get_node", time.Since(start), err)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			db.cache.Invalidate(key)
		}
		return nil, err
	}
	db.cache.Set(key, n.Clone())
	return n, nil
}

// UpdateNode merges properties into the node. Validation runs against the
// merged property set, not just the delta.
func (db *DB) UpdateNode(ctx context.Context, id graph.NodeID, properties map[string]any) error {
	if !db.backend.Connected() {
		return graph.ErrNotConnected
	}
	if properties == nil {
		return ErrNilProperties
	}
	current, err := db.backend.GetNode(ctx, id)
	if err != nil {
		return err
	}
	props := properties
	if db.ontology != nil {
		props = db.ontology.MapNodeProperties(current.Label, properties)
		merged := graph.CloneProperties(current.Properties)
		if merged == nil {
			merged = make(map[string]any, len(props))
		}
		for k, v := range props {
			merged[k] = v
		}
		if err := db.ontology.ValidateNode(current.Label, merged); err != nil {
			return fmt.Errorf("node validation failed: %w", err)
		}
	}

	start := time.Now()
	err = db.backend.UpdateNode(ctx, id, props)
	db.monitor.RecordOperation("update_node", time.Since(start), err)
	if err != nil {
		return err
	}
	db.cache.Invalidate("node:" + string(id))
	db.cache.Invalidate("query:*")
	return nil
}

// DeleteNode removes the node and its incident edges, invalidating every
// affected cache entry.
func (db *DB) DeleteNode(ctx context.Context, id graph.NodeID) error {
	if !db.backend.Connected() {
		return graph.ErrNotConnected
	}
	start := time.Now()
	removedEdges, err := db.backend.DeleteNode(ctx, id)
	db.monitor.RecordOperation("delete_node", time.Since(start), err)
	if err != nil {
		return err
	}
	db.cache.Invalidate("node:" + string(id))
	for _, eid := range removedEdges {
		db.cache.Invalidate("edge:" + string(eid))
	}
	db.cache.Invalidate("query:*")
	return nil
}

// CreateEdge validates and stores a new edge between existing nodes,
// returning its generated id. The label is normalized to lower case.
func (db *DB) CreateEdge(ctx context.Context, from, to graph.NodeID, label string, properties map[string]any) (graph.EdgeID, error) {
	if !db.backend.Connected() {
		return "", graph.ErrNotConnected
	}
	if properties == nil {
		return "", ErrNilProperties
	}
	label = graph.NormalizeEdgeLabel(label)
	props := properties
	if db.ontology != nil {
		props = db.ontology.MapEdgeProperties(label, properties)
		if err := db.ontology.ValidateEdge(label, props); err != nil {
			return "", fmt.Errorf("edge validation failed: %w", err)
		}
	}

	start := time.Now()
	id, err := db.backend.CreateEdge(ctx, from, to, label, props)
	db.monitor.RecordOperation("create_edge", time.Since(start), err)
	if err != nil {
		return "", err
	}
	db.cache.Invalidate("query:*")
	return id, nil
}

// GetEdge returns the edge, serving repeat reads from the cache.
func (db *DB) GetEdge(ctx context.Context, id graph.EdgeID) (*graph.Edge, error) {
	if !db.backend.Connected() {
		return nil, graph.ErrNotConnected
	}
	key := "edge:" + string(id)
	if cached, ok := db.cache.Get(key); ok {
		if e, ok := cached.(*graph.Edge); ok {
			return e.Clone(), nil
		}
	}

	start := time.Now()
	e, err := db.backend.GetEdge(ctx, id)
	db.monitor.RecordOperation("get_edge", time.Since(start), err)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			db.cache.Invalidate(key)
		}
		return nil, err
	}
	db.cache.Set(key, e.Clone())
	return e, nil
}

// UpdateEdge merges properties into the edge, validating the merged set.
func (db *DB) UpdateEdge(ctx context.Context, id graph.EdgeID, properties map[string]any) error {
	if !db.backend.Connected() {
		return graph.ErrNotConnected
	}
	if properties == nil {
		return ErrNilProperties
	}
	current, err := db.backend.GetEdge(ctx, id)
	if err != nil {
		return err
	}
	props := properties
	if db.ontology != nil {
		props = db.ontology.MapEdgeProperties(current.Label, properties)
		merged := graph.CloneProperties(current.Properties)
		if merged == nil {
			merged = make(map[string]any, len(props))
		}
		for k, v := range props {
			merged[k] = v
		}
		if err := db.ontology.ValidateEdge(current.Label, merged); err != nil {
			return fmt.Errorf("edge validation failed: %w", err)
		}
	}

	start := time.Now()
	err = db.backend.UpdateEdge(ctx, id, props)
	db.monitor.RecordOperation("update_edge", time.Since(start), err)
	if err != nil {
		return err
	}
	db.cache.Invalidate("edge:" + string(id))
	db.cache.Invalidate("query:*")
	return nil
}

// DeleteEdge removes the edge and invalidates its cache entry.
func (db *DB) DeleteEdge(ctx context.Context, id graph.EdgeID) error {
	if !db.backend.Connected() {
		return graph.ErrNotConnected
	}
	start := time.Now()
	err := db.backend.DeleteEdge(ctx, id)
	db.monitor.RecordOperation("delete_edge", time.Since(start), err)
	if err != nil {
		return err
	}
	db.cache.Invalidate("edge:" + string(id))
	db.cache.Invalidate("query:*")
	return nil
}

// Query executes a declarative query, serving repeat runs of structurally
// identical queries from the cache. The caller owns the returned rows; the
// cache keeps its own copy. Execution stamps the query's duration and the
// serialized-result byte length onto its statistics. Queries carrying
// custom predicates cannot be fingerprinted and always execute.
func (db *DB) Query(ctx context.Context, q *query.Query) ([]query.Result, error) {
	if !db.backend.Connected() {
		return nil, graph.ErrNotConnected
	}

	cacheKey := ""
	if fp, ok := q.Fingerprint(); ok {
		cacheKey = "query:" + fp
		if cached, ok := db.cache.Get(cacheKey); ok {
			if results, ok := cached.([]query.Result); ok {
				return query.CloneResults(results), nil
			}
		}
	}

	start := time.Now()
	results, err := db.backend.Query(ctx, q)
	elapsed := time.Since(start)
	db.monitor.RecordOperation("query", elapsed, err)
	if err != nil {
		return nil, err
	}
	q.SetExecutionTime(elapsed)
	if data, err := json.Marshal(results); err == nil {
		q.SetMemoryUsed(float64(len(data)))
	}
	if cacheKey != "" {
		db.cache.Set(cacheKey, query.CloneResults(results))
	}
	return results, nil
}

// BatchCreateNodes validates every spec before any reaches the backend, so
// an invalid element aborts the whole batch with nothing committed.
func (db *DB) BatchCreateNodes(ctx context.Context, specs []graph.NodeSpec) ([]graph.NodeID, error) {
	if !db.backend.Connected() {
		return nil, graph.ErrNotConnected
	}
	prepared := make([]graph.NodeSpec, len(specs))
	for i, spec := range specs {
		if spec.Label == "" {
			return nil, fmt.Errorf("node %d: missing label", i)
		}
		if spec.Properties == nil {
			return nil, fmt.Errorf("node %d: %w", i, ErrNilProperties)
		}
		props := spec.Properties
		if db.ontology != nil {
			props = db.ontology.MapNodeProperties(spec.Label, spec.Properties)
			if err := db.ontology.ValidateNode(spec.Label, props); err != nil {
				return nil, fmt.Errorf("node %d: validation failed: %w", i, err)
			}
		}
		prepared[i] = graph.NodeSpec{Label: spec.Label, Properties: props}
	}

	start := time.Now()
	ids, err := db.backend.BatchCreateNodes(ctx, prepared)
	db.monitor.RecordOperation("batch_create_nodes", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	db.cache.Invalidate("query:*")
	return ids, nil
}

// BatchCreateEdges is the edge counterpart of BatchCreateNodes.
func (db *DB) BatchCreateEdges(ctx context.Context, specs []graph.EdgeSpec) ([]graph.EdgeID, error) {
	if !db.backend.Connected() {
		return nil, graph.ErrNotConnected
	}
	prepared := make([]graph.EdgeSpec, len(specs))
	for i, spec := range specs {
		if spec.FromID == "" || spec.ToID == "" || spec.Label == "" {
			return nil, fmt.Errorf("edge %d: missing endpoint or label", i)
		}
		if spec.Properties == nil {
			return nil, fmt.Errorf("edge %d: %w", i, ErrNilProperties)
		}
		label := graph.NormalizeEdgeLabel(spec.Label)
		props := spec.Properties
		if db.ontology != nil {
			props = db.ontology.MapEdgeProperties(label, spec.Properties)
			if err := db.ontology.ValidateEdge(label, props); err != nil {
				return nil, fmt.Errorf("edge %d: validation failed: %w", i, err)
			}
		}
		prepared[i] = graph.EdgeSpec{FromID: spec.FromID, ToID: spec.ToID, Label: label, Properties: props}
	}

	start := time.Now()
	ids, err := db.backend.BatchCreateEdges(ctx, prepared)
	db.monitor.RecordOperation("batch_create_edges", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	db.cache.Invalidate("query:*")
	return ids, nil
}

// EdgesOfNode returns every edge touching the node on either end,
// optionally restricted to one edge type (case-insensitive).
func (db *DB) EdgesOfNode(ctx context.Context, id graph.NodeID, edgeType string) ([]*graph.Edge, error) {
	if !db.backend.Connected() {
		return nil, graph.ErrNotConnected
	}
	edges, err := db.backend.AllEdges(ctx)
	if err != nil {
		return nil, err
	}
	want := graph.NormalizeEdgeLabel(edgeType)
	var out []*graph.Edge
	for _, e := range edges {
		if e.FromID != id && e.ToID != id {
			continue
		}
		if edgeType != "" && e.Label != want {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ConnectedNodes returns the nodes reachable from id over one edge,
// following the given direction. For direction "both", an edge contributes
// whichever endpoint is not id.
func (db *DB) ConnectedNodes(ctx context.Context, id graph.NodeID, edgeType, direction string) ([]*graph.Node, error) {
	edges, err := db.EdgesOfNode(ctx, id, edgeType)
	if err != nil {
		return nil, err
	}
	var out []*graph.Node
	for _, e := range edges {
		var otherID graph.NodeID
		switch strings.ToLower(direction) {
		case "out":
			if e.FromID != id {
				continue
			}
			otherID = e.ToID
		case "in":
			if e.ToID != id {
				continue
			}
			otherID = e.FromID
		case "both", "":
			if e.FromID == id {
				otherID = e.ToID
			} else {
				otherID = e.FromID
			}
		default:
			continue
		}
		n, err := db.GetNode(ctx, otherID)
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// NodesByProperty returns every node whose named property equals value.
func (db *DB) NodesByProperty(ctx context.Context, name string, value any) ([]*graph.Node, error) {
	if !db.backend.Connected() {
		return nil, graph.ErrNotConnected
	}
	nodes, err := db.backend.AllNodes(ctx)
	if err != nil {
		return nil, err
	}
	var out []*graph.Node
	for _, n := range nodes {
		q := query.PropertyEquals(name, value)
		if q.MatchNode(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// NodesWithProperty returns every node carrying the named property,
// whatever its value.
func (db *DB) NodesWithProperty(ctx context.Context, name string) ([]*graph.Node, error) {
	if !db.backend.Connected() {
		return nil, graph.ErrNotConnected
	}
	nodes, err := db.backend.AllNodes(ctx)
	if err != nil {
		return nil, err
	}
	var out []*graph.Node
	for _, n := range nodes {
		if _, ok := n.Properties[name]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// AllNodes returns every stored node. Intended for export tooling; large
// graphs should prefer a filtered Query.
func (db *DB) AllNodes(ctx context.Context) ([]*graph.Node, error) {
	if !db.backend.Connected() {
		return nil, graph.ErrNotConnected
	}
	return db.backend.AllNodes(ctx)
}

// AllEdges returns every stored edge.
func (db *DB) AllEdges(ctx context.Context) ([]*graph.Edge, error) {
	if !db.backend.Connected() {
		return nil, graph.ErrNotConnected
	}
	return db.backend.AllEdges(ctx)
}

// PerformanceMetrics returns the average duration per operation name.
func (db *DB) PerformanceMetrics() map[string]time.Duration {
	return db.monitor.AverageTimes()
}

// DetailedMetrics returns the full per-operation statistics.
func (db *DB) DetailedMetrics() map[string]monitor.OperationStats {
	return db.monitor.DetailedMetrics()
}

// ResetMetrics discards all recorded metrics.
func (db *DB) ResetMetrics() {
	db.monitor.Reset()
}

// ClearCache drops every cached read.
func (db *DB) ClearCache() {
	db.cache.Clear()
}

// CacheStats reports lifetime cache hit and miss counts.
func (db *DB) CacheStats() (hits, misses uint64) {
	return db.cache.Stats()
}
