// Package storage implements the embedded graph engine: in-memory node and
// edge maps, a forward adjacency index, JSON-file persistence, and the query
// execution pipeline.
//
// The engine is the reference backend of GraphRouter. It holds the whole
// graph in flat maps keyed by generated ids, loads the graph wholesale from
// a single JSON file on Connect, and writes it back on Disconnect. There is
// no incremental log; durability is whole-file overwrite.
//
// All state is guarded by one read-write mutex. Reads take the read lock,
// every mutation takes the write lock and leaves the adjacency index
// consistent with the edge map before returning.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/orneryd/graphrouter/pkg/graph"
	"github.com/orneryd/graphrouter/pkg/ontology"
	"github.com/orneryd/graphrouter/pkg/query"
)

// adjacencyEntry is one outgoing hop in the forward adjacency index.
type adjacencyEntry struct {
	Edge graph.EdgeID
	To   graph.NodeID
}

// LocalEngine is the embedded, file-persisted backend.
//
// The zero value is not usable; construct with NewLocalEngine and call
// Connect before any other method.
type LocalEngine struct {
	mu        sync.RWMutex
	path      string
	connected bool
	ontology  *ontology.Ontology
	nodes     map[graph.NodeID]*graph.Node
	edges     map[graph.EdgeID]*graph.Edge
	adjacency map[graph.NodeID][]adjacencyEntry
}

// NewLocalEngine returns an engine that persists to path on Disconnect.
// An empty path keeps the graph purely in memory.
func NewLocalEngine(path string) *LocalEngine {
	return &LocalEngine{path: path}
}

// Connect loads the persisted snapshot if one exists at the engine's path,
// otherwise starts with an empty graph. A file that cannot be parsed fails
// with graph.ErrCorruptSnapshot; the engine stays disconnected.
func (e *LocalEngine) Connect(ctx context.Context, opts ConnectOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if opts.Path != "" {
		e.path = opts.Path
	}

	e.nodes = make(map[graph.NodeID]*graph.Node)
	e.edges = make(map[graph.EdgeID]*graph.Edge)

	if e.path != "" {
		data, err := os.ReadFile(e.path)
		switch {
		case os.IsNotExist(err):
			// Fresh database.
		case err != nil:
			return fmt.Errorf("read snapshot %s: %w", e.path, err)
		default:
			var snap graph.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("%w: %s: %v", graph.ErrCorruptSnapshot, e.path, err)
			}
			for id, rec := range snap.Nodes {
				e.nodes[id] = &graph.Node{ID: id, Label: rec.Label, Properties: rec.Properties}
			}
			for id, rec := range snap.Edges {
				e.edges[id] = &graph.Edge{
					ID:         id,
					FromID:     rec.FromID,
					ToID:       rec.ToID,
					Label:      graph.NormalizeEdgeLabel(rec.Label),
					Properties: rec.Properties,
				}
			}
		}
	}

	e.rebuildAdjacencyLocked()
	e.connected = true
	return nil
}

// Disconnect writes the whole graph back to the snapshot file (pretty
// printed, so diffs stay readable) and marks the engine disconnected.
func (e *LocalEngine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return nil
	}
	if e.path != "" {
		snap := e.snapshotLocked()
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := os.WriteFile(e.path, data, 0o644); err != nil {
			return fmt.Errorf("write snapshot %s: %w", e.path, err)
		}
	}
	e.connected = false
	return nil
}

// Connected reports whether Connect has succeeded and Disconnect has not
// been called since.
func (e *LocalEngine) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// SetOntology attaches the schema. The engine itself does not validate
// (the database contract does, before delegating) but the schema is kept
// for inspection tooling.
func (e *LocalEngine) SetOntology(o *ontology.Ontology) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ontology = o
}

// CreateNode stores a node under a fresh id and returns the id.
func (e *LocalEngine) CreateNode(ctx context.Context, label string, properties map[string]any) (graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return "", graph.ErrNotConnected
	}
	id := graph.NodeID(uuid.NewString())
	e.nodes[id] = &graph.Node{
		ID:         id,
		Label:      label,
		Properties: graph.CloneProperties(properties),
	}
	return id, nil
}

// GetNode returns a deep copy of the node, or graph.ErrNotFound.
func (e *LocalEngine) GetNode(ctx context.Context, id graph.NodeID) (*graph.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.connected {
		return nil, graph.ErrNotConnected
	}
	n, ok := e.nodes[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	return n.Clone(), nil
}

// UpdateNode merges properties over the stored node's existing set.
func (e *LocalEngine) UpdateNode(ctx context.Context, id graph.NodeID, properties map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return graph.ErrNotConnected
	}
	n, ok := e.nodes[id]
	if !ok {
		return graph.ErrNotFound
	}
	if n.Properties == nil {
		n.Properties = make(map[string]any, len(properties))
	}
	for k, v := range graph.CloneProperties(properties) {
		n.Properties[k] = v
	}
	return nil
}

// DeleteNode removes the node and cascade-deletes every incident edge,
// returning the ids of the removed edges so callers can invalidate their
// cache entries.
func (e *LocalEngine) DeleteNode(ctx context.Context, id graph.NodeID) ([]graph.EdgeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return nil, graph.ErrNotConnected
	}
	if _, ok := e.nodes[id]; !ok {
		return nil, graph.ErrNotFound
	}

	var removed []graph.EdgeID
	for eid, edge := range e.edges {
		if edge.FromID == id || edge.ToID == id {
			removed = append(removed, eid)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	for _, eid := range removed {
		delete(e.edges, eid)
	}
	delete(e.nodes, id)
	e.rebuildAdjacencyLocked()
	return removed, nil
}

// CreateEdge stores an edge under a fresh id. Both endpoints must already
// exist; the label is stored lower-cased.
func (e *LocalEngine) CreateEdge(ctx context.Context, from, to graph.NodeID, label string, properties map[string]any) (graph.EdgeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return "", graph.ErrNotConnected
	}
	if _, ok := e.nodes[from]; !ok {
		return "", graph.ErrInvalidEdge
	}
	if _, ok := e.nodes[to]; !ok {
		return "", graph.ErrInvalidEdge
	}
	id := graph.EdgeID(uuid.NewString())
	e.edges[id] = &graph.Edge{
		ID:         id,
		FromID:     from,
		ToID:       to,
		Label:      graph.NormalizeEdgeLabel(label),
		Properties: graph.CloneProperties(properties),
	}
	e.rebuildAdjacencyLocked()
	return id, nil
}

// GetEdge returns a deep copy of the edge, or graph.ErrNotFound.
func (e *LocalEngine) GetEdge(ctx context.Context, id graph.EdgeID) (*graph.Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.connected {
		return nil, graph.ErrNotConnected
	}
	edge, ok := e.edges[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	return edge.Clone(), nil
}

// UpdateEdge merges properties over the stored edge's existing set.
func (e *LocalEngine) UpdateEdge(ctx context.Context, id graph.EdgeID, properties map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return graph.ErrNotConnected
	}
	edge, ok := e.edges[id]
	if !ok {
		return graph.ErrNotFound
	}
	if edge.Properties == nil {
		edge.Properties = make(map[string]any, len(properties))
	}
	for k, v := range graph.CloneProperties(properties) {
		edge.Properties[k] = v
	}
	return nil
}

// DeleteEdge removes the edge and rebuilds the adjacency index.
func (e *LocalEngine) DeleteEdge(ctx context.Context, id graph.EdgeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return graph.ErrNotConnected
	}
	if _, ok := e.edges[id]; !ok {
		return graph.ErrNotFound
	}
	delete(e.edges, id)
	e.rebuildAdjacencyLocked()
	return nil
}

// BatchCreateNodes stores every spec under a fresh id. The database
// contract validates the whole batch before calling here, so by this point
// the batch is committed as a unit.
func (e *LocalEngine) BatchCreateNodes(ctx context.Context, specs []graph.NodeSpec) ([]graph.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return nil, graph.ErrNotConnected
	}
	ids := make([]graph.NodeID, len(specs))
	for i, spec := range specs {
		id := graph.NodeID(uuid.NewString())
		e.nodes[id] = &graph.Node{
			ID:         id,
			Label:      spec.Label,
			Properties: graph.CloneProperties(spec.Properties),
		}
		ids[i] = id
	}
	return ids, nil
}

// BatchCreateEdges stores every spec under a fresh id. Endpoint existence is
// checked for the whole batch up front so a bad spec commits nothing.
func (e *LocalEngine) BatchCreateEdges(ctx context.Context, specs []graph.EdgeSpec) ([]graph.EdgeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return nil, graph.ErrNotConnected
	}
	for i, spec := range specs {
		if _, ok := e.nodes[spec.FromID]; !ok {
			return nil, fmt.Errorf("edge %d: %w", i, graph.ErrInvalidEdge)
		}
		if _, ok := e.nodes[spec.ToID]; !ok {
			return nil, fmt.Errorf("edge %d: %w", i, graph.ErrInvalidEdge)
		}
	}
	ids := make([]graph.EdgeID, len(specs))
	for i, spec := range specs {
		id := graph.EdgeID(uuid.NewString())
		e.edges[id] = &graph.Edge{
			ID:         id,
			FromID:     spec.FromID,
			ToID:       spec.ToID,
			Label:      graph.NormalizeEdgeLabel(spec.Label),
			Properties: graph.CloneProperties(spec.Properties),
		}
		ids[i] = id
	}
	e.rebuildAdjacencyLocked()
	return ids, nil
}

// Query runs the declarative descriptor through the execution pipeline and
// returns the result rows.
func (e *LocalEngine) Query(ctx context.Context, q *query.Query) ([]query.Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.connected {
		return nil, graph.ErrNotConnected
	}
	return executeQuery(ctx, e.view(), q)
}

// AllNodes returns deep copies of every node, sorted by id for stable
// iteration order.
func (e *LocalEngine) AllNodes(ctx context.Context) ([]*graph.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.connected {
		return nil, graph.ErrNotConnected
	}
	out := make([]*graph.Node, 0, len(e.nodes))
	for _, id := range e.sortedNodeIDsLocked() {
		out = append(out, e.nodes[id].Clone())
	}
	return out, nil
}

// AllEdges returns deep copies of every edge, sorted by id.
func (e *LocalEngine) AllEdges(ctx context.Context) ([]*graph.Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.connected {
		return nil, graph.ErrNotConnected
	}
	ids := make([]graph.EdgeID, 0, len(e.edges))
	for id := range e.edges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*graph.Edge, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.edges[id].Clone())
	}
	return out, nil
}

// view captures the engine state in the shape the pipeline consumes.
// Callers must hold at least the read lock for the duration of the query.
func (e *LocalEngine) view() *graphView {
	return &graphView{
		nodes:     e.nodes,
		edges:     e.edges,
		adjacency: e.adjacency,
		nodeIDs:   e.sortedNodeIDsLocked(),
	}
}

func (e *LocalEngine) sortedNodeIDsLocked() []graph.NodeID {
	ids := make([]graph.NodeID, 0, len(e.nodes))
	for id := range e.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// rebuildAdjacencyLocked recomputes the forward adjacency index from the
// authoritative edge map. Called after every edge or node mutation; entries
// per source node are sorted by edge id so traversal order is stable.
func (e *LocalEngine) rebuildAdjacencyLocked() {
	adj := make(map[graph.NodeID][]adjacencyEntry, len(e.nodes))
	for id, edge := range e.edges {
		adj[edge.FromID] = append(adj[edge.FromID], adjacencyEntry{Edge: id, To: edge.ToID})
	}
	for _, entries := range adj {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Edge < entries[j].Edge })
	}
	e.adjacency = adj
}

func (e *LocalEngine) snapshotLocked() graph.Snapshot {
	snap := graph.Snapshot{
		Nodes: make(map[graph.NodeID]graph.NodeRecord, len(e.nodes)),
		Edges: make(map[graph.EdgeID]graph.EdgeRecord, len(e.edges)),
	}
	for id, n := range e.nodes {
		snap.Nodes[id] = graph.NodeRecord{Label: n.Label, Properties: n.Properties}
	}
	for id, edge := range e.edges {
		snap.Edges[id] = graph.EdgeRecord{
			FromID:     edge.FromID,
			ToID:       edge.ToID,
			Label:      edge.Label,
			Properties: edge.Properties,
		}
	}
	return snap
}
