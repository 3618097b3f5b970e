package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/orneryd/graphrouter/pkg/graph"
	"github.com/orneryd/graphrouter/pkg/ontology"
	"github.com/orneryd/graphrouter/pkg/query"
)

// Key prefixes for the Badger keyspace. Records are JSON, keyed by prefix
// plus id.
const (
	badgerNodePrefix = "node:"
	badgerEdgePrefix = "edge:"
)

// BadgerEngine is the durable backend: the same graph semantics as the
// embedded engine, but every record lives in a BadgerDB keyspace with
// per-operation ACID transactions instead of whole-file persistence on
// disconnect.
//
// Queries materialize a view of the graph and run the shared execution
// pipeline over it. That trades memory for one engine-independent pipeline;
// graphs that outgrow that trade belong on a remote backend.
type BadgerEngine struct {
	mu       sync.RWMutex
	dir      string
	db       *badger.DB
	ontology *ontology.Ontology
	inMemory bool
}

// NewBadgerEngine returns an engine that stores its keyspace under dir.
// An empty dir selects Badger's in-memory mode, which is useful in tests.
func NewBadgerEngine(dir string) *BadgerEngine {
	return &BadgerEngine{dir: dir, inMemory: dir == ""}
}

// Connect opens the Badger database. Badger recovers its own state from the
// value log, so unlike the embedded engine there is no snapshot to parse.
func (b *BadgerEngine) Connect(ctx context.Context, opts ConnectOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return nil
	}
	if opts.Dir != "" {
		b.dir = opts.Dir
		b.inMemory = false
	}

	badgerOpts := badger.DefaultOptions(b.dir).WithLogger(nil)
	if b.inMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return fmt.Errorf("open badger at %q: %w", b.dir, err)
	}
	b.db = db
	return nil
}

// Disconnect flushes and closes the database.
func (b *BadgerEngine) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// Connected reports whether the database is open.
func (b *BadgerEngine) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.db != nil
}

// SetOntology attaches the schema for inspection tooling.
func (b *BadgerEngine) SetOntology(o *ontology.Ontology) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ontology = o
}

func nodeKey(id graph.NodeID) []byte { return []byte(badgerNodePrefix + string(id)) }
func edgeKey(id graph.EdgeID) []byte { return []byte(badgerEdgePrefix + string(id)) }

// CreateNode stores a node record under a fresh id.
func (b *BadgerEngine) CreateNode(ctx context.Context, label string, properties map[string]any) (graph.NodeID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return "", graph.ErrNotConnected
	}
	id := graph.NodeID(uuid.NewString())
	rec := graph.NodeRecord{Label: label, Properties: properties}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode node: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(nodeKey(id), data)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetNode loads a node record, or graph.ErrNotFound.
func (b *BadgerEngine) GetNode(ctx context.Context, id graph.NodeID) (*graph.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, graph.ErrNotConnected
	}
	var node *graph.Node
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return graph.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var rec graph.NodeRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decode node %s: %w", id, err)
			}
			node = &graph.Node{ID: id, Label: rec.Label, Properties: rec.Properties}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// UpdateNode merges properties over the stored record inside one
// transaction.
func (b *BadgerEngine) UpdateNode(ctx context.Context, id graph.NodeID, properties map[string]any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return graph.ErrNotConnected
	}
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return graph.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec graph.NodeRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("decode node %s: %w", id, err)
		}
		if rec.Properties == nil {
			rec.Properties = make(map[string]any, len(properties))
		}
		for k, v := range properties {
			rec.Properties[k] = v
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode node: %w", err)
		}
		return txn.Set(nodeKey(id), data)
	})
}

// DeleteNode removes the node and every incident edge in one transaction,
// returning the removed edge ids.
func (b *BadgerEngine) DeleteNode(ctx context.Context, id graph.NodeID) ([]graph.EdgeID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, graph.ErrNotConnected
	}
	var removed []graph.EdgeID
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(id)); err == badger.ErrKeyNotFound {
			return graph.ErrNotFound
		} else if err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerEdgePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			eid := graph.EdgeID(item.Key()[len(badgerEdgePrefix):])
			var rec graph.EdgeRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode edge %s: %w", eid, err)
			}
			if rec.FromID == id || rec.ToID == id {
				removed = append(removed, eid)
			}
		}
		for _, eid := range removed {
			if err := txn.Delete(edgeKey(eid)); err != nil {
				return err
			}
		}
		return txn.Delete(nodeKey(id))
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// CreateEdge stores an edge record; both endpoints must exist at commit
// time, checked inside the same transaction.
func (b *BadgerEngine) CreateEdge(ctx context.Context, from, to graph.NodeID, label string, properties map[string]any) (graph.EdgeID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return "", graph.ErrNotConnected
	}
	id := graph.EdgeID(uuid.NewString())
	rec := graph.EdgeRecord{
		FromID:     from,
		ToID:       to,
		Label:      graph.NormalizeEdgeLabel(label),
		Properties: properties,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode edge: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		for _, nid := range []graph.NodeID{from, to} {
			if _, err := txn.Get(nodeKey(nid)); err == badger.ErrKeyNotFound {
				return graph.ErrInvalidEdge
			} else if err != nil {
				return err
			}
		}
		return txn.Set(edgeKey(id), data)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetEdge loads an edge record, or graph.ErrNotFound.
func (b *BadgerEngine) GetEdge(ctx context.Context, id graph.EdgeID) (*graph.Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, graph.ErrNotConnected
	}
	var edge *graph.Edge
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(edgeKey(id))
		if err == badger.ErrKeyNotFound {
			return graph.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var rec graph.EdgeRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decode edge %s: %w", id, err)
			}
			edge = &graph.Edge{
				ID:         id,
				FromID:     rec.FromID,
				ToID:       rec.ToID,
				Label:      rec.Label,
				Properties: rec.Properties,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// UpdateEdge merges properties over the stored record.
func (b *BadgerEngine) UpdateEdge(ctx context.Context, id graph.EdgeID, properties map[string]any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return graph.ErrNotConnected
	}
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(edgeKey(id))
		if err == badger.ErrKeyNotFound {
			return graph.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec graph.EdgeRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("decode edge %s: %w", id, err)
		}
		if rec.Properties == nil {
			rec.Properties = make(map[string]any, len(properties))
		}
		for k, v := range properties {
			rec.Properties[k] = v
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode edge: %w", err)
		}
		return txn.Set(edgeKey(id), data)
	})
}

// DeleteEdge removes the edge record.
func (b *BadgerEngine) DeleteEdge(ctx context.Context, id graph.EdgeID) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return graph.ErrNotConnected
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(edgeKey(id)); err == badger.ErrKeyNotFound {
			return graph.ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(edgeKey(id))
	})
}

// BatchCreateNodes writes every spec in a single transaction.
func (b *BadgerEngine) BatchCreateNodes(ctx context.Context, specs []graph.NodeSpec) ([]graph.NodeID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, graph.ErrNotConnected
	}
	ids := make([]graph.NodeID, len(specs))
	err := b.db.Update(func(txn *badger.Txn) error {
		for i, spec := range specs {
			id := graph.NodeID(uuid.NewString())
			data, err := json.Marshal(graph.NodeRecord{Label: spec.Label, Properties: spec.Properties})
			if err != nil {
				return fmt.Errorf("encode node %d: %w", i, err)
			}
			if err := txn.Set(nodeKey(id), data); err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// BatchCreateEdges writes every spec in a single transaction, checking all
// endpoints before writing anything.
func (b *BadgerEngine) BatchCreateEdges(ctx context.Context, specs []graph.EdgeSpec) ([]graph.EdgeID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, graph.ErrNotConnected
	}
	ids := make([]graph.EdgeID, len(specs))
	err := b.db.Update(func(txn *badger.Txn) error {
		for i, spec := range specs {
			for _, nid := range []graph.NodeID{spec.FromID, spec.ToID} {
				if _, err := txn.Get(nodeKey(nid)); err == badger.ErrKeyNotFound {
					return fmt.Errorf("edge %d: %w", i, graph.ErrInvalidEdge)
				} else if err != nil {
					return err
				}
			}
		}
		for i, spec := range specs {
			id := graph.EdgeID(uuid.NewString())
			rec := graph.EdgeRecord{
				FromID:     spec.FromID,
				ToID:       spec.ToID,
				Label:      graph.NormalizeEdgeLabel(spec.Label),
				Properties: spec.Properties,
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode edge %d: %w", i, err)
			}
			if err := txn.Set(edgeKey(id), data); err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Query materializes the graph into a view and runs the shared pipeline.
func (b *BadgerEngine) Query(ctx context.Context, q *query.Query) ([]query.Result, error) {
	v, err := b.materialize(ctx)
	if err != nil {
		return nil, err
	}
	return executeQuery(ctx, v, q)
}

// AllNodes loads every node record, sorted by id.
func (b *BadgerEngine) AllNodes(ctx context.Context) ([]*graph.Node, error) {
	v, err := b.materialize(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*graph.Node, 0, len(v.nodeIDs))
	for _, id := range v.nodeIDs {
		out = append(out, v.nodes[id])
	}
	return out, nil
}

// AllEdges loads every edge record, sorted by id.
func (b *BadgerEngine) AllEdges(ctx context.Context) ([]*graph.Edge, error) {
	v, err := b.materialize(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]graph.EdgeID, 0, len(v.edges))
	for id := range v.edges {
		ids = append(ids, id)
	}
	sortEdgeIDs(ids)
	out := make([]*graph.Edge, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.edges[id])
	}
	return out, nil
}

// materialize reads the whole keyspace into a graphView: node and edge
// maps plus a freshly built adjacency index.
func (b *BadgerEngine) materialize(ctx context.Context) (*graphView, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, graph.ErrNotConnected
	}

	v := &graphView{
		nodes:     make(map[graph.NodeID]*graph.Node),
		edges:     make(map[graph.EdgeID]*graph.Edge),
		adjacency: make(map[graph.NodeID][]adjacencyEntry),
	}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerNodePrefix)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := graph.NodeID(item.Key()[len(badgerNodePrefix):])
			var rec graph.NodeRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				it.Close()
				return fmt.Errorf("decode node %s: %w", id, err)
			}
			v.nodes[id] = &graph.Node{ID: id, Label: rec.Label, Properties: rec.Properties}
		}
		it.Close()

		opts = badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerEdgePrefix)
		it = txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := graph.EdgeID(item.Key()[len(badgerEdgePrefix):])
			var rec graph.EdgeRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode edge %s: %w", id, err)
			}
			v.edges[id] = &graph.Edge{
				ID:         id,
				FromID:     rec.FromID,
				ToID:       rec.ToID,
				Label:      rec.Label,
				Properties: rec.Properties,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for id, edge := range v.edges {
		v.adjacency[edge.FromID] = append(v.adjacency[edge.FromID], adjacencyEntry{Edge: id, To: edge.ToID})
	}
	for _, entries := range v.adjacency {
		sortAdjacency(entries)
	}
	v.nodeIDs = make([]graph.NodeID, 0, len(v.nodes))
	for id := range v.nodes {
		v.nodeIDs = append(v.nodeIDs, id)
	}
	sortNodeIDs(v.nodeIDs)
	return v, nil
}

var _ Backend = (*BadgerEngine)(nil)
