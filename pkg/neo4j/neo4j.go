// Package neo4j adapts a remote Neo4j (or Bolt-compatible) server to the
// GraphRouter backend interface.
//
// The adapter assigns its own ids: every node and relationship carries a
// generated uuid in the `_id` property, so ids stay stable across export
// and re-import and never depend on the server's internal numbering. The
// query translation lives in cypher.go; queries it cannot express are
// rejected with ErrUntranslatable rather than half-executed.
//
// Transient connectivity failures get one retry after a reconnect. That is
// the adapter's policy, not the contract's: the embedded engines never
// retry.
package neo4j

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/orneryd/graphrouter/pkg/graph"
	"github.com/orneryd/graphrouter/pkg/ontology"
	"github.com/orneryd/graphrouter/pkg/query"
	"github.com/orneryd/graphrouter/pkg/storage"
)

// idProp is the property carrying the adapter-assigned id on every node
// and relationship.
const idProp = "_id"

// Engine is the Bolt-backed storage.Backend implementation.
type Engine struct {
	mu       sync.RWMutex
	driver   neo4j.DriverWithContext
	uri      string
	username string
	password string
	database string
	ontology *ontology.Ontology
}

// NewEngine returns a disconnected adapter for the given database name.
// An empty database selects the server default.
func NewEngine(database string) *Engine {
	return &Engine{database: database}
}

// Connect dials the server and verifies connectivity.
func (e *Engine) Connect(ctx context.Context, opts storage.ConnectOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.driver != nil {
		return nil
	}
	e.uri = opts.URI
	e.username = opts.Username
	e.password = opts.Password
	return e.dialLocked(ctx)
}

func (e *Engine) dialLocked(ctx context.Context) error {
	driver, err := neo4j.NewDriverWithContext(e.uri, neo4j.BasicAuth(e.username, e.password, ""))
	if err != nil {
		return fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return fmt.Errorf("connect to neo4j at %s: %w", e.uri, err)
	}
	e.driver = driver
	return nil
}

// Disconnect closes the driver.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.driver == nil {
		return nil
	}
	err := e.driver.Close(ctx)
	e.driver = nil
	return err
}

// Connected reports whether the driver is open.
func (e *Engine) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.driver != nil
}

// SetOntology attaches the schema. Validation happens at the contract
// layer; the adapter keeps the schema for inspection tooling.
func (e *Engine) SetOntology(o *ontology.Ontology) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ontology = o
}

type txWork func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error)

// run executes work in a managed session, retrying exactly once after a
// reconnect when the failure looks like lost connectivity.
func (e *Engine) run(ctx context.Context, write bool, work txWork) (any, error) {
	e.mu.RLock()
	driver := e.driver
	e.mu.RUnlock()
	if driver == nil {
		return nil, graph.ErrNotConnected
	}

	out, err := e.runOnce(ctx, driver, write, work)
	if err == nil || !neo4j.IsConnectivityError(err) {
		return out, err
	}

	e.mu.Lock()
	if e.driver != nil {
		e.driver.Close(ctx)
		e.driver = nil
	}
	if dialErr := e.dialLocked(ctx); dialErr != nil {
		e.mu.Unlock()
		return nil, dialErr
	}
	driver = e.driver
	e.mu.Unlock()

	return e.runOnce(ctx, driver, write, work)
}

func (e *Engine) runOnce(ctx context.Context, driver neo4j.DriverWithContext, write bool, work txWork) (any, error) {
	session := driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: e.database})
	defer session.Close(ctx)

	wrapped := func(tx neo4j.ManagedTransaction) (any, error) {
		return work(ctx, tx)
	}
	if write {
		return session.ExecuteWrite(ctx, wrapped)
	}
	return session.ExecuteRead(ctx, wrapped)
}

// CreateNode creates a node carrying a fresh adapter-assigned id.
func (e *Engine) CreateNode(ctx context.Context, label string, properties map[string]any) (graph.NodeID, error) {
	id := graph.NodeID(uuid.NewString())
	props := withID(properties, string(id))
	stmt := fmt.Sprintf("CREATE (n:%s) SET n = $props", escapeIdent(label))
	_, err := e.run(ctx, true, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, stmt, map[string]any{"props": props})
		return nil, err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetNode loads a node by its adapter-assigned id.
func (e *Engine) GetNode(ctx context.Context, id graph.NodeID) (*graph.Node, error) {
	out, err := e.run(ctx, false, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH (n {`_id`: $id}) RETURN labels(n) AS labels, properties(n) AS props",
			map[string]any{"id": string(id)})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, graph.ErrNotFound
		}
		return recordToNode(id, record)
	})
	if err != nil {
		return nil, err
	}
	return out.(*graph.Node), nil
}

// UpdateNode merges properties into the stored node.
func (e *Engine) UpdateNode(ctx context.Context, id graph.NodeID, properties map[string]any) error {
	_, err := e.run(ctx, true, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH (n {`_id`: $id}) SET n += $props RETURN count(n) AS updated",
			map[string]any{"id": string(id), "props": properties})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		if updated, _ := record.Get("updated"); asInt(updated) == 0 {
			return nil, graph.ErrNotFound
		}
		return nil, nil
	})
	return err
}

// DeleteNode detach-deletes the node and returns the ids of the removed
// relationships.
func (e *Engine) DeleteNode(ctx context.Context, id graph.NodeID) ([]graph.EdgeID, error) {
	out, err := e.run(ctx, true, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH (n {`_id`: $id}) OPTIONAL MATCH (n)-[r]-() "+
				"WITH n, collect(r.`_id`) AS rels DETACH DELETE n RETURN rels",
			map[string]any{"id": string(id)})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, graph.ErrNotFound
		}
		raw, _ := record.Get("rels")
		list, _ := raw.([]any)
		removed := make([]graph.EdgeID, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				removed = append(removed, graph.EdgeID(s))
			}
		}
		return removed, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]graph.EdgeID), nil
}

// CreateEdge creates a relationship between two existing nodes. The
// relationship type is the lower-cased label, matching the rest of the
// system.
func (e *Engine) CreateEdge(ctx context.Context, from, to graph.NodeID, label string, properties map[string]any) (graph.EdgeID, error) {
	id := graph.EdgeID(uuid.NewString())
	props := withID(properties, string(id))
	stmt := fmt.Sprintf(
		"MATCH (a {`_id`: $from}), (b {`_id`: $to}) "+
			"CREATE (a)-[r:%s]->(b) SET r = $props RETURN r.`_id` AS id",
		escapeIdent(graph.NormalizeEdgeLabel(label)))
	_, err := e.run(ctx, true, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, stmt, map[string]any{
			"from": string(from), "to": string(to), "props": props,
		})
		if err != nil {
			return nil, err
		}
		if _, err := result.Single(ctx); err != nil {
			return nil, graph.ErrInvalidEdge
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetEdge loads a relationship by its adapter-assigned id.
func (e *Engine) GetEdge(ctx context.Context, id graph.EdgeID) (*graph.Edge, error) {
	out, err := e.run(ctx, false, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH (a)-[r {`_id`: $id}]->(b) "+
				"RETURN type(r) AS label, properties(r) AS props, a.`_id` AS from, b.`_id` AS to",
			map[string]any{"id": string(id)})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, graph.ErrNotFound
		}
		return recordToEdge(id, record)
	})
	if err != nil {
		return nil, err
	}
	return out.(*graph.Edge), nil
}

// UpdateEdge merges properties into the stored relationship.
func (e *Engine) UpdateEdge(ctx context.Context, id graph.EdgeID, properties map[string]any) error {
	_, err := e.run(ctx, true, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH ()-[r {`_id`: $id}]->() SET r += $props RETURN count(r) AS updated",
			map[string]any{"id": string(id), "props": properties})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		if updated, _ := record.Get("updated"); asInt(updated) == 0 {
			return nil, graph.ErrNotFound
		}
		return nil, nil
	})
	return err
}

// DeleteEdge removes the relationship.
func (e *Engine) DeleteEdge(ctx context.Context, id graph.EdgeID) error {
	_, err := e.run(ctx, true, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH ()-[r {`_id`: $id}]->() WITH r, 1 AS found DELETE r RETURN found",
			map[string]any{"id": string(id)})
		if err != nil {
			return nil, err
		}
		if _, err := result.Single(ctx); err != nil {
			return nil, graph.ErrNotFound
		}
		return nil, nil
	})
	return err
}

// BatchCreateNodes creates every spec inside one managed transaction, so a
// failure commits nothing.
func (e *Engine) BatchCreateNodes(ctx context.Context, specs []graph.NodeSpec) ([]graph.NodeID, error) {
	ids := make([]graph.NodeID, len(specs))
	_, err := e.run(ctx, true, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		for i, spec := range specs {
			id := graph.NodeID(uuid.NewString())
			stmt := fmt.Sprintf("CREATE (n:%s) SET n = $props", escapeIdent(spec.Label))
			if _, err := tx.Run(ctx, stmt, map[string]any{
				"props": withID(spec.Properties, string(id)),
			}); err != nil {
				return nil, fmt.Errorf("node %d: %w", i, err)
			}
			ids[i] = id
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// BatchCreateEdges creates every spec inside one managed transaction. A
// spec whose endpoints do not exist fails the whole batch.
func (e *Engine) BatchCreateEdges(ctx context.Context, specs []graph.EdgeSpec) ([]graph.EdgeID, error) {
	ids := make([]graph.EdgeID, len(specs))
	_, err := e.run(ctx, true, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		for i, spec := range specs {
			id := graph.EdgeID(uuid.NewString())
			stmt := fmt.Sprintf(
				"MATCH (a {`_id`: $from}), (b {`_id`: $to}) "+
					"CREATE (a)-[r:%s]->(b) SET r = $props RETURN r.`_id` AS id",
				escapeIdent(graph.NormalizeEdgeLabel(spec.Label)))
			result, err := tx.Run(ctx, stmt, map[string]any{
				"from":  string(spec.FromID),
				"to":    string(spec.ToID),
				"props": withID(spec.Properties, string(id)),
			})
			if err != nil {
				return nil, fmt.Errorf("edge %d: %w", i, err)
			}
			if _, err := result.Single(ctx); err != nil {
				return nil, fmt.Errorf("edge %d: %w", i, graph.ErrInvalidEdge)
			}
			ids[i] = id
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Query compiles the descriptor to Cypher and executes it server-side.
func (e *Engine) Query(ctx context.Context, q *query.Query) ([]query.Result, error) {
	stmt, params, err := BuildCypher(q)
	if err != nil {
		return nil, err
	}
	out, err := e.run(ctx, false, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, stmt, params)
		if err != nil {
			return nil, err
		}
		var results []query.Result
		for result.Next(ctx) {
			raw, ok := result.Record().Get("n")
			if !ok {
				continue
			}
			dbNode, ok := raw.(neo4j.Node)
			if !ok {
				continue
			}
			results = append(results, query.Result{Node: boltNode(dbNode)})
			q.AddNodesScanned(1)
		}
		return results, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]query.Result), nil
}

// AllNodes loads every node carrying an adapter-assigned id.
func (e *Engine) AllNodes(ctx context.Context) ([]*graph.Node, error) {
	out, err := e.run(ctx, false, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH (n) WHERE n.`_id` IS NOT NULL RETURN n ORDER BY n.`_id`", nil)
		if err != nil {
			return nil, err
		}
		var nodes []*graph.Node
		for result.Next(ctx) {
			if raw, ok := result.Record().Get("n"); ok {
				if dbNode, ok := raw.(neo4j.Node); ok {
					nodes = append(nodes, boltNode(dbNode))
				}
			}
		}
		return nodes, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]*graph.Node), nil
}

// AllEdges loads every relationship carrying an adapter-assigned id.
func (e *Engine) AllEdges(ctx context.Context) ([]*graph.Edge, error) {
	out, err := e.run(ctx, false, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH (a)-[r]->(b) WHERE r.`_id` IS NOT NULL "+
				"RETURN r.`_id` AS id, type(r) AS label, properties(r) AS props, "+
				"a.`_id` AS from, b.`_id` AS to ORDER BY r.`_id`", nil)
		if err != nil {
			return nil, err
		}
		var edges []*graph.Edge
		for result.Next(ctx) {
			record := result.Record()
			rawID, _ := record.Get("id")
			id, ok := rawID.(string)
			if !ok {
				continue
			}
			edge, err := recordToEdge(graph.EdgeID(id), record)
			if err != nil {
				return nil, err
			}
			edges = append(edges, edge)
		}
		return edges, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]*graph.Edge), nil
}

func withID(properties map[string]any, id string) map[string]any {
	props := make(map[string]any, len(properties)+1)
	for k, v := range properties {
		props[k] = v
	}
	props[idProp] = id
	return props
}

func stripID(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if k == idProp {
			continue
		}
		out[k] = v
	}
	return out
}

func boltNode(n neo4j.Node) *graph.Node {
	id, _ := n.Props[idProp].(string)
	label := ""
	if len(n.Labels) > 0 {
		label = n.Labels[0]
	}
	return &graph.Node{
		ID:         graph.NodeID(id),
		Label:      label,
		Properties: stripID(n.Props),
	}
}

func recordToNode(id graph.NodeID, record *neo4j.Record) (*graph.Node, error) {
	rawLabels, _ := record.Get("labels")
	labels, _ := rawLabels.([]any)
	label := ""
	if len(labels) > 0 {
		label, _ = labels[0].(string)
	}
	rawProps, _ := record.Get("props")
	props, _ := rawProps.(map[string]any)
	return &graph.Node{ID: id, Label: label, Properties: stripID(props)}, nil
}

func recordToEdge(id graph.EdgeID, record *neo4j.Record) (*graph.Edge, error) {
	rawLabel, _ := record.Get("label")
	label, _ := rawLabel.(string)
	rawProps, _ := record.Get("props")
	props, _ := rawProps.(map[string]any)
	rawFrom, _ := record.Get("from")
	from, _ := rawFrom.(string)
	rawTo, _ := record.Get("to")
	to, _ := rawTo.(string)
	return &graph.Edge{
		ID:         id,
		FromID:     graph.NodeID(from),
		ToID:       graph.NodeID(to),
		Label:      graph.NormalizeEdgeLabel(label),
		Properties: stripID(props),
	}, nil
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

var _ storage.Backend = (*Engine)(nil)
