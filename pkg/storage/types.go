package storage

import (
	"context"

	"github.com/orneryd/graphrouter/pkg/graph"
	"github.com/orneryd/graphrouter/pkg/ontology"
	"github.com/orneryd/graphrouter/pkg/query"
)

// ConnectOptions carries backend connection parameters. Each backend reads
// the fields it understands: the embedded engine uses Path, the Badger
// engine uses Dir, the Bolt adapter uses URI plus credentials.
type ConnectOptions struct {
	Path     string
	Dir      string
	URI      string
	Username string
	Password string
}

// Backend is the service-provider interface every concrete graph store
// implements. The orchestration contract (pkg/graphrouter) is the only
// intended caller: it validates input against the ontology, manages the
// cache and the performance monitor, and delegates the primitive operation
// here. Backends therefore implement storage semantics only, with no
// validation and no caching of their own.
//
// Mutating methods must leave the store consistent before returning:
// DeleteNode cascade-deletes incident edges and reports their ids so the
// contract can invalidate per-edge cache entries.
type Backend interface {
	Connect(ctx context.Context, opts ConnectOptions) error
	Disconnect(ctx context.Context) error
	Connected() bool
	SetOntology(o *ontology.Ontology)

	CreateNode(ctx context.Context, label string, properties map[string]any) (graph.NodeID, error)
	GetNode(ctx context.Context, id graph.NodeID) (*graph.Node, error)
	UpdateNode(ctx context.Context, id graph.NodeID, properties map[string]any) error
	DeleteNode(ctx context.Context, id graph.NodeID) ([]graph.EdgeID, error)

	CreateEdge(ctx context.Context, from, to graph.NodeID, label string, properties map[string]any) (graph.EdgeID, error)
	GetEdge(ctx context.Context, id graph.EdgeID) (*graph.Edge, error)
	UpdateEdge(ctx context.Context, id graph.EdgeID, properties map[string]any) error
	DeleteEdge(ctx context.Context, id graph.EdgeID) error

	BatchCreateNodes(ctx context.Context, specs []graph.NodeSpec) ([]graph.NodeID, error)
	BatchCreateEdges(ctx context.Context, specs []graph.EdgeSpec) ([]graph.EdgeID, error)

	Query(ctx context.Context, q *query.Query) ([]query.Result, error)

	AllNodes(ctx context.Context) ([]*graph.Node, error)
	AllEdges(ctx context.Context) ([]*graph.Edge, error)
}

var _ Backend = (*LocalEngine)(nil)
