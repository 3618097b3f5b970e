// Package graph defines the core data model shared by every GraphRouter backend.
//
// The model is a labeled property graph reduced to the parts every backend can
// agree on:
//   - Node: id + single label + property map
//   - Edge: id + directed endpoints + lower-cased label + property map
//
// Design Principles:
//   - Arena + index: nodes and edges live in flat maps keyed by generated ids;
//     edges reference endpoints by id, never by pointer, so cycles carry no
//     ownership burden.
//   - Backends exchange deep copies; a *Node handed to a caller is never the
//     stored instance.
//   - Edge labels are case-normalized to lower case everywhere: storage,
//     validation, and query matching.
//
// Example:
//
//	node := &graph.Node{
//		ID:    graph.NodeID("user-123"),
//		Label: "Person",
//		Properties: map[string]any{
//			"name": "Alice",
//			"age":  30,
//		},
//	}
package graph

import (
	"errors"
	"strings"
)

// Common errors shared across backends.
var (
	// ErrNotFound is returned when a node or edge id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotConnected is returned when an operation is attempted on a
	// database that has not been connected (or was disconnected).
	ErrNotConnected = errors.New("database not connected")
	// ErrInvalidEdge is returned when an edge references a missing endpoint.
	ErrInvalidEdge = errors.New("invalid edge: source or target node does not exist")
	// ErrCorruptSnapshot is returned when a persisted graph file cannot be
	// parsed. It is a connection-class failure: the database never opens.
	ErrCorruptSnapshot = errors.New("corrupt graph snapshot")
)

// NodeID is a strongly-typed unique identifier for graph nodes.
//
// Using a custom type prevents accidentally passing an EdgeID where a NodeID
// is expected and keeps API signatures self-describing.
type NodeID string

// EdgeID is a strongly-typed unique identifier for graph edges.
type EdgeID string

// Node is a graph vertex: an immutable id, an immutable label, and a mutable
// property map. Properties are dynamically typed; the ontology package
// decides which shapes are legal for a given label.
type Node struct {
	ID         NodeID         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// Edge is a directed relationship between two nodes. Label is always stored
// lower-cased; use NormalizeEdgeLabel before comparing.
type Edge struct {
	ID         EdgeID         `json:"id"`
	FromID     NodeID         `json:"from_id"`
	ToID       NodeID         `json:"to_id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// NodeSpec describes one node in a batch create request.
type NodeSpec struct {
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// EdgeSpec describes one edge in a batch create request.
type EdgeSpec struct {
	FromID     NodeID         `json:"from_id"`
	ToID       NodeID         `json:"to_id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// NormalizeEdgeLabel lower-cases an edge label. Every path that stores,
// validates, or matches an edge label goes through this.
func NormalizeEdgeLabel(label string) string {
	return strings.ToLower(label)
}

// Clone returns a deep copy of the node. Nested slices and maps inside
// Properties are copied recursively.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	return &Node{
		ID:         n.ID,
		Label:      n.Label,
		Properties: CloneProperties(n.Properties),
	}
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	return &Edge{
		ID:         e.ID,
		FromID:     e.FromID,
		ToID:       e.ToID,
		Label:      e.Label,
		Properties: CloneProperties(e.Properties),
	}
}

// CloneProperties deep-copies a property map. Scalar values are shared
// (they are immutable); slices and maps are copied recursively.
func CloneProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneProperties(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Snapshot is the persisted file format of the embedded engine: one JSON
// document holding the full node and edge maps. Node and edge ids are the
// map keys, so records do not repeat them.
type Snapshot struct {
	Nodes map[NodeID]NodeRecord `json:"nodes"`
	Edges map[EdgeID]EdgeRecord `json:"edges"`
}

// NodeRecord is the on-disk shape of a node (id lives in the map key).
type NodeRecord struct {
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// EdgeRecord is the on-disk shape of an edge (id lives in the map key).
type EdgeRecord struct {
	FromID     NodeID         `json:"from_id"`
	ToID       NodeID         `json:"to_id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}
