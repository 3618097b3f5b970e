// Package query defines the declarative read model of GraphRouter.
//
// A Query describes what to fetch (filters, relationship filters,
// aggregations, path patterns, an optional vector-similarity spec, and
// sort/skip/limit) without saying how. Each backend translates the
// descriptor into its own execution strategy: the embedded engine runs the
// fixed pipeline in pkg/storage, the Bolt adapter compiles it to Cypher.
//
// Queries are built fluently and are immutable once handed to a database:
//
//	q := query.New().
//		Filter(query.LabelEquals("Person")).
//		Sort("age", false).
//		Paginate(2, 10)
//	results, err := db.Query(ctx, q)
//
// After execution the query carries read-only statistics (nodes scanned,
// edges traversed, execution time, memory used) via CollectStats.
package query

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/orneryd/graphrouter/pkg/convert"
	"github.com/orneryd/graphrouter/pkg/graph"
)

// PredicateOp identifies the structural kind of a predicate. Structural
// predicates are plain data, so backends can translate them into a native
// query language and the cache can fingerprint them.
type PredicateOp string

const (
	OpLabelEquals        PredicateOp = "label_equals"
	OpPropertyEquals     PredicateOp = "property_equals"
	OpPropertyContains   PredicateOp = "property_contains"
	OpRelationshipExists PredicateOp = "relationship_exists"
	OpCustom             PredicateOp = "custom"
)

// Predicate is one filter condition. The structural constructors below cover
// everything the backends can translate; Custom wraps an arbitrary function
// for in-process filtering only.
type Predicate struct {
	Op    PredicateOp `json:"op"`
	Key   string      `json:"key,omitempty"`
	Value any         `json:"value,omitempty"`

	fn func(*graph.Node) bool
}

// LabelEquals matches nodes whose label equals l.
func LabelEquals(l string) Predicate {
	return Predicate{Op: OpLabelEquals, Value: l}
}

// PropertyEquals matches nodes whose property k equals v. Numeric values
// compare by magnitude, so int 30 equals float 30.0.
func PropertyEquals(k string, v any) Predicate {
	return Predicate{Op: OpPropertyEquals, Key: k, Value: v}
}

// PropertyContains matches nodes whose string-typed property k contains the
// given substring. Non-string property values never match.
func PropertyContains(k, substring string) Predicate {
	return Predicate{Op: OpPropertyContains, Key: k, Value: substring}
}

// RelationshipExists matches an edge labeled relLabel touching otherID on
// either end. It is meaningful as a relationship filter; as a node filter it
// matches nothing, since a bare node carries no edge context.
func RelationshipExists(otherID graph.NodeID, relLabel string) Predicate {
	return Predicate{Op: OpRelationshipExists, Key: graph.NormalizeEdgeLabel(relLabel), Value: string(otherID)}
}

// Custom wraps an arbitrary node predicate. A query carrying a custom
// predicate cannot be fingerprinted and bypasses the query cache.
func Custom(fn func(*graph.Node) bool) Predicate {
	return Predicate{Op: OpCustom, fn: fn}
}

// MatchNode evaluates the predicate against a node.
func (p Predicate) MatchNode(n *graph.Node) bool {
	switch p.Op {
	case OpLabelEquals:
		return n.Label == p.Value
	case OpPropertyEquals:
		v, ok := n.Properties[p.Key]
		if !ok {
			return false
		}
		return valuesEqual(v, p.Value)
	case OpPropertyContains:
		v, ok := n.Properties[p.Key].(string)
		if !ok {
			return false
		}
		sub, ok := p.Value.(string)
		return ok && strings.Contains(v, sub)
	case OpCustom:
		return p.fn != nil && p.fn(n)
	default:
		return false
	}
}

// MatchEdge evaluates the predicate against an edge. Only
// RelationshipExists and property predicates apply to edges.
func (p Predicate) MatchEdge(e *graph.Edge) bool {
	switch p.Op {
	case OpRelationshipExists:
		other, _ := p.Value.(string)
		return e.Label == p.Key &&
			(string(e.FromID) == other || string(e.ToID) == other)
	case OpPropertyEquals:
		v, ok := e.Properties[p.Key]
		if !ok {
			return false
		}
		return valuesEqual(v, p.Value)
	case OpPropertyContains:
		v, ok := e.Properties[p.Key].(string)
		if !ok {
			return false
		}
		sub, ok := p.Value.(string)
		return ok && strings.Contains(v, sub)
	case OpLabelEquals:
		label, _ := p.Value.(string)
		return e.Label == graph.NormalizeEdgeLabel(label)
	default:
		return false
	}
}

// valuesEqual compares dynamically typed property values. Numbers compare
// by magnitude (int 30 equals float 30.0); strings and bools only equal
// their own kind; everything else falls back to deep equality.
func valuesEqual(a, b any) bool {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	if _, ok := b.(string); ok {
		return false
	}
	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool || bIsBool {
		return aIsBool && bIsBool && ab == bb
	}
	if af, ok := convert.ToFloat64(a); ok {
		if bf, ok := convert.ToFloat64(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// AggregationType enumerates the supported aggregate functions.
type AggregationType string

const (
	AggCount AggregationType = "count"
	AggSum   AggregationType = "sum"
	AggAvg   AggregationType = "avg"
	AggMin   AggregationType = "min"
	AggMax   AggregationType = "max"
)

// Aggregation asks for one aggregate over the result set. Field is ignored
// for count. The output key in the aggregate row is Alias.
type Aggregation struct {
	Type  AggregationType `json:"type"`
	Field string          `json:"field,omitempty"`
	Alias string          `json:"alias"`
}

// NewAggregation builds an aggregation, defaulting the alias to
// "<type>_<field>" (or "<type>_result" when no field applies).
func NewAggregation(t AggregationType, field, alias string) Aggregation {
	if alias == "" {
		if field != "" {
			alias = fmt.Sprintf("%s_%s", t, field)
		} else {
			alias = fmt.Sprintf("%s_result", t)
		}
	}
	return Aggregation{Type: t, Field: field, Alias: alias}
}

// PathPattern describes one bounded-depth path search. Relationships is the
// set of edge labels the traversal may follow (lower-cased). MaxDepth 0
// means unbounded.
type PathPattern struct {
	StartLabel    string   `json:"start_label"`
	EndLabel      string   `json:"end_label"`
	Relationships []string `json:"relationships"`
	MinDepth      int      `json:"min_depth"`
	MaxDepth      int      `json:"max_depth"`
}

// VectorSearch asks for cosine-similarity reranking over the named
// embedding field. MinScore nil means no threshold.
type VectorSearch struct {
	Field    string    `json:"field"`
	Vector   []float64 `json:"vector"`
	K        int       `json:"k"`
	MinScore *float64  `json:"min_score,omitempty"`
}

// Stats are the read-only execution counters populated by the backend.
type Stats struct {
	NodesScanned   int           `json:"nodes_scanned"`
	EdgesTraversed int           `json:"edges_traversed"`
	ExecutionTime  time.Duration `json:"execution_time"`
	MemoryUsed     float64       `json:"memory_used"`
}

// Query is the declarative read descriptor. Build it with the fluent
// methods, then hand it to a database; execution populates Stats.
type Query struct {
	Filters             []Predicate
	RelationshipFilters []Predicate
	Aggregations        []Aggregation
	PathPatterns        []PathPattern
	VectorSpec          *VectorSearch

	SortKey     string
	SortReverse bool
	Skip        int // -1 = unset
	Limit       int // -1 = unset

	stats    Stats
	hashable bool
}

// New returns an empty query.
func New() *Query {
	return &Query{Skip: -1, Limit: -1, hashable: true}
}

// Filter appends a node filter predicate.
func (q *Query) Filter(p Predicate) *Query {
	if p.Op == OpCustom {
		q.hashable = false
	}
	q.Filters = append(q.Filters, p)
	return q
}

// FilterRelationship appends a relationship filter applied to every
// relationship of each candidate path; the first failing predicate drops
// the whole path.
func (q *Query) FilterRelationship(p Predicate) *Query {
	if p.Op == OpCustom {
		q.hashable = false
	}
	q.RelationshipFilters = append(q.RelationshipFilters, p)
	return q
}

// Aggregate appends an aggregation with an optional alias.
func (q *Query) Aggregate(t AggregationType, field, alias string) *Query {
	q.Aggregations = append(q.Aggregations, NewAggregation(t, field, alias))
	return q
}

// FindPath appends a path pattern with the default depth bounds (1..2).
func (q *Query) FindPath(startLabel, endLabel string, relationships []string) *Query {
	return q.FindPathDepth(startLabel, endLabel, relationships, 1, 2)
}

// FindPathDepth appends a path pattern with explicit depth bounds.
// maxDepth 0 means unbounded.
func (q *Query) FindPathDepth(startLabel, endLabel string, relationships []string, minDepth, maxDepth int) *Query {
	rels := make([]string, len(relationships))
	for i, r := range relationships {
		rels[i] = graph.NormalizeEdgeLabel(r)
	}
	q.PathPatterns = append(q.PathPatterns, PathPattern{
		StartLabel:    startLabel,
		EndLabel:      endLabel,
		Relationships: rels,
		MinDepth:      minDepth,
		MaxDepth:      maxDepth,
	})
	return q
}

// VectorNearest requests the k nodes whose embedding in field is most
// cosine-similar to vector. Combine with MinScore for a threshold.
func (q *Query) VectorNearest(field string, vector []float64, k int) *Query {
	vec := make([]float64, len(vector))
	copy(vec, vector)
	q.VectorSpec = &VectorSearch{Field: field, Vector: vec, K: k}
	return q
}

// MinScore sets the similarity threshold of a previously requested vector
// search. A no-op without VectorNearest.
func (q *Query) MinScore(score float64) *Query {
	if q.VectorSpec != nil {
		q.VectorSpec.MinScore = &score
	}
	return q
}

// Sort orders results by the numeric value of a property. Values that are
// missing or non-numeric sort as 0.
func (q *Query) Sort(key string, reverse bool) *Query {
	q.SortKey = key
	q.SortReverse = reverse
	return q
}

// Paginate sets skip/limit from a 1-indexed page number and a page size.
func (q *Query) Paginate(page, pageSize int) *Query {
	q.Skip = (page - 1) * pageSize
	q.Limit = pageSize
	return q
}

// LimitResults caps the result set without paging.
func (q *Query) LimitResults(limit int) *Query {
	q.Limit = limit
	return q
}

// MatchesNode reports whether a node satisfies every filter predicate.
func (q *Query) MatchesNode(n *graph.Node) bool {
	for _, p := range q.Filters {
		if !p.MatchNode(n) {
			return false
		}
	}
	return true
}

// CollectStats returns the execution counters populated by the last run.
func (q *Query) CollectStats() Stats {
	return q.stats
}

// AddNodesScanned increments the scanned-node counter. Backend use only.
func (q *Query) AddNodesScanned(n int) { q.stats.NodesScanned += n }

// AddEdgesTraversed increments the traversed-edge counter. Backend use only.
func (q *Query) AddEdgesTraversed(n int) { q.stats.EdgesTraversed += n }

// SetExecutionTime stamps the wall-clock duration of the last execution.
func (q *Query) SetExecutionTime(d time.Duration) { q.stats.ExecutionTime = d }

// SetMemoryUsed stamps the serialized-result byte length, the contract's
// memory proxy.
func (q *Query) SetMemoryUsed(bytes float64) { q.stats.MemoryUsed = bytes }

// Path is one matched path: its endpoints plus the ordered relationships
// walked between them.
type Path struct {
	StartNode     *graph.Node   `json:"start_node"`
	EndNode       *graph.Node   `json:"end_node"`
	Relationships []*graph.Edge `json:"relationships"`
}

// Clone returns a deep copy of the path.
func (p *Path) Clone() *Path {
	if p == nil {
		return nil
	}
	cloned := &Path{StartNode: p.StartNode.Clone(), EndNode: p.EndNode.Clone()}
	if p.Relationships != nil {
		cloned.Relationships = make([]*graph.Edge, len(p.Relationships))
		for i, e := range p.Relationships {
			cloned.Relationships[i] = e.Clone()
		}
	}
	return cloned
}

// Result is one row of a query result set. Exactly one field is set:
// Node for plain node queries, Path for path-pattern queries, and
// Aggregates for the single aggregate row.
type Result struct {
	Node       *graph.Node    `json:"node,omitempty"`
	Path       *Path          `json:"path,omitempty"`
	Aggregates map[string]any `json:"aggregates,omitempty"`
}

// Clone returns a deep copy of the result row.
func (r Result) Clone() Result {
	return Result{
		Node:       r.Node.Clone(),
		Path:       r.Path.Clone(),
		Aggregates: graph.CloneProperties(r.Aggregates),
	}
}

// CloneResults deep-copies a result set. Databases cache result sets and
// must never share row contents with callers.
func CloneResults(results []Result) []Result {
	if results == nil {
		return nil
	}
	cloned := make([]Result, len(results))
	for i, r := range results {
		cloned[i] = r.Clone()
	}
	return cloned
}
