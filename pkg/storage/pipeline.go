package storage

import (
	"context"
	"sort"

	"github.com/orneryd/graphrouter/pkg/convert"
	"github.com/orneryd/graphrouter/pkg/graph"
	"github.com/orneryd/graphrouter/pkg/query"
	"github.com/orneryd/graphrouter/pkg/search"
)

// graphView is the read-only state a query executes against. The embedded
// engine passes its live maps under the read lock; the Badger engine passes
// a materialized copy. nodeIDs is sorted so scans and pagination are
// deterministic regardless of map iteration order.
type graphView struct {
	nodes     map[graph.NodeID]*graph.Node
	edges     map[graph.EdgeID]*graph.Edge
	adjacency map[graph.NodeID][]adjacencyEntry
	nodeIDs   []graph.NodeID
}

// executeQuery runs the fixed pipeline: path search when path patterns are
// present, otherwise filter → vector rerank → sort → paginate → aggregate.
func executeQuery(ctx context.Context, v *graphView, q *query.Query) ([]query.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(q.PathPatterns) > 0 {
		return executePathQuery(ctx, v, q)
	}

	// Filter scan. Every node is visited and counted.
	var candidates []*graph.Node
	for _, id := range v.nodeIDs {
		n := v.nodes[id]
		if q.MatchesNode(n) {
			candidates = append(candidates, n)
		}
		q.AddNodesScanned(1)
	}

	// Vector rerank. Candidates without a usable embedding are dropped, as
	// are those below the threshold; survivors are ordered by similarity
	// and truncated to k.
	if spec := q.VectorSpec; spec != nil {
		var scored []search.Scored
		for i, n := range candidates {
			vec := convert.ToFloat64Slice(n.Properties[spec.Field])
			sim, ok := search.CosineSimilarity(spec.Vector, vec)
			if !ok {
				continue
			}
			if spec.MinScore != nil && sim < *spec.MinScore {
				continue
			}
			scored = append(scored, search.Scored{Index: i, Score: sim})
		}
		scored = search.TopK(scored, spec.K)
		reranked := make([]*graph.Node, len(scored))
		for i, s := range scored {
			reranked[i] = candidates[s.Index]
		}
		candidates = reranked
	}

	// Sort by the numeric value of the sort key; missing or non-numeric
	// values sort as 0.
	if q.SortKey != "" {
		key := func(n *graph.Node) float64 {
			f, ok := convert.ToFloat64(n.Properties[q.SortKey])
			if !ok {
				return 0
			}
			return f
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if q.SortReverse {
				return key(candidates[i]) > key(candidates[j])
			}
			return key(candidates[i]) < key(candidates[j])
		})
	}

	// Pagination.
	if q.Skip > 0 {
		if q.Skip >= len(candidates) {
			candidates = nil
		} else {
			candidates = candidates[q.Skip:]
		}
	}
	if q.Limit >= 0 && len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}

	if len(q.Aggregations) > 0 && len(candidates) > 0 {
		return []query.Result{{Aggregates: applyAggregations(q.Aggregations, candidates)}}, nil
	}

	results := make([]query.Result, len(candidates))
	for i, n := range candidates {
		results[i] = query.Result{Node: n.Clone()}
	}
	return results, nil
}

// applyAggregations computes the single aggregate row. COUNT is the result
// set size; the numeric aggregates coerce the named property per item,
// skip items where coercion fails, and yield nil over an empty subset.
func applyAggregations(aggs []query.Aggregation, nodes []*graph.Node) map[string]any {
	row := make(map[string]any, len(aggs))
	for _, agg := range aggs {
		if agg.Type == query.AggCount {
			row[agg.Alias] = len(nodes)
			continue
		}
		var vals []float64
		for _, n := range nodes {
			raw, present := n.Properties[agg.Field]
			if !present {
				continue
			}
			if f, ok := convert.ToFloat64(raw); ok {
				vals = append(vals, f)
			}
		}
		if len(vals) == 0 {
			row[agg.Alias] = nil
			continue
		}
		switch agg.Type {
		case query.AggSum:
			row[agg.Alias] = sum(vals)
		case query.AggAvg:
			row[agg.Alias] = sum(vals) / float64(len(vals))
		case query.AggMin:
			m := vals[0]
			for _, f := range vals[1:] {
				if f < m {
					m = f
				}
			}
			row[agg.Alias] = m
		case query.AggMax:
			m := vals[0]
			for _, f := range vals[1:] {
				if f > m {
					m = f
				}
			}
			row[agg.Alias] = m
		}
	}
	return row
}

func sum(vals []float64) float64 {
	var total float64
	for _, f := range vals {
		total += f
	}
	return total
}

// pathStep is one hop of an accumulated DFS path: the node reached and
// the edge that reached it. The first step of every path is the start
// node with no edge.
type pathStep struct {
	node graph.NodeID
	edge graph.EdgeID
}

// executePathQuery runs a depth-bounded DFS for every pattern from every
// node matching the pattern's start label, then converts accepted raw paths
// into Path results, applying relationship filters path-wide: the first
// failing predicate drops the whole path.
func executePathQuery(ctx context.Context, v *graphView, q *query.Query) ([]query.Result, error) {
	var results []query.Result
	for _, pattern := range q.PathPatterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var raw [][]pathStep
		for _, id := range v.nodeIDs {
			if v.nodes[id].Label != pattern.StartLabel {
				continue
			}
			findPaths(v, &pattern, map[graph.NodeID]bool{}, id, nil, 0, &raw)
			q.AddNodesScanned(1)
		}

	pathLoop:
		for _, steps := range raw {
			if len(steps) < 2 {
				continue
			}
			rels := make([]*graph.Edge, 0, len(steps)-1)
			for _, step := range steps[1:] {
				rels = append(rels, v.edges[step.edge].Clone())
			}
			for _, rel := range rels {
				for _, f := range q.RelationshipFilters {
					if !f.MatchEdge(rel) {
						continue pathLoop
					}
				}
			}
			results = append(results, query.Result{Path: &query.Path{
				StartNode:     v.nodes[steps[0].node].Clone(),
				EndNode:       v.nodes[steps[len(steps)-1].node].Clone(),
				Relationships: rels,
			}})
			q.AddEdgesTraversed(len(rels))
		}
	}
	return results, nil
}

// findPaths is the DFS worker. Depth counts edges walked from the start
// node; a pattern MaxDepth of 0 means unbounded. Each recursion gets a
// private copy of the visited set so sibling branches do not interfere.
// A node whose label matches the pattern's end label records the path so
// far (when deep enough) and traversal continues, so longer matches
// through it are still found.
func findPaths(v *graphView, pattern *query.PathPattern, visited map[graph.NodeID]bool, current graph.NodeID, path []pathStep, depth int, out *[][]pathStep) {
	if visited[current] {
		return
	}
	if pattern.MaxDepth > 0 && depth > pattern.MaxDepth {
		return
	}
	visited[current] = true

	if len(path) == 0 {
		path = []pathStep{{node: current}}
	}

	node := v.nodes[current]
	if node.Label == pattern.EndLabel && depth >= pattern.MinDepth && len(path) > 1 {
		recorded := make([]pathStep, len(path))
		copy(recorded, path)
		*out = append(*out, recorded)
	}

	for _, entry := range v.adjacency[current] {
		edge := v.edges[entry.Edge]
		if !containsLabel(pattern.Relationships, edge.Label) {
			continue
		}
		if visited[entry.To] {
			continue
		}
		branchVisited := make(map[graph.NodeID]bool, len(visited))
		for id := range visited {
			branchVisited[id] = true
		}
		extended := make([]pathStep, len(path), len(path)+1)
		copy(extended, path)
		extended = append(extended, pathStep{node: entry.To, edge: entry.Edge})
		findPaths(v, pattern, branchVisited, entry.To, extended, depth+1, out)
	}
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func sortNodeIDs(ids []graph.NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortEdgeIDs(ids []graph.EdgeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortAdjacency(entries []adjacencyEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Edge < entries[j].Edge })
}
