package neo4j

import (
	"errors"
	"fmt"
	"strings"

	"github.com/orneryd/graphrouter/pkg/query"
)

// ErrUntranslatable is returned when a query carries a construct the Cypher
// translation cannot express: custom predicates, path patterns, or
// aggregations. Such queries belong on the embedded engine.
var ErrUntranslatable = errors.New("query cannot be translated to cypher")

// BuildCypher compiles a declarative query into a parameterized Cypher
// statement. Values travel as parameters; only identifiers (labels,
// property names) are interpolated, escaped with backticks.
//
// Shape: MATCH (n) [vector WITH/ORDER/LIMIT] [WHERE ...] [ORDER BY ...]
// [SKIP ...] [LIMIT ...] RETURN n.
func BuildCypher(q *query.Query) (string, map[string]any, error) {
	if len(q.PathPatterns) > 0 || len(q.Aggregations) > 0 {
		return "", nil, ErrUntranslatable
	}

	parts := []string{"MATCH (n)"}
	var wheres []string
	params := make(map[string]any)

	if spec := q.VectorSpec; spec != nil {
		params["qvec"] = spec.Vector
		parts = append(parts, fmt.Sprintf(
			"WITH n, vector.similarity.cosine(n.%s, $qvec) AS similarity",
			escapeIdent(spec.Field)))
		if spec.MinScore != nil {
			params["min_score"] = *spec.MinScore
			wheres = append(wheres, "similarity >= $min_score")
		}
		parts = append(parts, "ORDER BY similarity DESC")
		if spec.K > 0 {
			parts = append(parts, fmt.Sprintf("LIMIT %d", spec.K))
		}
	}

	for i, f := range q.Filters {
		param := fmt.Sprintf("p%d", i)
		switch f.Op {
		case query.OpLabelEquals:
			label, _ := f.Value.(string)
			wheres = append(wheres, "n:"+escapeIdent(label))
		case query.OpPropertyEquals:
			params[param] = f.Value
			wheres = append(wheres, fmt.Sprintf("n.%s = $%s", escapeIdent(f.Key), param))
		case query.OpPropertyContains:
			params[param] = f.Value
			wheres = append(wheres, fmt.Sprintf("n.%s CONTAINS $%s", escapeIdent(f.Key), param))
		case query.OpRelationshipExists:
			params[param] = f.Value
			wheres = append(wheres, fmt.Sprintf(
				"EXISTS { MATCH (n)-[:%s]-(m) WHERE m.`_id` = $%s }",
				escapeIdent(f.Key), param))
		default:
			return "", nil, fmt.Errorf("%w: predicate %q", ErrUntranslatable, f.Op)
		}
	}
	if len(wheres) > 0 {
		parts = append(parts, "WHERE "+strings.Join(wheres, " AND "))
	}

	if q.SortKey != "" {
		dir := "ASC"
		if q.SortReverse {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("ORDER BY n.%s %s", escapeIdent(q.SortKey), dir))
	}
	if q.Skip > 0 {
		parts = append(parts, fmt.Sprintf("SKIP %d", q.Skip))
	}
	if q.Limit >= 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", q.Limit))
	}

	parts = append(parts, "RETURN n")
	return strings.Join(parts, " "), params, nil
}

// escapeIdent quotes an identifier for safe interpolation into Cypher.
func escapeIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
