package query

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

// fingerprintForm is the canonical serialization of a query used for cache
// keys. It is a structural hash of the descriptor, not of any textual
// representation, so equivalent queries built in different ways collide and
// distinct queries do not. json.Marshal emits map keys and struct fields in
// a stable order, which keeps the digest deterministic.
type fingerprintForm struct {
	Filters             []Predicate   `json:"filters,omitempty"`
	RelationshipFilters []Predicate   `json:"relationship_filters,omitempty"`
	Aggregations        []Aggregation `json:"aggregations,omitempty"`
	PathPatterns        []PathPattern `json:"path_patterns,omitempty"`
	VectorSpec          *VectorSearch `json:"vector_search,omitempty"`
	SortKey             string        `json:"sort_key,omitempty"`
	SortReverse         bool          `json:"sort_reverse,omitempty"`
	Skip                int           `json:"skip"`
	Limit               int           `json:"limit"`
}

// Fingerprint returns a stable structural digest of the query, suitable as
// a cache key. The second return is false when the query cannot be
// fingerprinted (it carries a Custom predicate); such queries must bypass
// the cache.
func (q *Query) Fingerprint() (string, bool) {
	if !q.hashable {
		return "", false
	}
	form := fingerprintForm{
		Filters:             q.Filters,
		RelationshipFilters: q.RelationshipFilters,
		Aggregations:        q.Aggregations,
		PathPatterns:        q.PathPatterns,
		VectorSpec:          q.VectorSpec,
		SortKey:             q.SortKey,
		SortReverse:         q.SortReverse,
		Skip:                q.Skip,
		Limit:               q.Limit,
	}
	data, err := json.Marshal(form)
	if err != nil {
		return "", false
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}
