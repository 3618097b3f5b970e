// Package ontology implements the schema layer of GraphRouter.
//
// An Ontology is a registry of node and edge type definitions. Each
// definition declares a property schema (name -> type) and a required set.
// Every mutation flowing through the database contract is validated here
// before it reaches a backend, and property values are coerced toward their
// declared types on the way in.
//
// Type declarations are written as plain values, the same shape they take in
// a JSON or YAML schema file:
//
//	ont := ontology.New()
//	ont.AddNodeType("Person", map[string]any{
//		"name":      "str",
//		"age":       "int",
//		"embedding": []any{"float"},
//		"address":   map[string]any{"city": "str", "zip": "str"},
//	}, []string{"name"})
//
// Validation reports violations in aggregate: all missing required
// properties in one error, all type mismatches in one error. An unknown
// property fails immediately since nothing else can be said about it.
package ontology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orneryd/graphrouter/pkg/convert"
	"github.com/orneryd/graphrouter/pkg/graph"
)

// Kind is the tag of a declared property type.
type Kind string

const (
	KindString Kind = "str"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindList   Kind = "list"
	KindDict   Kind = "dict"
)

var kindAliases = map[string]Kind{
	"str":     KindString,
	"string":  KindString,
	"int":     KindInt,
	"integer": KindInt,
	"float":   KindFloat,
	"bool":    KindBool,
	"boolean": KindBool,
	"list":    KindList,
	"dict":    KindDict,
}

// Type is a declared property type: a scalar tag, a list with an optional
// element type, or a dict with an optional nested schema.
type Type struct {
	Kind   Kind
	Elem   *Type            // list element type; nil means untyped list
	Fields map[string]*Type // nested dict schema; nil means untyped dict
}

// ParseType converts a declarative type definition into a *Type.
// Accepted shapes: a type-name string ("str", "integer", ...), a
// single-element slice declaring a typed list, or a map declaring a nested
// dict schema. Unknown type names fall back to str.
func ParseType(def any) *Type {
	switch d := def.(type) {
	case string:
		if k, ok := kindAliases[strings.ToLower(d)]; ok {
			return &Type{Kind: k}
		}
		return &Type{Kind: KindString}
	case []any:
		if len(d) > 0 {
			return &Type{Kind: KindList, Elem: ParseType(d[0])}
		}
		return &Type{Kind: KindList}
	case []string:
		if len(d) > 0 {
			return &Type{Kind: KindList, Elem: ParseType(d[0])}
		}
		return &Type{Kind: KindList}
	case map[string]any:
		fields := make(map[string]*Type, len(d))
		for k, v := range d {
			fields[k] = ParseType(v)
		}
		return &Type{Kind: KindDict, Fields: fields}
	case *Type:
		return d
	default:
		return &Type{Kind: KindString}
	}
}

// String renders the type the way validation errors report it.
func (t *Type) String() string {
	switch t.Kind {
	case KindList:
		if t.Elem != nil {
			return "list of " + t.Elem.String()
		}
		return "list"
	case KindDict:
		return "dict"
	default:
		return string(t.Kind)
	}
}

// declaration returns the serializable declarative form understood by
// ParseType, used by ToMap.
func (t *Type) declaration() any {
	switch t.Kind {
	case KindList:
		if t.Elem != nil {
			return []any{t.Elem.declaration()}
		}
		return "list"
	case KindDict:
		if t.Fields != nil {
			out := make(map[string]any, len(t.Fields))
			for k, v := range t.Fields {
				out[k] = v.declaration()
			}
			return out
		}
		return "dict"
	default:
		return string(t.Kind)
	}
}

// TypeSpec is the schema of one node or edge type.
type TypeSpec struct {
	Properties map[string]*Type
	Required   []string
}

// Ontology is the schema registry for a graph database instance.
// It is not safe for concurrent mutation; register all types before
// handing it to a database.
type Ontology struct {
	nodeTypes map[string]*TypeSpec
	edgeTypes map[string]*TypeSpec
}

// New returns an empty ontology.
func New() *Ontology {
	return &Ontology{
		nodeTypes: make(map[string]*TypeSpec),
		edgeTypes: make(map[string]*TypeSpec),
	}
}

// AddNodeType registers a node type. Property type definitions use the
// declarative shapes accepted by ParseType.
func (o *Ontology) AddNodeType(label string, properties map[string]any, required []string) {
	o.nodeTypes[label] = newSpec(properties, required)
}

// AddEdgeType registers an edge type. The label is normalized to lower case.
func (o *Ontology) AddEdgeType(label string, properties map[string]any, required []string) {
	o.edgeTypes[graph.NormalizeEdgeLabel(label)] = newSpec(properties, required)
}

func newSpec(properties map[string]any, required []string) *TypeSpec {
	props := make(map[string]*Type, len(properties))
	for name, def := range properties {
		props[name] = ParseType(def)
	}
	req := make([]string, len(required))
	copy(req, required)
	return &TypeSpec{Properties: props, Required: req}
}

// NodeType returns the schema for a node label.
func (o *Ontology) NodeType(label string) (*TypeSpec, bool) {
	spec, ok := o.nodeTypes[label]
	return spec, ok
}

// EdgeType returns the schema for an edge label (lower-cased first).
func (o *Ontology) EdgeType(label string) (*TypeSpec, bool) {
	spec, ok := o.edgeTypes[graph.NormalizeEdgeLabel(label)]
	return spec, ok
}

// NodeTypes returns all declared node labels, sorted.
func (o *Ontology) NodeTypes() []string {
	return sortedKeys(o.nodeTypes)
}

// EdgeTypes returns all declared edge labels, sorted.
func (o *Ontology) EdgeTypes() []string {
	return sortedKeys(o.edgeTypes)
}

func sortedKeys(m map[string]*TypeSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateNode checks a node's properties against its declared type.
// Returns nil when valid; *InvalidTypeError for an unknown label;
// *InvalidPropertyError for schema violations.
func (o *Ontology) ValidateNode(label string, properties map[string]any) error {
	spec, ok := o.nodeTypes[label]
	if !ok {
		return &InvalidTypeError{Entity: "node", Label: label, Available: o.NodeTypes()}
	}
	return validate("node", label, spec, properties)
}

// ValidateEdge checks an edge's properties against its declared type.
// The label is lower-cased before lookup.
func (o *Ontology) ValidateEdge(label string, properties map[string]any) error {
	label = graph.NormalizeEdgeLabel(label)
	spec, ok := o.edgeTypes[label]
	if !ok {
		return &InvalidTypeError{Entity: "edge", Label: label, Available: o.EdgeTypes()}
	}
	return validate("edge", label, spec, properties)
}

func validate(entity, label string, spec *TypeSpec, properties map[string]any) error {
	available := make([]string, 0, len(spec.Properties))
	for name := range spec.Properties {
		available = append(available, name)
	}
	sort.Strings(available)

	// Required properties must be present and non-empty.
	var missing []string
	for _, req := range spec.Required {
		v, ok := properties[req]
		if !ok || v == "" {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return &InvalidPropertyError{
			Entity: entity, Label: label,
			Missing:   missing,
			Required:  spec.Required,
			Available: available,
		}
	}

	// Every supplied property must be declared and type-match.
	// Mismatches are batched into one error; an undeclared property fails
	// immediately.
	var violations []PropertyViolation
	for _, name := range sortedPropertyNames(properties) {
		value := properties[name]
		declared, ok := spec.Properties[name]
		if !ok {
			return &InvalidPropertyError{
				Entity: entity, Label: label,
				Unknown:   name,
				Available: available,
			}
		}
		violations = append(violations, checkType(name, declared, value)...)
	}
	if len(violations) > 0 {
		return &InvalidPropertyError{
			Entity: entity, Label: label,
			Violations: violations,
			Available:  available,
		}
	}
	return nil
}

func sortedPropertyNames(props map[string]any) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkType(name string, declared *Type, value any) []PropertyViolation {
	switch declared.Kind {
	case KindList:
		items, ok := asSlice(value)
		if !ok {
			return []PropertyViolation{{Name: name, Expected: declared.String(), Actual: typeName(value)}}
		}
		if declared.Elem == nil {
			return nil
		}
		var out []PropertyViolation
		for _, item := range items {
			if !matchesScalar(declared.Elem, item) {
				out = append(out, PropertyViolation{
					Name: name, Expected: declared.String(), Actual: typeName(item),
				})
			}
		}
		return out
	case KindDict:
		// Presence check only; nested schemas are not validated recursively.
		if _, ok := value.(map[string]any); !ok {
			return []PropertyViolation{{Name: name, Expected: "dict", Actual: typeName(value)}}
		}
		return nil
	default:
		if !matchesScalar(declared, value) {
			return []PropertyViolation{{Name: name, Expected: declared.String(), Actual: typeName(value)}}
		}
		return nil
	}
}

func matchesScalar(t *Type, value any) bool {
	switch t.Kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindInt:
		if _, isBool := value.(bool); isBool {
			return false
		}
		return convert.IsInteger(value)
	case KindFloat:
		return convert.IsFloat(value)
	case KindBool:
		_, ok := value.(bool)
		return ok
	case KindList:
		_, ok := asSlice(value)
		return ok
	case KindDict:
		_, ok := value.(map[string]any)
		return ok
	default:
		return false
	}
}

func asSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []bool:
		out := make([]any, len(v))
		for i, b := range v {
			out[i] = b
		}
		return out, true
	default:
		return nil, false
	}
}

func typeName(value any) string {
	if value == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", value)
}

// MapNodeProperties best-effort coerces property values toward the declared
// schema of a node type. Values that cannot be coerced are kept as-is;
// properties outside the schema pass through untouched. An unknown label
// returns the input unchanged.
func (o *Ontology) MapNodeProperties(label string, properties map[string]any) map[string]any {
	spec, ok := o.nodeTypes[label]
	if !ok {
		return properties
	}
	return mapProperties(spec, properties)
}

// MapEdgeProperties is MapNodeProperties for edge types (label lower-cased).
func (o *Ontology) MapEdgeProperties(label string, properties map[string]any) map[string]any {
	spec, ok := o.edgeTypes[graph.NormalizeEdgeLabel(label)]
	if !ok {
		return properties
	}
	return mapProperties(spec, properties)
}

func mapProperties(spec *TypeSpec, properties map[string]any) map[string]any {
	mapped := make(map[string]any, len(properties))
	for name, value := range properties {
		declared, ok := spec.Properties[name]
		if !ok {
			mapped[name] = value
			continue
		}
		mapped[name] = coerce(declared, value)
	}
	return mapped
}

// coerce converts a value toward its declared type, returning the original
// value whenever the conversion fails.
func coerce(t *Type, value any) any {
	switch t.Kind {
	case KindString:
		switch v := value.(type) {
		case string:
			return v
		case bool:
			return fmt.Sprintf("%t", v)
		case float64, float32, int, int32, int64, uint, uint32, uint64:
			return fmt.Sprintf("%v", v)
		default:
			return value
		}
	case KindInt:
		if _, isBool := value.(bool); isBool {
			return value
		}
		if i, ok := convert.ToInt64(value); ok {
			return i
		}
		return value
	case KindFloat:
		if _, isBool := value.(bool); isBool {
			return value
		}
		if f, ok := convert.ToFloat64(value); ok {
			return f
		}
		return value
	case KindBool:
		switch v := value.(type) {
		case bool:
			return v
		case string:
			if strings.EqualFold(v, "true") {
				return true
			}
			if strings.EqualFold(v, "false") {
				return false
			}
			return value
		default:
			return value
		}
	default:
		// Lists and dicts are kept as supplied.
		return value
	}
}

// ToMap serializes the ontology to the declarative map form accepted by
// FromMap, suitable for JSON or YAML persistence.
func (o *Ontology) ToMap() map[string]any {
	return map[string]any{
		"node_types": specsToMap(o.nodeTypes),
		"edge_types": specsToMap(o.edgeTypes),
	}
}

func specsToMap(specs map[string]*TypeSpec) map[string]any {
	out := make(map[string]any, len(specs))
	for label, spec := range specs {
		props := make(map[string]any, len(spec.Properties))
		for name, t := range spec.Properties {
			props[name] = t.declaration()
		}
		out[label] = map[string]any{
			"properties": props,
			"required":   append([]string(nil), spec.Required...),
		}
	}
	return out
}

// FromMap rebuilds an ontology from its declarative map form. Edge type
// labels are lower-cased on the way in.
func FromMap(data map[string]any) *Ontology {
	o := New()
	if nodeTypes, ok := data["node_types"].(map[string]any); ok {
		for label, raw := range nodeTypes {
			props, required := splitSpec(raw)
			o.AddNodeType(label, props, required)
		}
	}
	if edgeTypes, ok := data["edge_types"].(map[string]any); ok {
		for label, raw := range edgeTypes {
			props, required := splitSpec(raw)
			o.AddEdgeType(label, props, required)
		}
	}
	return o
}

func splitSpec(raw any) (map[string]any, []string) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, nil
	}
	props, _ := spec["properties"].(map[string]any)
	var required []string
	switch req := spec["required"].(type) {
	case []string:
		required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}
	return props, required
}

// Format returns a human-readable summary of an ontology for diagnostics
// and CLI output.
func Format(o *Ontology) string {
	var b strings.Builder
	b.WriteString("Ontology Summary:\n")
	b.WriteString("Node Types:\n")
	writeSpecs(&b, o.nodeTypes)
	b.WriteString("Edge Types:\n")
	writeSpecs(&b, o.edgeTypes)
	return strings.TrimRight(b.String(), "\n")
}

func writeSpecs(b *strings.Builder, specs map[string]*TypeSpec) {
	labels := sortedKeys(specs)
	for _, label := range labels {
		spec := specs[label]
		names := make([]string, 0, len(spec.Properties))
		for name := range spec.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s (%s)", name, spec.Properties[name])
		}
		fmt.Fprintf(b, "  - %s: properties = {%s}, required = %v\n",
			label, strings.Join(parts, ", "), spec.Required)
	}
}
