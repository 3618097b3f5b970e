package ontology

import (
	"fmt"
	"strings"
)

// InvalidTypeError is returned when a node or edge label is not declared in
// the ontology. It carries the set of legal alternatives for diagnostics.
type InvalidTypeError struct {
	Entity    string   // "node" or "edge"
	Label     string   // the offending label
	Available []string // declared labels, sorted
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("invalid %s type %q, available types: %s",
		e.Entity, e.Label, strings.Join(e.Available, ", "))
}

// PropertyViolation records one property whose value did not match its
// declared type.
type PropertyViolation struct {
	Name     string
	Expected string // declared type, e.g. "int" or "list of str"
	Actual   string // Go dynamic type of the supplied value
}

func (v PropertyViolation) String() string {
	return fmt.Sprintf("%q (expected %s, got %s)", v.Name, v.Expected, v.Actual)
}

// InvalidPropertyError is returned when supplied properties violate the
// schema of a declared type. The three failure classes are reported as
// aggregates, not just the first hit:
//   - Missing: every required property that is absent or empty
//   - Unknown: a supplied property the schema does not declare
//   - Violations: every property whose value fails its declared type
type InvalidPropertyError struct {
	Entity     string // "node" or "edge"
	Label      string
	Missing    []string
	Unknown    string
	Violations []PropertyViolation
	Required   []string // declared required set, for diagnostics
	Available  []string // declared property names, for diagnostics
}

func (e *InvalidPropertyError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("missing required properties for %s type %q: %s",
			e.Entity, e.Label, strings.Join(e.Missing, ", "))
	case e.Unknown != "":
		return fmt.Sprintf("unknown property %q for %s type %q, available properties: %s",
			e.Unknown, e.Entity, e.Label, strings.Join(e.Available, ", "))
	default:
		details := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			details[i] = v.String()
		}
		return fmt.Sprintf("invalid property types for %s type %q: %s",
			e.Entity, e.Label, strings.Join(details, ", "))
	}
}
