// Package svc implements the dependency-driven service lifecycle engine:
// a registry of named value providers and consumers, a per-service
// controller state machine, and a container that owns the worker pool,
// install/shutdown orchestration, and install-time cycle detection.
//
// The registry, controller, and container are deliberately one package:
// a registration references the controllers that depend on it and a
// controller references the registrations it requires and provides, so
// the object graph is cyclic by nature (see the design notes in
// DESIGN.md). Modeling that split across packages would force one side
// of the cycle to go through interfaces for no benefit; Go forbids
// import cycles between packages but not between types in one package.
package svc

import "strings"

// Name identifies a registration slot: an ordered sequence of path
// segments with a canonical dotted string form. Two Names are equal iff
// their segment sequences are equal.
type Name struct {
	segments []string
}

// NewName builds a Name from one or more path segments.
func NewName(segments ...string) Name {
	cp := make([]string, len(segments))
	copy(cp, segments)
	return Name{segments: cp}
}

// ParseName builds a Name from its canonical dotted string form,
// reversing the percent-escaping String applies so a "." or "%"
// embedded in a single segment is recovered rather than mistaken for a
// segment boundary.
func ParseName(canonical string) Name {
	if canonical == "" {
		return Name{}
	}
	parts := strings.Split(canonical, ".")
	segments := make([]string, len(parts))
	for i, p := range parts {
		segments[i] = unescapeSegment(p)
	}
	return Name{segments: segments}
}

// String returns the canonical dotted form, used as the registry's map
// key (Names are not directly comparable because a slice field makes
// the struct non-comparable; callers that need equality or map-key
// semantics use String()). Each segment is percent-escaped before
// joining so a literal "." inside one segment can never be confused
// with the separator between segments — without this, NewName("a",
// "b") and NewName("a.b") would both canonicalize to "a.b" and
// wrongly alias onto the same registration.
func (n Name) String() string {
	escaped := make([]string, len(n.segments))
	for i, s := range n.segments {
		escaped[i] = escapeSegment(s)
	}
	return strings.Join(escaped, ".")
}

// escapeSegment percent-escapes "%" and "." within a single path
// segment. "%" must be escaped first so the "%" it introduces while
// escaping "." is never itself re-escaped.
func escapeSegment(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, ".", "%2E")
	return s
}

// unescapeSegment reverses escapeSegment; it must undo the "." escape
// before the "%" escape, the opposite order from escaping, or a
// literal "%2E" typed by the caller would be corrupted.
func unescapeSegment(s string) string {
	s = strings.ReplaceAll(s, "%2E", ".")
	s = strings.ReplaceAll(s, "%25", "%")
	return s
}

// Segments returns a copy of the path segments.
func (n Name) Segments() []string {
	cp := make([]string, len(n.segments))
	copy(cp, n.segments)
	return cp
}

// Equal reports whether n and o name the same registration.
func (n Name) Equal(o Name) bool {
	return n.String() == o.String()
}

// IsZero reports whether n is the zero Name.
func (n Name) IsZero() bool {
	return len(n.segments) == 0
}
