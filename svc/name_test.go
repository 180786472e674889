package svc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameCanonicalFormRoundTrips(t *testing.T) {
	n := NewName("storage", "db", "primary")
	assert.Equal(t, "storage.db.primary", n.String())
	assert.Equal(t, n, ParseName("storage.db.primary"))
}

func TestNameEquality(t *testing.T) {
	a := NewName("a", "b")
	b := NewName("a", "b")
	c := NewName("a", "c")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestNameIsZero(t *testing.T) {
	assert.True(t, Name{}.IsZero())
	assert.False(t, NewName("a").IsZero())
}

func TestNameSegmentsIsACopy(t *testing.T) {
	n := NewName("a", "b")
	segs := n.Segments()
	segs[0] = "mutated"
	assert.Equal(t, "a.b", n.String(), "mutating a returned slice must not affect the Name")
}

// A literal "." embedded in one segment must never canonicalize to the
// same string as splitting across two segments, or two distinct Names
// would alias onto the same registry-map key.
func TestNameWithEmbeddedDotDoesNotCollideWithSplitSegments(t *testing.T) {
	embedded := NewName("a.b")
	split := NewName("a", "b")

	assert.NotEqual(t, embedded.String(), split.String())
	assert.False(t, embedded.Equal(split))
}

// Segments containing "." or a literal "%" round-trip through
// String/ParseName unchanged.
func TestNameEscapingRoundTrips(t *testing.T) {
	n := NewName("weird%segment", "a.b.c", "plain")
	assert.Equal(t, n, ParseName(n.String()))
}
