// Package ids generates protocol message identifiers.
package ids

import "github.com/google/uuid"

// Generator produces unique identifiers.
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids generated
// for archive entries sort roughly by creation time, which helps when
// reading raw tables.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Func adapts a function to the Generator interface.
type Func func() string

// Generate calls f.
func (f Func) Generate() string { return f() }
