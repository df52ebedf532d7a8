// Package model holds the records shared by the gateway core: entities,
// message correlations and archive entries, plus the error taxonomy every
// component reports through.
//
// This package imports nothing internal. Registries, the correlator, the
// archive and the store all depend on it, never the other way around.
//
// Key constraints:
//   - Timestamps are UTC; the store keeps them as integer microseconds
//   - Archive entries are immutable once stored
//   - Schema-less blobs (registration data, profile attributes) are written
//     as canonical JSON so identical content always yields identical bytes
package model
