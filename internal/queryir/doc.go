// Package queryir is the intermediate representation for archive window
// queries.
//
// The archive describes what it wants (conversation scope, time and
// (timestamp, sequence) bounds, id sets, ordering, limits) as a tree of
// Select and Predicate values; backends compile that tree to their own
// query language. Keeping the window logic in this form means the paging
// rules are written once and every store dialect executes the same plan.
//
// Query and Predicate are sealed interfaces using the marker method
// pattern, so backend compilers can switch exhaustively:
//
//	switch p := pred.(type) {
//	case Equals:
//	case In:
//	case Compare:
//	case And:
//	}
//
// Rules enforced by Validate:
//   - every Select names its columns explicitly
//   - every Select has a non-empty ORDER BY, so results are deterministic
//   - field names are plain lower-case identifiers (they are interpolated,
//     values never are)
//   - literal values are strings, integers, booleans or byte slices; no floats
package queryir
