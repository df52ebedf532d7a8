// Package session wires the entity registries, the correlator and the
// archive of one gateway user, and dispatches messages between the
// protocol side and the legacy adapter.
//
// Peers are resolved before any store transaction is opened. The
// correlations and archive entries produced by one message are then written
// in a single transaction, so a message that cannot be recorded leaves no
// partial mapping behind.
//
// Messages can be handled directly or queued with Enqueue and processed in
// order by Run.
package session
