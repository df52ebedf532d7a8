// Package archive stores the message history of conversations and answers
// paged window queries over it.
//
// Entries of a conversation are ordered by (timestamp, sequence), where
// sequence is assigned on append and breaks ties between messages sharing a
// timestamp. Page boundaries are anchored on stored entries by protocol id,
// so an anchor selects entries strictly before or after that exact entry
// even when neighbours share its timestamp.
//
// A query is evaluated in this order:
//
//  1. Window: session, conversation, start/end time, before/after anchors,
//     id set and sender are combined into one filter.
//  2. Last page: when requested, only the final N entries of the window are kept.
//  3. Direction: ascending, or descending when flipped.
//  4. Cap: at most Max entries are delivered; Complete is false when the cap
//     cut off a non-empty remainder.
//
// First, Last and Count of a Page always describe the delivered entries in
// delivery order.
package archive
