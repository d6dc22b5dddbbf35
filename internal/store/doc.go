// Package store is the SQLite-backed local cache of messages and
// conversation summaries.
//
// # Merge Rules
//
// Every message write goes through chat.Merge inside a transaction, so
// writes are idempotent and commutative in the ways reconciliation needs:
//   - a deleted row stays deleted and keeps the placeholder content
//   - delivery status never moves backwards
//   - ReadBy only grows
//
// A confirmed message that carries the local key of a pending row replaces
// that row in the same transaction. Apart from that replacement rows are
// never purged by normal operation; ClearConversation, InvalidateConversation
// and ClearAll are explicit maintenance operations.
//
// A conversation's rows are only a complete view of its newest page while it
// is marked with MarkHistoryLoaded. Invalidating or clearing the conversation
// drops the mark, so rows written afterwards read as partial.
//
// # Ordering
//
// Message reads are ordered like chat.Compare: confirmed rows by
// (sent_at, numeric server id, server id), pending rows after all confirmed
// ones by (created_at, key). Summary reads are ordered by the preview
// timestamp, newest first, with empty conversations last.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Reads return empty slices, never nil. Failures are *Error values; a missing
// row is reported with ErrNotFound.
package store
