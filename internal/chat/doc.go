// Package chat defines the messaging domain model shared by the cache, the
// realtime connection and the sync engine.
//
// # Message identity
//
// A message is either pending (created locally, not yet acknowledged) or
// confirmed (the server assigned an id and a timestamp). MessageRef carries
// that distinction in the type instead of a sentinel id. The "0" sentinel the
// server contract expects exists only in WireMessage.
//
// # Ordering
//
// Within one conversation messages are totally ordered by Compare:
//   - confirmed messages by (Timestamp, numeric id, id)
//   - pending messages after every confirmed one, by (CreatedAt, key)
//
// The cache and the engine's in-memory list both materialize this order, so
// readers never observe arrival order.
package chat
