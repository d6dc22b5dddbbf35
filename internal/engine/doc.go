// Package engine implements the hirechat sync engine.
//
// The engine sits between the user's intents, the local cache and the
// realtime hub. It keeps three views consistent: the open conversation's
// message list, the conversation list with its previews, and the ephemeral
// presence, typing and draft state.
//
// ARCHITECTURE:
//
// Intents (Send, Edit, Delete, Open, LoadOlder, UpdateComposer) run on the
// caller's goroutine. Each applies its change locally first, then talks to
// the server. Remote calls never hold the engine lock.
//
// Single-Writer Event Loop:
// Events pushed by the hub are queued and applied by Run, one at a time, in
// arrival order. Hub handlers only enqueue, so the realtime read loop is
// never blocked by reconciliation and handlers never call back into the hub.
//
// Event Processing Flow:
//  1. The hub dispatches a named event; the engine enqueues it
//  2. Run dequeues events one at a time
//  3. processEvent routes to the event's handler
//  4. The handler upserts the cache, updates the open list and the preview
//  5. A Change is published to subscribers
//
// RECONCILIATION RULES:
//
// Cache writes are idempotent: the same message applied twice, or an older
// version applied after a newer one, leaves the same state. A deleted
// message stays deleted. Previews move only when the affected message is
// the one shown: a new message advances it, an edit rewrites it and a
// delete moves it back to the deleted message's predecessor.
//
// Server rejections do not roll back the local change. The intent returns a
// *ReconcileError and the caller decides how to retry.
package engine
