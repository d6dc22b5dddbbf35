// Package realtime owns the single long-lived connection to the messaging hub.
//
// A Manager moves through four states:
//
//	Disconnected → Connecting → Connected → Reconnecting → Connected
//	                                                    ↘ Disconnected (gave up)
//
// Invoke and Send are only legal while Connected; in every other state they
// fail immediately with a *NotConnectedError. There is no hidden retry queue.
//
// When a connection drops without Stop having been called the manager
// retries on the Backoff schedule: the first attempt is immediate, later
// attempts wait Initial, 2*Initial, ... capped at Max. After MaxAttempts
// failures it settles in Disconnected and OnGiveUp handlers fire once.
// A successful reconnect fires OnReconnected; the manager does not remember
// group membership, so callers re-join their groups from that handler.
//
// Server pushes are delivered to handlers registered with On, in
// registration order. A panicking handler is logged and does not stop its
// siblings.
package realtime
