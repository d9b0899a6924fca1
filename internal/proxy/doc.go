// Package proxy implements the client side of store synchronization: one
// StorageProxy per (store, arc) caching the store's model for every local
// handle, and the Scheduler that delivers proxy notifications to particles.
//
// # Sync states
//
//	Unsynchronized -> SynchronizingRequested -> Synchronized <-> Desynchronized
//
// A proxy becomes Synchronized when a snapshot response is adopted, or when
// queued updates bring it contiguously up to date before the response
// arrives. A version gap while Synchronized moves it to Desynchronized and
// re-requests a snapshot. Responses at or below the local version are stale
// and discarded.
//
// # Locking
//
// Each proxy guards its state with one mutex and never holds it across a
// Port call. Notifications are enqueued on the Scheduler while the lock is
// held, so their order matches the order of state transitions. Particle
// callbacks only ever run from the Scheduler drain.
//
// # Errors
//
// Protocol anomalies (gaps, stale responses, redundant events) are
// recovered inside the proxy, logged and counted; they are never returned.
// Port failures surface as errors from the call that made them.
package proxy
