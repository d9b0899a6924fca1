// Package channel provides Port implementations for storage proxies.
//
// LocalPort serves a store.Manager in-process. Store events are handed to
// proxies as scheduler tasks, so they reach a proxy in the order the store
// emitted them; synchronize requests are answered from a goroutine
// bracketed by Scheduler.BeginCall and EndCall so that Idle waits for the
// answer. Recorder wraps any Port and keeps one trace line per request.
package channel
