// Package arc assembles the storage context of one arc: a store.Manager,
// the proxy scheduler, an in-process port, one proxy per connected store
// and the handles particles write through.
//
// Arcs share nothing, so several may run side by side in one process.
package arc
