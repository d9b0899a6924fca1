package proxy

import "fmt"

// SyncState is the synchronization state of a proxy.
type SyncState int

const (
	Unsynchronized SyncState = iota
	SynchronizingRequested
	Synchronized
	Desynchronized
)

// String returns the state name for logs and traces.
func (s SyncState) String() string {
	switch s {
	case Unsynchronized:
		return "unsynchronized"
	case SynchronizingRequested:
		return "synchronizing"
	case Synchronized:
		return "synchronized"
	case Desynchronized:
		return "desynchronized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
