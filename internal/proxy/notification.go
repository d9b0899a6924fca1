package proxy

import (
	"fmt"
	"strings"

	"github.com/roach88/cellsync/internal/ir"
)

// NotificationKind distinguishes the three callbacks a particle receives.
type NotificationKind int

const (
	NotifySync NotificationKind = iota + 1
	NotifyUpdate
	NotifyDesync
)

// String returns the callback name.
func (k NotificationKind) String() string {
	switch k {
	case NotifySync:
		return "sync"
	case NotifyUpdate:
		return "update"
	case NotifyDesync:
		return "desync"
	default:
		return fmt.Sprintf("notification(%d)", int(k))
	}
}

// Notification is what a proxy delivers to an Observer.
//
// Sync notifications carry the full model: Data for Variables, List for
// Collections. Update notifications carry Data for Variables and
// Added/Removed for Collections. Desync notifications carry nothing.
type Notification struct {
	Kind         NotificationKind
	StoreID      string
	Version      int64
	Data         *ir.Entity
	List         []ir.Entity
	Added        []ir.Entity
	Removed      []ir.Entity
	OriginatorID string
}

// String renders the notification for traces.
func (n Notification) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s", n.Kind, n.StoreID)
	if n.Data != nil {
		fmt.Fprintf(&b, " data=%s", n.Data)
	}
	if n.List != nil {
		fmt.Fprintf(&b, " list=%s", entityIDs(n.List))
	}
	if len(n.Added) > 0 {
		fmt.Fprintf(&b, " +%s", entityIDs(n.Added))
	}
	if len(n.Removed) > 0 {
		fmt.Fprintf(&b, " -%s", entityIDs(n.Removed))
	}
	if n.OriginatorID != "" {
		fmt.Fprintf(&b, " from=%s", n.OriginatorID)
	}
	return b.String()
}

func entityIDs(es []ir.Entity) string {
	ids := make([]string, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	return "[" + strings.Join(ids, "|") + "]"
}

// Observer is a handle registered with a proxy.
type Observer interface {
	// ParticleID identifies the particle owning the handle; writes it makes
	// carry this id as their originator.
	ParticleID() string

	// Readable reports whether the handle may read. Only readable handles
	// register.
	Readable() bool

	Options() Options

	// Notify delivers a notification. Called only from the Scheduler.
	Notify(n Notification) error
}
