package proxy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownOption is returned when a handle configuration names an option
// that does not exist.
var ErrUnknownOption = errors.New("unknown handle option")

// Options controls which notifications a handle receives and whether its
// proxy keeps a synchronized copy of the store.
type Options struct {
	KeepSynced   bool `yaml:"keep_synced" json:"keep_synced"`
	NotifySync   bool `yaml:"notify_sync" json:"notify_sync"`
	NotifyUpdate bool `yaml:"notify_update" json:"notify_update"`
	NotifyDesync bool `yaml:"notify_desync" json:"notify_desync"`
}

// Option names accepted by Apply.
const (
	OptionKeepSynced   = "keepSynced"
	OptionNotifySync   = "notifySync"
	OptionNotifyUpdate = "notifyUpdate"
	OptionNotifyDesync = "notifyDesync"
)

// DefaultOptions returns {KeepSynced, NotifySync, NotifyUpdate: true,
// NotifyDesync: false}.
func DefaultOptions() Options {
	return Options{
		KeepSynced:   true,
		NotifySync:   true,
		NotifyUpdate: true,
		NotifyDesync: false,
	}
}

// Apply overlays the named flags onto o. Unknown names are rejected and
// leave o unchanged.
func (o *Options) Apply(flags map[string]bool) error {
	var unknown []string
	next := *o
	for name, v := range flags {
		switch name {
		case OptionKeepSynced:
			next.KeepSynced = v
		case OptionNotifySync:
			next.NotifySync = v
		case OptionNotifyUpdate:
			next.NotifyUpdate = v
		case OptionNotifyDesync:
			next.NotifyDesync = v
		default:
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownOption, strings.Join(unknown, ", "))
	}
	*o = next
	return nil
}

// wantsUpdates reports whether o receives update notifications from the
// proxy's synchronized model.
func (o Options) wantsUpdates() bool { return o.KeepSynced && o.NotifyUpdate }

// wantsSync reports whether o receives sync notifications.
func (o Options) wantsSync() bool { return o.KeepSynced && o.NotifySync }

// wantsRawUpdates reports whether o receives updates straight from store
// events without a synchronized model.
func (o Options) wantsRawUpdates() bool { return !o.KeepSynced && o.NotifyUpdate }
