package store

import (
	"slices"
	"sync"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
)

// Change is one collection item inside an Event.
//
// Effective is true when the write changed the store's model at all;
// Observable is true when it changed what a reader of the item list sees
// (insertion, value change, or final removal).
type Change struct {
	Value      ir.Entity `json:"value"`
	Keys       []string  `json:"keys"`
	Effective  bool      `json:"effective"`
	Observable bool      `json:"observable"`
}

// Event is the change notification delivered to listeners after every
// mutation.
//
// Variable events carry Data (nil for a cleared Variable). Collection and
// BigCollection events carry either Add or Remove.
type Event struct {
	StoreID      string     `json:"store_id"`
	Kind         Kind       `json:"kind"`
	Data         *ir.Entity `json:"data,omitempty"`
	Add          []Change   `json:"add,omitempty"`
	Remove       []Change   `json:"remove,omitempty"`
	Version      int64      `json:"version"`
	OriginatorID string     `json:"originator_id,omitempty"`
	Barrier      string     `json:"barrier,omitempty"`
}

// Listener receives events. It runs on the mutating goroutine.
type Listener func(Event)

// Subscription identifies a registered listener.
type Subscription string

// WriteOption configures a single mutation.
type WriteOption func(*writeConfig)

type writeConfig struct {
	originator string
	barrier    string
	version    *int64
	silent     bool
}

func newWriteConfig(opts []WriteOption) writeConfig {
	var cfg writeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithOriginator tags the event with the id of the particle that wrote it.
func WithOriginator(particleID string) WriteOption {
	return func(c *writeConfig) { c.originator = particleID }
}

// WithBarrier attaches a proxy barrier token. Variable writes carrying a
// barrier always emit an event, even when the value is unchanged.
func WithBarrier(barrier string) WriteOption {
	return func(c *writeConfig) { c.barrier = barrier }
}

// WithVersion overrides the version the write advances to.
// Test harnesses use it to simulate misordered delivery.
func WithVersion(v int64) WriteOption {
	return func(c *writeConfig) { c.version = &v }
}

// WithoutEvent applies the write without notifying listeners.
// Test harnesses use it to simulate a dropped event.
func WithoutEvent() WriteOption {
	return func(c *writeConfig) { c.silent = true }
}

type subscriber struct {
	token Subscription
	fn    Listener
}

type delivery struct {
	ev        Event
	listeners []subscriber
}

// core carries the version counter and listener registry shared by every
// store kind.
//
// Locking: mu guards the model, version, listeners and the pending delivery
// queue. dispatch serializes delivery so listeners see versions in order.
// Listeners run without mu held and may therefore read the store.
type core struct {
	id   string
	kind Kind
	ids  ids.Generator

	mu        sync.Mutex
	dispatch  sync.Mutex
	version   int64
	listeners []subscriber
	pending   []delivery
}

func (c *core) init(id string, kind Kind, gen ids.Generator) {
	c.id = id
	c.kind = kind
	c.ids = gen
}

// ID returns the store id.
func (c *core) ID() string { return c.id }

// Kind returns the store kind.
func (c *core) Kind() Kind { return c.kind }

// Version returns the current version.
func (c *core) Version() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Subscribe registers l and returns the token needed to remove it.
func (c *core) Subscribe(l Listener) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	token := Subscription(c.ids.New())
	c.listeners = append(c.listeners, subscriber{token: token, fn: l})
	return token
}

// Unsubscribe removes a listener. Reports whether the token was known.
func (c *core) Unsubscribe(token Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.listeners, func(s subscriber) bool { return s.token == token })
	if i < 0 {
		return false
	}
	c.listeners = slices.Delete(c.listeners, i, i+1)
	return true
}

// commit advances the version, stamps ev and queues it for delivery.
// Must be called with c.mu held; the caller unlocks and then calls flush.
func (c *core) commit(ev Event, cfg writeConfig) Event {
	if cfg.version != nil {
		c.version = *cfg.version
	} else {
		c.version++
	}
	ev.StoreID = c.id
	ev.Kind = c.kind
	ev.Version = c.version
	ev.OriginatorID = cfg.originator
	ev.Barrier = cfg.barrier

	if !cfg.silent {
		c.enqueue(ev)
	}
	return ev
}

// enqueue queues ev for every current listener. Must be called with c.mu
// held.
func (c *core) enqueue(ev Event) {
	if len(c.listeners) > 0 {
		c.pending = append(c.pending, delivery{ev: ev, listeners: slices.Clone(c.listeners)})
	}
}

// flush delivers queued events in version order. Whichever writer holds
// dispatch delivers every pending event, so a mutating call returns only
// after its own event has reached all listeners.
func (c *core) flush() {
	c.dispatch.Lock()
	defer c.dispatch.Unlock()

	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		d := c.pending[0]
		c.pending[0] = delivery{}
		c.pending = c.pending[1:]
		c.mu.Unlock()

		for _, s := range d.listeners {
			s.fn(d.ev)
		}
	}
}
