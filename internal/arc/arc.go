package arc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/cellsync/internal/channel"
	"github.com/roach88/cellsync/internal/handle"
	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/journal"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// ErrClosed is returned by Connect and DeclareStore after Close.
var ErrClosed = errors.New("arc closed")

// Arc owns the stores, proxies and handles of one arc.
//
// Thread-safety: Arc is safe for concurrent use. Particle callbacks run
// only while Idle or Run drains the scheduler.
type Arc struct {
	id            string
	ids           ids.Generator
	referenceMode bool
	journal       *journal.Journal
	registerer    prometheus.Registerer
	logger        *slog.Logger
	tracing       bool
	portFactory   PortFactory

	stores   *store.Manager
	sched    *proxy.Scheduler
	local    *channel.LocalPort
	recorder *channel.Recorder
	port     proxy.Port
	metrics  *proxy.Metrics

	mu      sync.Mutex
	proxies map[string]proxy.Proxy
	handles []handle.Handle
	closed  bool
}

// Option configures an Arc.
type Option func(*Arc)

// WithIDGenerator sets the generator for barriers, witness keys and entity
// ids. Defaults to UUIDv7Generator.
func WithIDGenerator(gen ids.Generator) Option {
	return func(a *Arc) { a.ids = gen }
}

// WithJournal records every store declaration and event in j.
func WithJournal(j *journal.Journal) Option {
	return func(a *Arc) { a.journal = j }
}

// WithRegisterer registers the arc's proxy metrics with reg, labelled with
// the arc id.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *Arc) { a.registerer = reg }
}

// WithReferenceMode toggles reference mode for plain-entity stores.
// Enabled by default.
func WithReferenceMode(enabled bool) Option {
	return func(a *Arc) { a.referenceMode = enabled }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Arc) { a.logger = l }
}

// WithTracing records every port request; see Trace.
func WithTracing() Option {
	return func(a *Arc) { a.tracing = true }
}

// PortFactory builds the port the arc's proxies talk to. local serves the
// arc's own stores and may be wrapped or returned as is.
type PortFactory func(local *channel.LocalPort, stores *store.Manager, sched *proxy.Scheduler) proxy.Port

// WithPort replaces the arc's in-process port.
func WithPort(f PortFactory) Option {
	return func(a *Arc) { a.portFactory = f }
}

// New creates an empty arc.
func New(id string, opts ...Option) *Arc {
	a := &Arc{
		id:            id,
		ids:           ids.UUIDv7Generator{},
		referenceMode: true,
		logger:        slog.Default(),
		proxies:       make(map[string]proxy.Proxy),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("arc", id)

	if a.registerer != nil {
		a.metrics = proxy.NewMetrics(prometheus.WrapRegistererWith(prometheus.Labels{"arc": id}, a.registerer))
	}

	mopts := []store.ManagerOption{
		store.WithIDGenerator(a.ids),
		store.WithReferenceMode(a.referenceMode),
	}
	if a.journal != nil {
		mopts = append(mopts, store.WithListener(a.journal.Listener()))
	}
	a.stores = store.NewManager(mopts...)
	a.sched = proxy.NewScheduler(proxy.WithLogger(a.logger), proxy.WithMetrics(a.metrics))
	a.local = channel.NewLocalPort(a.stores, a.sched, channel.WithLogger(a.logger))
	a.port = a.local
	if a.portFactory != nil {
		a.port = a.portFactory(a.local, a.stores, a.sched)
	}
	if a.tracing {
		a.recorder = channel.NewRecorder(a.port, a.logger)
		a.port = a.recorder
	}
	return a
}

// ID returns the arc id.
func (a *Arc) ID() string { return a.id }

// Stores returns the arc's store manager.
func (a *Arc) Stores() *store.Manager { return a.stores }

// Scheduler returns the arc's proxy scheduler.
func (a *Arc) Scheduler() *proxy.Scheduler { return a.sched }

// Metrics returns the arc's proxy metrics, or nil without WithRegisterer.
func (a *Arc) Metrics() *proxy.Metrics { return a.metrics }

// Trace returns the port requests recorded so far. Empty without
// WithTracing.
func (a *Arc) Trace() []string {
	if a.recorder == nil {
		return nil
	}
	return a.recorder.Lines()
}

// StoreSpec declares a store.
type StoreSpec struct {
	ID   string
	Kind store.Kind
	// References marks a store of Reference values; it is never wrapped in
	// reference mode.
	References bool
	// EntityType selects the shared backing store in reference mode.
	EntityType string
}

// DeclareStore creates a store and journals its declaration.
func (a *Arc) DeclareStore(ctx context.Context, spec StoreSpec) error {
	if err := a.checkOpen(); err != nil {
		return err
	}

	var sopts []store.StoreOption
	if spec.References {
		sopts = append(sopts, store.WithReferences())
	}
	if spec.EntityType != "" {
		sopts = append(sopts, store.WithEntityType(spec.EntityType))
	}

	// The declaration must be journaled before the first event so the
	// event's store row exists.
	if a.journal != nil {
		rec := journal.StoreRecord{
			ID:            spec.ID,
			Kind:          spec.Kind,
			ReferenceMode: a.referenceMode && !spec.References && spec.Kind != store.KindBigCollection,
			EntityType:    spec.EntityType,
		}
		if err := a.journal.RegisterStore(ctx, rec); err != nil {
			return fmt.Errorf("declare %s: %w", spec.ID, err)
		}
	}
	if _, err := a.stores.Create(spec.ID, spec.Kind, sopts...); err != nil {
		return fmt.Errorf("declare %s: %w", spec.ID, err)
	}
	a.logger.Debug("store declared", "store", spec.ID, "kind", spec.Kind)
	return nil
}

// ConnectOption configures a single Connect.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	flags   map[string]bool
	options *proxy.Options
}

// WithFlags overlays option flags on the handle before it registers, as
// handle.Configure does.
func WithFlags(flags map[string]bool) ConnectOption {
	return func(c *connectConfig) { c.flags = flags }
}

// WithOptions replaces the handle's options before it registers.
func WithOptions(o proxy.Options) ConnectOption {
	return func(c *connectConfig) { c.options = &o }
}

// Connect binds particle to storeID with caps. The store's shared proxy is
// created on first use. Readable handles register with it, which may start
// a synchronize; call Idle to deliver the resulting callbacks.
func (a *Arc) Connect(ctx context.Context, particle handle.Particle, storeID string, caps handle.Capabilities, opts ...ConnectOption) (handle.Handle, error) {
	return a.connect(ctx, particle, storeID, 0, caps, opts)
}

// ConnectVariable is Connect for Variable stores.
func (a *Arc) ConnectVariable(ctx context.Context, particle handle.Particle, storeID string, caps handle.Capabilities, opts ...ConnectOption) (*handle.Variable, error) {
	h, err := a.connect(ctx, particle, storeID, store.KindVariable, caps, opts)
	if err != nil {
		return nil, err
	}
	return h.(*handle.Variable), nil
}

// ConnectCollection is Connect for Collection stores.
func (a *Arc) ConnectCollection(ctx context.Context, particle handle.Particle, storeID string, caps handle.Capabilities, opts ...ConnectOption) (*handle.Collection, error) {
	h, err := a.connect(ctx, particle, storeID, store.KindCollection, caps, opts)
	if err != nil {
		return nil, err
	}
	return h.(*handle.Collection), nil
}

// ConnectBigCollection is Connect for BigCollection stores.
func (a *Arc) ConnectBigCollection(ctx context.Context, particle handle.Particle, storeID string, caps handle.Capabilities) (*handle.BigCollection, error) {
	h, err := a.connect(ctx, particle, storeID, store.KindBigCollection, caps, nil)
	if err != nil {
		return nil, err
	}
	return h.(*handle.BigCollection), nil
}

// connect creates and registers the handle. A non-zero want rejects
// stores of any other kind before anything is registered.
func (a *Arc) connect(ctx context.Context, particle handle.Particle, storeID string, want store.Kind, caps handle.Capabilities, opts []ConnectOption) (handle.Handle, error) {
	var cfg connectConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	wrap := func(err error) error {
		return fmt.Errorf("connect %s to %s: %w", particle.ID(), storeID, err)
	}

	kind, err := a.stores.Kind(storeID)
	if err != nil {
		return nil, wrap(err)
	}
	if want != 0 && kind != want {
		return nil, wrap(fmt.Errorf("%s store, want %s: %w", kind, want, store.ErrTypeMismatch))
	}

	px, err := a.proxyFor(storeID, kind)
	if err != nil {
		return nil, wrap(err)
	}
	h, err := a.newHandle(particle, px, caps)
	if err != nil {
		return nil, wrap(err)
	}
	if err := configure(h, cfg); err != nil {
		return nil, wrap(err)
	}
	if err := px.Register(ctx, h); err != nil {
		return nil, wrap(err)
	}

	a.mu.Lock()
	a.handles = append(a.handles, h)
	a.mu.Unlock()

	a.logger.Debug("handle connected", "particle", particle.ID(), "store", storeID, "caps", caps.String())
	return h, nil
}

// Disconnect stops notifications to h. Callbacks already queued still run.
func (a *Arc) Disconnect(h handle.Handle) {
	a.mu.Lock()
	px, ok := a.proxies[h.Name()]
	for i, other := range a.handles {
		if other == h {
			a.handles = append(a.handles[:i], a.handles[i+1:]...)
			break
		}
	}
	a.mu.Unlock()

	if obs, isObs := h.(proxy.Observer); ok && isObs {
		px.Deregister(obs)
	}
}

// Handles returns the connected handles in connection order.
func (a *Arc) Handles() []handle.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]handle.Handle(nil), a.handles...)
}

// Proxy returns the proxy for storeID, if one has been created.
func (a *Arc) Proxy(storeID string) (proxy.Proxy, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	px, ok := a.proxies[storeID]
	return px, ok
}

// Idle delivers queued callbacks until the arc is quiescent.
func (a *Arc) Idle(ctx context.Context) error {
	return a.sched.Idle(ctx)
}

// Run delivers callbacks as they arrive until ctx ends.
func (a *Arc) Run(ctx context.Context) error {
	return a.sched.Run(ctx)
}

// Checkpoint snapshots every store into the journal. A no-op without
// WithJournal.
func (a *Arc) Checkpoint(ctx context.Context) error {
	if a.journal == nil {
		return nil
	}
	if err := a.journal.CheckpointAll(ctx, a.stores); err != nil {
		return fmt.Errorf("checkpoint arc %s: %w", a.id, err)
	}
	return a.journal.Err()
}

// Close releases the port. The journal belongs to the caller and stays
// open.
func (a *Arc) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	return a.local.Close()
}

func (a *Arc) checkOpen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	return nil
}

func (a *Arc) proxyFor(storeID string, kind store.Kind) (proxy.Proxy, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if px, ok := a.proxies[storeID]; ok {
		return px, nil
	}
	px, err := proxy.New(storeID, kind, proxy.Config{
		Port:      a.port,
		Scheduler: a.sched,
		IDs:       a.ids,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.proxies[storeID] = px
	return px, nil
}

// observerHandle is a handle that can register with a proxy.
type observerHandle interface {
	handle.Handle
	proxy.Observer
}

func (a *Arc) newHandle(p handle.Particle, px proxy.Proxy, caps handle.Capabilities) (observerHandle, error) {
	var h observerHandle
	switch backend := px.(type) {
	case *proxy.VariableProxy:
		h = handle.NewVariable(p, backend, caps, a.ids)
	case *proxy.CollectionProxy:
		h = handle.NewCollection(p, backend, caps, a.ids)
	case *proxy.BigCollectionProxy:
		h = handle.NewBigCollection(p, backend, caps, a.ids)
	default:
		return nil, fmt.Errorf("no handle for %T", px)
	}
	return h, nil
}

// configurable is implemented by every handle kind; BigCollection handles
// reject both methods.
type configurable interface {
	Configure(map[string]bool) error
	SetOptions(proxy.Options) error
}

func configure(h handle.Handle, cfg connectConfig) error {
	if cfg.options == nil && cfg.flags == nil {
		return nil
	}
	c, ok := h.(configurable)
	if !ok {
		return handle.ErrNotConfigurable
	}
	if cfg.options != nil {
		if err := c.SetOptions(*cfg.options); err != nil {
			return err
		}
	}
	if cfg.flags != nil {
		if err := c.Configure(cfg.flags); err != nil {
			return err
		}
	}
	return nil
}
