package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
)

// DefaultEntityType names the shared backing store used by reference-mode
// stores that do not declare an entity type.
const DefaultEntityType = "entity"

// BackingKey returns the storage key of the backing store for entityType.
func BackingKey(entityType string) string {
	return "volatile://" + entityType
}

// Manager owns every store of one arc, keyed by store id, plus the shared
// reference-mode backing stores keyed by storage key.
//
// Thread-safety: Manager is safe for concurrent use.
type Manager struct {
	ids           ids.Generator
	referenceMode bool
	listeners     []Listener

	mu      sync.RWMutex
	stores  map[string]Observable
	backing map[string]*Collection
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIDGenerator sets the generator for subscription tokens, cursor ids
// and reference-mode witness keys. Defaults to UUIDv7Generator.
func WithIDGenerator(gen ids.Generator) ManagerOption {
	return func(m *Manager) { m.ids = gen }
}

// WithReferenceMode toggles reference mode for plain-entity Variables and
// Collections. Enabled by default.
func WithReferenceMode(enabled bool) ManagerOption {
	return func(m *Manager) { m.referenceMode = enabled }
}

// WithListener subscribes l to every store the Manager creates.
func WithListener(l Listener) ManagerOption {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// NewManager creates an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		ids:           ids.UUIDv7Generator{},
		referenceMode: true,
		stores:        make(map[string]Observable),
		backing:       make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StoreOption configures a single store at creation.
type StoreOption func(*storeConfig)

type storeConfig struct {
	references bool
	entityType string
}

// WithReferences declares that the store holds Reference values. Such
// stores are never wrapped in reference mode.
func WithReferences() StoreOption {
	return func(c *storeConfig) { c.references = true }
}

// WithEntityType selects the backing store shared by stores of the same
// entity type.
func WithEntityType(name string) StoreOption {
	return func(c *storeConfig) { c.entityType = name }
}

func (m *Manager) storeConfig(opts []StoreOption) storeConfig {
	cfg := storeConfig{entityType: DefaultEntityType}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (m *Manager) useReferenceMode(cfg storeConfig) bool {
	return m.referenceMode && !cfg.references
}

// NewVariable creates and registers a Variable.
func (m *Manager) NewVariable(id string, opts ...StoreOption) (VariableStore, error) {
	cfg := m.storeConfig(opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stores[id]; exists {
		return nil, fmt.Errorf("variable %q: %w", id, ErrStoreExists)
	}

	var s VariableStore = NewVariable(id, m.ids)
	if m.useReferenceMode(cfg) {
		key := BackingKey(cfg.entityType)
		s = newRefVariable(s.(*Variable), key, m.backingLocked(key))
	}
	m.registerLocked(id, s)
	return s, nil
}

// NewCollection creates and registers a Collection.
func (m *Manager) NewCollection(id string, opts ...StoreOption) (CollectionStore, error) {
	cfg := m.storeConfig(opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stores[id]; exists {
		return nil, fmt.Errorf("collection %q: %w", id, ErrStoreExists)
	}

	var s CollectionStore = NewCollection(id, m.ids)
	if m.useReferenceMode(cfg) {
		key := BackingKey(cfg.entityType)
		s = newRefCollection(s.(*Collection), key, m.backingLocked(key))
	}
	m.registerLocked(id, s)
	return s, nil
}

// NewBigCollection creates and registers a BigCollection. BigCollections
// never use reference mode.
func (m *Manager) NewBigCollection(id string) (*BigCollection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stores[id]; exists {
		return nil, fmt.Errorf("bigcollection %q: %w", id, ErrStoreExists)
	}
	b := NewBigCollection(id, m.ids)
	m.registerLocked(id, b)
	return b, nil
}

// Create makes a store of the given kind.
func (m *Manager) Create(id string, kind Kind, opts ...StoreOption) (Observable, error) {
	switch kind {
	case KindVariable:
		return m.NewVariable(id, opts...)
	case KindCollection:
		return m.NewCollection(id, opts...)
	case KindBigCollection:
		return m.NewBigCollection(id)
	default:
		return nil, fmt.Errorf("create %q: unknown kind %s", id, kind)
	}
}

func (m *Manager) registerLocked(id string, s Observable) {
	for _, l := range m.listeners {
		s.Subscribe(l)
	}
	m.stores[id] = s
}

func (m *Manager) backingLocked(key string) *Collection {
	b, ok := m.backing[key]
	if !ok {
		b = NewCollection(key, m.ids)
		m.backing[key] = b
	}
	return b
}

// Lookup returns the store with id.
func (m *Manager) Lookup(id string) (Observable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[id]
	if !ok {
		return nil, fmt.Errorf("store %q: %w", id, ErrStoreNotFound)
	}
	return s, nil
}

// Variable returns the Variable with id.
func (m *Manager) Variable(id string) (VariableStore, error) {
	s, err := m.Lookup(id)
	if err != nil {
		return nil, err
	}
	v, ok := s.(VariableStore)
	if !ok {
		return nil, fmt.Errorf("store %q is a %s, not a variable: %w", id, s.Kind(), ErrTypeMismatch)
	}
	return v, nil
}

// Collection returns the Collection with id.
func (m *Manager) Collection(id string) (CollectionStore, error) {
	s, err := m.Lookup(id)
	if err != nil {
		return nil, err
	}
	c, ok := s.(CollectionStore)
	if !ok {
		return nil, fmt.Errorf("store %q is a %s, not a collection: %w", id, s.Kind(), ErrTypeMismatch)
	}
	return c, nil
}

// BigCollection returns the BigCollection with id.
func (m *Manager) BigCollection(id string) (*BigCollection, error) {
	s, err := m.Lookup(id)
	if err != nil {
		return nil, err
	}
	b, ok := s.(*BigCollection)
	if !ok {
		return nil, fmt.Errorf("store %q is a %s, not a bigcollection: %w", id, s.Kind(), ErrTypeMismatch)
	}
	return b, nil
}

// Kind returns the kind of the store with id.
func (m *Manager) Kind(id string) (Kind, error) {
	s, err := m.Lookup(id)
	if err != nil {
		return 0, err
	}
	return s.Kind(), nil
}

// IDs returns the registered store ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.stores))
	for id := range m.stores {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Backing returns the backing store for a storage key.
func (m *Manager) Backing(storageKey string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backing[storageKey]
	if !ok {
		return nil, fmt.Errorf("%s: %w", storageKey, ErrUnknownStorageKey)
	}
	return b, nil
}

// Dereference resolves a Reference against its backing store. It fails
// only when the storage key is unknown or the backing store does not hold
// the entity.
func (m *Manager) Dereference(ctx context.Context, ref ir.Reference) (ir.Entity, error) {
	b, err := m.Backing(ref.StorageKey)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("dereference %s: %w", ref.ID, err)
	}
	e, err := b.Get(ctx, ref.ID)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("dereference %s: %w", ref.ID, err)
	}
	if e == nil {
		return ir.Entity{}, fmt.Errorf("dereference %s in %s: %w", ref.ID, ref.StorageKey, ErrEntityNotFound)
	}
	return *e, nil
}

// Snapshot returns the snapshot of the store with id, whatever its kind.
func (m *Manager) Snapshot(ctx context.Context, id string) (ir.Snapshot, error) {
	s, err := m.Lookup(id)
	if err != nil {
		return ir.Snapshot{}, err
	}
	snap, ok := s.(interface {
		Snapshot(context.Context) (ir.Snapshot, error)
	})
	if !ok {
		return ir.Snapshot{}, fmt.Errorf("store %q cannot be snapshotted: %w", id, ErrTypeMismatch)
	}
	return snap.Snapshot(ctx)
}

// Restore restores the store with id from a snapshot, whatever its kind.
func (m *Manager) Restore(id string, snap ir.Snapshot) error {
	s, err := m.Lookup(id)
	if err != nil {
		return err
	}
	r, ok := s.(interface{ Restore(ir.Snapshot) error })
	if !ok {
		return fmt.Errorf("store %q cannot be restored: %w", id, ErrTypeMismatch)
	}
	return r.Restore(snap)
}
