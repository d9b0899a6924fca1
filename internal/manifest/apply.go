package manifest

import (
	"context"
	"fmt"

	"github.com/roach88/cellsync/internal/arc"
	"github.com/roach88/cellsync/internal/handle"
	"github.com/roach88/cellsync/internal/store"
)

// ParticleFactory builds the particle for a declared particle id.
type ParticleFactory func(id string) handle.Particle

// ArcOptions returns the arc options the manifest implies.
func (m *Manifest) ArcOptions() []arc.Option {
	var opts []arc.Option
	if m.ReferenceMode != nil {
		opts = append(opts, arc.WithReferenceMode(*m.ReferenceMode))
	}
	return opts
}

// Declare creates every store on a and writes its seed entities.
// Store kinds are assumed valid; call Validate first for untrusted input.
func (m *Manifest) Declare(ctx context.Context, a *arc.Arc) error {
	for _, decl := range m.Stores {
		kind, err := store.ParseKind(decl.Kind)
		if err != nil {
			return fmt.Errorf("store %s: %w", decl.ID, err)
		}
		spec := arc.StoreSpec{
			ID:         decl.ID,
			Kind:       kind,
			References: decl.References,
			EntityType: decl.EntityType,
		}
		if err := a.DeclareStore(ctx, spec); err != nil {
			return err
		}
		if err := seed(ctx, a.Stores(), decl, kind); err != nil {
			return fmt.Errorf("seed %s: %w", decl.ID, err)
		}
	}
	return nil
}

// SeedKey is the witness key seed entities are stored under.
func SeedKey(entityID string) string {
	return "seed:" + entityID
}

func seed(ctx context.Context, m *store.Manager, decl StoreDecl, kind store.Kind) error {
	if len(decl.Seed) == 0 {
		return nil
	}
	switch kind {
	case store.KindVariable:
		v, err := m.Variable(decl.ID)
		if err != nil {
			return err
		}
		e, err := decl.Seed[0].Entity()
		if err != nil {
			return err
		}
		return v.Set(ctx, e)

	case store.KindCollection:
		c, err := m.Collection(decl.ID)
		if err != nil {
			return err
		}
		for _, ed := range decl.Seed {
			e, err := ed.Entity()
			if err != nil {
				return err
			}
			if err := c.Store(ctx, e, []string{SeedKey(e.ID)}); err != nil {
				return err
			}
		}
		return nil

	case store.KindBigCollection:
		b, err := m.BigCollection(decl.ID)
		if err != nil {
			return err
		}
		for _, ed := range decl.Seed {
			e, err := ed.Entity()
			if err != nil {
				return err
			}
			if err := b.Store(ctx, e, []string{SeedKey(e.ID)}); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported store kind %s", kind)
}

// Connection is one connected handle.
type Connection struct {
	Particle handle.Particle
	Handle   handle.Handle
}

// Connect binds every declared particle's handles on a, in declaration
// order. Callbacks from the initial synchronize are delivered by the next
// a.Idle.
func (m *Manifest) Connect(ctx context.Context, a *arc.Arc, factory ParticleFactory) ([]Connection, error) {
	var conns []Connection
	for _, pd := range m.Particles {
		p := factory(pd.ID)
		for _, hd := range pd.Handles {
			caps, err := hd.Capabilities()
			if err != nil {
				return conns, fmt.Errorf("particle %s: %w", pd.ID, err)
			}
			var opts []arc.ConnectOption
			if len(hd.Options) > 0 {
				opts = append(opts, arc.WithFlags(hd.Options))
			}
			h, err := a.Connect(ctx, p, hd.Store, caps, opts...)
			if err != nil {
				return conns, err
			}
			conns = append(conns, Connection{Particle: p, Handle: h})
		}
	}
	return conns, nil
}

// Build creates an arc from the manifest, declares and seeds its stores,
// and connects its particles. extra options are applied after the
// manifest's own.
func (m *Manifest) Build(ctx context.Context, factory ParticleFactory, extra ...arc.Option) (*arc.Arc, []Connection, error) {
	a := arc.New(m.Name, append(m.ArcOptions(), extra...)...)
	if err := m.Declare(ctx, a); err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	conns, err := m.Connect(ctx, a, factory)
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return a, conns, nil
}
