package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cellsync/internal/handle"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// Manifest declares the stores and particles of one arc.
type Manifest struct {
	// Name is the arc id.
	Name string `yaml:"name" json:"name"`

	// ReferenceMode overrides the arc default when set.
	ReferenceMode *bool `yaml:"reference_mode,omitempty" json:"reference_mode,omitempty"`

	Stores    []StoreDecl    `yaml:"stores" json:"stores"`
	Particles []ParticleDecl `yaml:"particles,omitempty" json:"particles,omitempty"`
}

// StoreDecl declares one store and its initial contents.
type StoreDecl struct {
	ID         string `yaml:"id" json:"id"`
	Kind       string `yaml:"kind" json:"kind"`
	References bool   `yaml:"references,omitempty" json:"references,omitempty"`
	EntityType string `yaml:"entity_type,omitempty" json:"entity_type,omitempty"`

	// Seed entities are written before any particle connects. A variable
	// takes at most one.
	Seed []EntityDecl `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// EntityDecl is an entity literal.
type EntityDecl struct {
	ID   string         `yaml:"id" json:"id"`
	Data map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
}

// ParticleDecl declares a particle and the handles it holds.
type ParticleDecl struct {
	ID      string       `yaml:"id" json:"id"`
	Handles []HandleDecl `yaml:"handles" json:"handles"`
}

// HandleDecl binds a particle to a store.
type HandleDecl struct {
	Store string `yaml:"store" json:"store"`

	// Caps is "read", "write" or "read|write". Defaults to read|write.
	Caps string `yaml:"caps,omitempty" json:"caps,omitempty"`

	// Options overlays handle options by name, e.g. notifyDesync: true.
	Options map[string]bool `yaml:"options,omitempty" json:"options,omitempty"`
}

// Error codes reported in LoadError.
const (
	ErrCodeRead        = "M001" // File could not be read
	ErrCodeFormat      = "M002" // Unsupported file extension
	ErrCodeParse       = "M003" // YAML or CUE syntax/decode error
	ErrCodeInvalid     = "M004" // Manifest failed validation
	ErrCodeBuildFailed = "M005" // CUE value did not evaluate
)

// LoadError reports a manifest that could not be loaded.
type LoadError struct {
	Path    string
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Err     error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError reports whether err is a LoadError with the given code.
func IsLoadError(err error, code string) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Code == code
}

// Load reads a manifest from path, choosing the decoder by extension.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Code: ErrCodeRead, Message: err.Error(), Err: err}
	}

	var m *Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json":
		m, err = ParseYAML(data)
	case ".cue":
		m, err = ParseCUE(path, data)
	default:
		return nil, &LoadError{Path: path, Code: ErrCodeFormat, Message: fmt.Sprintf("unsupported manifest extension %q", ext)}
	}
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
			return nil, le
		}
		return nil, err
	}
	return m, nil
}

// ParseYAML decodes and validates a YAML manifest.
func ParseYAML(data []byte) (*Manifest, error) {
	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("parsing YAML: %v", err), Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Err: err}
	}
	return &m, nil
}

// ParseCUE evaluates a CUE manifest. The value must be concrete; it is
// exported as JSON and decoded with unknown fields rejected.
func ParseCUE(filename string, data []byte) (*Manifest, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, cueLoadError(ErrCodeParse, "compiling CUE", err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, "evaluating CUE", err)
	}

	raw, err := value.MarshalJSON()
	if err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, "exporting CUE", err)
	}

	var m Manifest
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&m); err != nil {
		return nil, &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("decoding CUE: %v", err), Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Err: err}
	}
	return &m, nil
}

func cueLoadError(code, what string, err error) *LoadError {
	le := &LoadError{Code: code, Message: fmt.Sprintf("%s: %v", what, err), Err: err}
	if pos := cueerrors.Positions(err); len(pos) > 0 {
		le.Pos = pos[0]
	}
	return le
}

// Validate checks required fields and cross references.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(m.Stores) == 0 {
		return fmt.Errorf("stores list is required and must be non-empty")
	}

	kinds := make(map[string]store.Kind, len(m.Stores))
	for i, s := range m.Stores {
		if s.ID == "" {
			return fmt.Errorf("stores[%d]: id is required", i)
		}
		if _, dup := kinds[s.ID]; dup {
			return fmt.Errorf("stores[%d]: duplicate store id %q", i, s.ID)
		}
		kind, err := store.ParseKind(s.Kind)
		if err != nil {
			return fmt.Errorf("stores[%d]: %w", i, err)
		}
		kinds[s.ID] = kind

		if kind == store.KindVariable && len(s.Seed) > 1 {
			return fmt.Errorf("stores[%d]: a variable takes at most one seed entity, got %d", i, len(s.Seed))
		}
		seen := make(map[string]bool, len(s.Seed))
		for j, e := range s.Seed {
			if e.ID == "" {
				return fmt.Errorf("stores[%d].seed[%d]: id is required", i, j)
			}
			if seen[e.ID] {
				return fmt.Errorf("stores[%d].seed[%d]: duplicate entity id %q", i, j, e.ID)
			}
			seen[e.ID] = true
			if _, err := e.Entity(); err != nil {
				return fmt.Errorf("stores[%d].seed[%d]: %w", i, j, err)
			}
		}
	}

	particles := make(map[string]bool, len(m.Particles))
	for i, p := range m.Particles {
		if p.ID == "" {
			return fmt.Errorf("particles[%d]: id is required", i)
		}
		if particles[p.ID] {
			return fmt.Errorf("particles[%d]: duplicate particle id %q", i, p.ID)
		}
		particles[p.ID] = true

		for j, h := range p.Handles {
			kind, ok := kinds[h.Store]
			if !ok {
				return fmt.Errorf("particles[%d].handles[%d]: unknown store %q", i, j, h.Store)
			}
			if _, err := h.Capabilities(); err != nil {
				return fmt.Errorf("particles[%d].handles[%d]: %w", i, j, err)
			}
			if len(h.Options) > 0 && kind == store.KindBigCollection {
				return fmt.Errorf("particles[%d].handles[%d]: %w", i, j, handle.ErrNotConfigurable)
			}
			opts := proxy.DefaultOptions()
			if err := opts.Apply(h.Options); err != nil {
				return fmt.Errorf("particles[%d].handles[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

// Entity converts the literal to an ir.Entity.
func (e EntityDecl) Entity() (ir.Entity, error) {
	if len(e.Data) == 0 {
		return ir.NewEntity(e.ID, ir.IRObject{}), nil
	}
	v, err := ir.FromAny(e.Data)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("entity %s: %w", e.ID, err)
	}
	return ir.NewEntity(e.ID, v.(ir.IRObject)), nil
}

// Capabilities parses Caps, defaulting to read|write.
func (h HandleDecl) Capabilities() (handle.Capabilities, error) {
	if h.Caps == "" {
		return handle.ReadWrite, nil
	}
	return handle.ParseCapabilities(h.Caps)
}
