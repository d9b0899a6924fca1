package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cellsync/internal/manifest"
)

// Scenario defines a scripted storage scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ReferenceMode overrides the arc default when set.
	ReferenceMode *bool `yaml:"reference_mode,omitempty"`

	// AutoSync answers synchronize requests as they arrive instead of
	// waiting for sync steps.
	AutoSync bool `yaml:"auto_sync,omitempty"`

	Stores    []manifest.StoreDecl    `yaml:"stores"`
	Particles []manifest.ParticleDecl `yaml:"particles,omitempty"`

	Steps []Step `yaml:"steps"`

	// Expect is the exact expected trace. Omit to skip the comparison.
	Expect []string `yaml:"expect,omitempty"`

	// Assertions validate the trace and final state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scenario action. Exactly one of Store, Remove, Set, Clear,
// Sync, Write or Idle is set.
type Step struct {
	Store  string     `yaml:"store,omitempty"`
	Remove string     `yaml:"remove,omitempty"`
	Set    string     `yaml:"set,omitempty"`
	Clear  string     `yaml:"clear,omitempty"`
	Sync   string     `yaml:"sync,omitempty"`
	Write  *WriteStep `yaml:"write,omitempty"`
	Idle   bool       `yaml:"idle,omitempty"`

	// Entity is the value for store and set.
	Entity *manifest.EntityDecl `yaml:"entity,omitempty"`

	// ID is the entity removed by remove.
	ID string `yaml:"id,omitempty"`

	// Keys are the witness keys for store and remove. Store defaults to
	// one key derived from the entity id; remove defaults to every key.
	Keys []string `yaml:"keys,omitempty"`

	// Version pins the version of the resulting event.
	Version int64 `yaml:"version,omitempty"`

	// Originator stamps the event as written by that particle.
	Originator string `yaml:"originator,omitempty"`

	// Drop withholds the resulting event from every proxy.
	Drop bool `yaml:"drop,omitempty"`
}

// WriteStep is a write through a particle's handle.
type WriteStep struct {
	Particle string               `yaml:"particle"`
	Store    string               `yaml:"store"`
	Op       string               `yaml:"op"`
	Entity   *manifest.EntityDecl `yaml:"entity,omitempty"`
	ID       string               `yaml:"id,omitempty"`
	Drop     bool                 `yaml:"drop,omitempty"`
}

// Handle write operations.
const (
	OpStore  = "store"
	OpRemove = "remove"
	OpSet    = "set"
	OpClear  = "clear"
)

// Assertion validates the trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Line appears in the trace
	// - "trace_order": Lines appear in order, not necessarily adjacent
	// - "trace_count": Line appears exactly Count times
	// - "final_state": Store ends at Version (if set) holding IDs (if set)
	Type string `yaml:"type"`

	Line  string   `yaml:"line,omitempty"`
	Lines []string `yaml:"lines,omitempty"`
	Count int      `yaml:"count,omitempty"`

	Store   string   `yaml:"store,omitempty"`
	Version *int64   `yaml:"version,omitempty"`
	IDs     []string `yaml:"ids,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Manifest returns the arc manifest the scenario declares.
func (s *Scenario) Manifest() *manifest.Manifest {
	return &manifest.Manifest{
		Name:          s.Name,
		ReferenceMode: s.ReferenceMode,
		Stores:        s.Stores,
		Particles:     s.Particles,
	}
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir in lexical
// order. A non-empty filter is a glob matched against the file name
// without its extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if err := s.Manifest().Validate(); err != nil {
		return err
	}

	stores := make(map[string]bool, len(s.Stores))
	for _, st := range s.Stores {
		stores[st.ID] = true
	}
	handles := make(map[string]bool)
	for _, p := range s.Particles {
		for _, h := range p.Handles {
			handles[p.ID+"/"+h.Store] = true
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step, stores, handles); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, stores); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

// verb returns the single action a step names.
func (s Step) verb() (string, string, error) {
	var verbs []string
	target := ""
	add := func(name, store string) {
		if store != "" {
			verbs = append(verbs, name)
			target = store
		}
	}
	add("store", s.Store)
	add("remove", s.Remove)
	add("set", s.Set)
	add("clear", s.Clear)
	add("sync", s.Sync)
	if s.Write != nil {
		verbs = append(verbs, "write")
		target = s.Write.Store
	}
	if s.Idle {
		verbs = append(verbs, "idle")
	}
	switch len(verbs) {
	case 0:
		return "", "", fmt.Errorf("no action (want one of store, remove, set, clear, sync, write, idle)")
	case 1:
		return verbs[0], target, nil
	default:
		return "", "", fmt.Errorf("more than one action: %s", strings.Join(verbs, ", "))
	}
}

func validateStep(s Step, stores, handles map[string]bool) error {
	verb, target, err := s.verb()
	if err != nil {
		return err
	}
	if verb != "idle" && !stores[target] {
		return fmt.Errorf("%s: unknown store %q", verb, target)
	}

	switch verb {
	case "store", "set":
		if s.Entity == nil || s.Entity.ID == "" {
			return fmt.Errorf("%s: entity with id is required", verb)
		}
	case "remove":
		if s.ID == "" {
			return fmt.Errorf("remove: id is required")
		}
	case "write":
		w := s.Write
		if !handles[w.Particle+"/"+w.Store] {
			return fmt.Errorf("write: particle %q has no handle on %q", w.Particle, w.Store)
		}
		switch w.Op {
		case OpStore, OpSet:
			if w.Entity == nil {
				return fmt.Errorf("write %s: entity is required", w.Op)
			}
		case OpRemove:
			if w.ID == "" {
				return fmt.Errorf("write remove: id is required")
			}
		case OpClear:
		default:
			return fmt.Errorf("write: unknown op %q (want store, remove, set or clear)", w.Op)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(a Assertion, stores map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertTraceContains:
		if a.Line == "" {
			return fmt.Errorf("line is required for trace_contains")
		}
	case AssertTraceOrder:
		if len(a.Lines) < 2 {
			return fmt.Errorf("at least two lines are required for trace_order")
		}
	case AssertTraceCount:
		if a.Line == "" {
			return fmt.Errorf("line is required for trace_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for trace_count")
		}
	case AssertFinalState:
		if !stores[a.Store] {
			return fmt.Errorf("final_state: unknown store %q", a.Store)
		}
		if a.Version == nil && a.IDs == nil {
			return fmt.Errorf("final_state: version or ids is required")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
