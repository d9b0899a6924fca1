// Package ids mints the opaque tokens cellsync needs: barrier tokens,
// CRDT witness keys, listener subscription tokens, and cursor-free entity
// ids for handles that store anonymous entities.
package ids

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator mints unique string tokens.
// Implemented by UUIDv7Generator (production), SequenceGenerator and
// FixedGenerator (tests).
type Generator interface {
	New() string
}

// UUIDv7Generator generates time-sortable UUIDv7 tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, so barriers and
// witness keys minted later sort later in journal dumps.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// New creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns prefix-1, prefix-2, ... in order.
//
// Thread-safety: SequenceGenerator is safe for concurrent use via internal
// mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequenceGenerator creates a generator whose first token is prefix-1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// New returns the next token in the sequence.
func (g *SequenceGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Reset restarts the sequence so the next token is prefix-1 again.
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}

// FixedGenerator returns predetermined tokens for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
//
//	gen := NewFixedGenerator("b-1", "b-2")
//	gen.New() // "b-1"
//	gen.New() // "b-2"
//	gen.New() // panic: all tokens exhausted
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// New returns the next predetermined token.
//
// Panics if all tokens have been consumed, to catch a test that mints more
// tokens than it declared.
func (g *FixedGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
