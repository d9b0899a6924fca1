// Package ir defines the value and entity types shared by every cellsync
// layer: the sealed IRValue family, entities and references, the serialized
// snapshot forms, and canonical encoding for equality and hashing.
//
// ir imports nothing internal. Key constraints:
//   - No float types anywhere; numbers are int64
//   - All JSON tags use snake_case
//   - Versions are logical counters, never wall-clock timestamps
package ir
