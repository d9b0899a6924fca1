package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows a future
// algorithm migration without colliding with existing journal rows.
const (
	DomainEntity   = "cellsync/entity/v1"
	DomainSnapshot = "cellsync/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The null separator
// prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntityHash computes the content hash of an entity.
func EntityHash(e Entity) (string, error) {
	canonical, err := MarshalCanonical(entityObject(e))
	if err != nil {
		return "", fmt.Errorf("EntityHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEntity, canonical), nil
}

// SnapshotHash computes the content hash of a snapshot. Model order is
// significant: two snapshots with the same rows in a different insertion
// order hash differently.
func SnapshotHash(s Snapshot) (string, error) {
	rows := make(IRArray, 0, len(s.Model))
	for _, entry := range s.Model {
		keys := make(IRArray, len(entry.Keys))
		for i, k := range entry.Keys {
			keys[i] = IRString(k)
		}
		rows = append(rows, IRObject{
			"id":    IRString(entry.ID),
			"keys":  keys,
			"value": entityObject(entry.Value),
		})
	}
	obj := IRObject{
		"model":   rows,
		"version": IRInt(s.Version),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustSnapshotHash is like SnapshotHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSnapshotHash(s Snapshot) string {
	h, err := SnapshotHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

func entityObject(e Entity) IRObject {
	data := e.Data
	if data == nil {
		data = IRObject{}
	}
	return IRObject{
		"data":        data,
		"id":          IRString(e.ID),
		"storage_key": IRString(e.StorageKey),
	}
}
