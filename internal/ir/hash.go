package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainTransaction = "causeway/transaction/v1"
	DomainSnapshot    = "causeway/snapshot/v1"
	DomainCatalog     = "causeway/catalog/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TransactionID computes the content-addressed ID of a captured transaction.
// The same capture (phase, position in the chain, kind and original state)
// always yields the same ID, so journal rows and golden traces are stable
// across runs.
func TransactionID(phaseID string, seq int64, kind string, original Snapshot) (string, error) {
	obj := IRObject{
		"phase_id": IRString(phaseID),
		"seq":      IRInt(seq),
		"kind":     IRString(kind),
		"original": original.Value(),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("TransactionID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTransaction, canonical), nil
}

// SnapshotDigest hashes a snapshot's canonical form. Two snapshots with the
// same digest describe identical state.
func SnapshotDigest(s Snapshot) (string, error) {
	canonical, err := MarshalCanonical(s.Value())
	if err != nil {
		return "", fmt.Errorf("SnapshotDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// CatalogHash identifies a compiled phase catalog.
func CatalogHash(specs []PhaseSpec) (string, error) {
	arr := make(IRArray, len(specs))
	for i, s := range specs {
		arr[i] = s.Value()
	}
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("CatalogHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCatalog, canonical), nil
}

// MustTransactionID is like TransactionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTransactionID(phaseID string, seq int64, kind string, original Snapshot) string {
	id, err := TransactionID(phaseID, seq, kind, original)
	if err != nil {
		panic(err)
	}
	return id
}
