package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainDecisions = "guflow/decisions/v1"
	DomainHistory   = "guflow/history/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DecisionsHash hashes a decision batch given in canonical form.
// The batch is the list of canonical decision objects in emission order;
// order is significant.
func DecisionsHash(batch []any) (string, error) {
	canonical, err := MarshalCanonical(batch)
	if err != nil {
		return "", fmt.Errorf("DecisionsHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDecisions, canonical), nil
}

// HistoryHash hashes a history prefix given in canonical form.
func HistoryHash(events []any) (string, error) {
	canonical, err := MarshalCanonical(events)
	if err != nil {
		return "", fmt.Errorf("HistoryHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainHistory, canonical), nil
}
