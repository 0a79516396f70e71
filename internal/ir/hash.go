package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed digests.
// Version suffix enables future algorithm migration.
const (
	DomainVariables = "storyflow/variables/v1"
	DomainStep      = "storyflow/step/v1"
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

// VariablesDigest computes a stable digest of a variable snapshot keyed by
// dotted reference. Two snapshots with equal values produce equal digests
// regardless of map iteration order.
func VariablesDigest(values map[string]Value) (string, error) {
	canonical, err := MarshalCanonical(values)
	if err != nil {
		return "", fmt.Errorf("VariablesDigest: %w", err)
	}
	return hashWithDomain(DomainVariables, canonical), nil
}

// StepDigest identifies one recorded step of a session.
func StepDigest(sessionID string, step int, nodeID ID, variablesDigest string) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"session_id": sessionID,
		"step":       step,
		"node_id":    nodeID,
		"variables":  variablesDigest,
	})
	if err != nil {
		return "", fmt.Errorf("StepDigest: %w", err)
	}
	return hashWithDomain(DomainStep, canonical), nil
}
