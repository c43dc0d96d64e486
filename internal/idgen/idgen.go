// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Prefixes used across the engine. Kept in one place so log greps and
// support tooling can rely on them.
const (
	TransactionPrefix = "txn_"
	DisputePrefix     = "dsp_"
	ActionPrefix      = "act_"
	MessagePrefix     = "msg_"
	EventPrefix       = "evt_"
)

// WithPrefix generates a random ID with a prefix (e.g. "txn_", "dsp_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
