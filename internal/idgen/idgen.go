// Package idgen generates random prefixed identifiers for sessions, archived calls and alerts.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Prefixes make IDs self-describing in logs and API responses.
const (
	PrefixSession = "sess_"
	PrefixCall    = "call_"
	PrefixAlert   = "alrt_"
	PrefixRequest = "req_"
)

// WithPrefix returns prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

func Session() string { return WithPrefix(PrefixSession) }
func Call() string    { return WithPrefix(PrefixCall) }
func Alert() string   { return WithPrefix(PrefixAlert) }
func Request() string { return WithPrefix(PrefixRequest) }
