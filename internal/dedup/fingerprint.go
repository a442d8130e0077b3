package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fields are the request fields that decide dedup identity: the normalized
// model id, messages, max_tokens, temperature, and seed. Go's encoding/json
// always emits struct fields in declaration order, so two logically
// identical requests canonicalize to the same bytes regardless of the order
// their JSON arrived in.
type Fields struct {
	Model       string `json:"model"`
	Messages    any    `json:"messages"`
	MaxTokens   int    `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Seed        int64  `json:"seed,omitempty"`
}

// Compute returns the hex SHA-256 fingerprint of fields's canonical JSON
// encoding.
func Compute(fields Fields) string {
	b, _ := json.Marshal(fields)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
