// Package auth handles agent API-key issuance/verification and operator
// bearer-token (Azure AD JWT) verification.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var agentNameSanitize = regexp.MustCompile(`[^a-z0-9]+`)

// NewAPIKey mints a raw API key of the form ak_<agent_name>_<32 hex chars>
// and its sha256 hash, hex-encoded, plus the display prefix stored alongside
// the hash (ak_<agent_name>_ plus the first 8 hex chars — enough to show an
// operator "which key this is" without revealing the rest).
//
// Unlike a salted password hash, the platform must be able to look up an
// agent by the hash of a presented key in O(1) without already knowing which
// row to compare against (ingest sees only the raw key). sha256 is
// deterministic, so the hash itself is usable as a lookup key; this is
// the intended trade-off for bearer API keys, not for passwords.
func NewAPIKey(agentName string) (rawKey, hash, prefix string, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("auth: generate key material: %w", err)
	}
	random := hex.EncodeToString(buf)

	normalized := agentNameSanitize.ReplaceAllString(strings.ToLower(agentName), "_")
	rawKey = fmt.Sprintf("ak_%s_%s", normalized, random)
	hash = HashAPIKey(rawKey)
	prefix = fmt.Sprintf("ak_%s_%s", normalized, random[:8])
	return rawKey, hash, prefix, nil
}

// HashAPIKey returns the deterministic, hex-encoded sha256 digest of an API
// key, used both at issuance time (stored alongside the agent row) and at
// ingest time (to look the agent up by presented key).
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey reports whether rawKey hashes to storedHash, in constant time.
func VerifyAPIKey(rawKey, storedHash string) bool {
	computed := HashAPIKey(rawKey)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
