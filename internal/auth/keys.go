// Package auth handles API keys of the status API.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// KeySet holds the hashes of the accepted API keys.
type KeySet struct {
	hashes []string
}

// NewKeySet hashes keys. Empty keys are ignored.
func NewKeySet(keys []string) *KeySet {
	ks := &KeySet{}
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		ks.hashes = append(ks.hashes, HashKey(k))
	}
	return ks
}

// Empty reports whether no key is configured.
func (ks *KeySet) Empty() bool {
	return ks == nil || len(ks.hashes) == 0
}

// Match returns the hash of key if it is accepted. Every configured hash
// is compared so the time taken does not depend on which key matched.
func (ks *KeySet) Match(key string) (string, bool) {
	if ks.Empty() {
		return "", false
	}
	h := HashKey(key)
	matched := 0
	for _, candidate := range ks.hashes {
		matched |= subtle.ConstantTimeCompare([]byte(h), []byte(candidate))
	}
	return h, matched == 1
}
