// Package auth hashes and matches bearer tokens without keeping them in plain text.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns the hex SHA-256 of the trimmed key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Match reports whether token hashes to one of hashes. Every candidate is compared
// in constant time.
func Match(token string, hashes []string) bool {
	got := []byte(HashKey(token))
	matched := false
	for _, h := range hashes {
		if subtle.ConstantTimeCompare(got, []byte(strings.ToLower(strings.TrimSpace(h)))) == 1 {
			matched = true
		}
	}
	return matched
}

// Principal names a caller by a short prefix of its token hash.
func Principal(token string) string {
	return "tok:" + HashKey(token)[:12]
}
