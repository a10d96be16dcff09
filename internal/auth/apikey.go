package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const (
	// APIKeyPrefix distinguishes gadget-auth API keys from other bearer
	// credentials.
	APIKeyPrefix = "ga_"

	// APIKeyMinLen is the prefix plus 32 hex characters (128 bits).
	APIKeyMinLen = len(APIKeyPrefix) + 32
)

// APIKey binds a bearer key to the principal it authenticates.
type APIKey struct {
	UserID string
	Key    string
}

// APIKeys is an immutable set of configured keys. Keys are held as
// SHA-256 digests and compared in constant time.
type APIKeys struct {
	entries []hashedKey
}

type hashedKey struct {
	userID string
	digest [sha256.Size]byte
}

// NewAPIKeys builds a key set.
func NewAPIKeys(keys []APIKey) *APIKeys {
	ks := &APIKeys{entries: make([]hashedKey, 0, len(keys))}
	for _, k := range keys {
		ks.entries = append(ks.entries, hashedKey{
			userID: k.UserID,
			digest: sha256.Sum256([]byte(k.Key)),
		})
	}

	return ks
}

// Validate returns the principal owning key, or "" and false.
func (ks *APIKeys) Validate(key string) (string, bool) {
	if ks == nil || key == "" {
		return "", false
	}

	digest := sha256.Sum256([]byte(key))

	userID, found := "", false
	for _, e := range ks.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 {
			userID, found = e.userID, true
		}
	}

	return userID, found
}

// Len returns the number of configured keys.
func (ks *APIKeys) Len() int {
	if ks == nil {
		return 0
	}

	return len(ks.entries)
}

// GenerateAPIKey returns a fresh key with the expected prefix.
func GenerateAPIKey() string {
	return APIKeyPrefix + RandomHex(16)
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
