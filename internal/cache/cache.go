// Package cache stores in-flight and completed OAuth tokens. Entries are
// keyed either by (gadget, owner, service) or by an opaque oauthState
// handle. Writes are last-writer-wins per key.
package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/alexjbarnes/gadget-auth/internal/token"
)

// Key identifies a cache entry.
type Key string

const (
	tokenPrefix = "token/"
	statePrefix = "state/"
)

// TokenKey returns the key of the authoritative token for an owner of a
// gadget against one service. Each component is length-prefixed, so
// distinct triples never produce the same key.
func TokenKey(gadget, owner, service string) Key {
	var b strings.Builder

	b.WriteString(tokenPrefix)

	for _, part := range []string{gadget, owner, service} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}

	return Key(b.String())
}

// StateKey returns the key of a pending handshake addressed by an
// oauthState handle.
func StateKey(handle string) Key {
	return Key(statePrefix + handle)
}

// Cache is a concurrency-safe token store. Get returns nil, nil when the
// key is absent or expired.
type Cache interface {
	Get(key Key) (*token.OAuthToken, error)
	Put(key Key, tok *token.OAuthToken, ttl time.Duration) error
	Delete(key Key) error
}
