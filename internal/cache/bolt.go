package cache

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/gadget-auth/internal/token"
	bolt "go.etcd.io/bbolt"
)

const (
	// cacheDirPerm is the permission mode for the cache directory.
	cacheDirPerm = fs.FileMode(0o700)

	// cacheFilePerm is the permission mode for the cache database file.
	cacheFilePerm = fs.FileMode(0o600)

	// cacheOpenTimeout is the maximum time to wait for the bolt database lock.
	cacheOpenTimeout = 5 * time.Second
)

var tokensBucket = []byte("oauth_tokens")

// envelope is the plaintext sealed into each bolt value.
type envelope struct {
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
	Token     json.RawMessage `json:"token"`
}

// Bolt is a Cache persisted in a bbolt database. Values are sealed with
// the crypter so token secrets never reach disk in plaintext.
type Bolt struct {
	db      *bolt.DB
	crypter token.Crypter
	now     func() time.Time
}

// OpenBolt opens (creating if needed) the database at path.
func OpenBolt(path string, c token.Crypter) (*Bolt, error) {
	if c == nil {
		return nil, fmt.Errorf("bolt cache requires a crypter")
	}

	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bolt.Open(path, cacheFilePerm, &bolt.Options{Timeout: cacheOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache db: %w", err)
	}

	return &Bolt{db: db, crypter: c, now: time.Now}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Get returns the token stored under key, or nil if absent or expired.
func (b *Bolt) Get(key Key) (*token.OAuthToken, error) {
	var sealed []byte

	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tokensBucket).Get([]byte(key))
		if v != nil {
			sealed = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil || sealed == nil {
		return nil, err
	}

	env, err := b.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	if !env.ExpiresAt.IsZero() && b.now().After(env.ExpiresAt) {
		return nil, nil
	}

	return token.UnmarshalOAuth(b.crypter, env.Token)
}

// Put seals and stores tok under key. A zero ttl never expires.
func (b *Bolt) Put(key Key, tok *token.OAuthToken, ttl time.Duration) error {
	data, err := tok.Marshal()
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	env := envelope{Token: data}
	if ttl > 0 {
		env.ExpiresAt = b.now().Add(ttl)
	}

	plain, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	sealed, err := b.crypter.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("sealing cache entry: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Put([]byte(key), sealed)
	})
}

// Delete removes key.
func (b *Bolt) Delete(key Key) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(key))
	})
}

// Sweep removes expired entries and entries that no longer decrypt, for
// example after the secret was rotated. Returns the number removed.
func (b *Bolt) Sweep() (int, error) {
	now := b.now()
	removed := 0

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(tokensBucket)

		var stale [][]byte

		err := bkt.ForEach(func(k, v []byte) error {
			env, err := b.open(v)
			if err != nil || (!env.ExpiresAt.IsZero() && now.After(env.ExpiresAt)) {
				stale = append(stale, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}

		removed = len(stale)

		return nil
	})

	return removed, err
}

func (b *Bolt) open(sealed []byte) (envelope, error) {
	var env envelope

	plain, err := b.crypter.Decrypt(sealed)
	if err != nil {
		return env, fmt.Errorf("unsealing: %w", err)
	}

	if err := json.Unmarshal(plain, &env); err != nil {
		return env, fmt.Errorf("decoding envelope: %w", err)
	}

	return env, nil
}
