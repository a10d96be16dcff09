// Package crypto provides the default symmetric cipher used to seal
// client-state tokens and cached OAuth credentials.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"
)

const (
	// MinSecretLen is the shortest master secret NewAEAD accepts.
	MinSecretLen = 16

	// keyInfo binds derived keys to this use so the same master secret
	// can safely seed other subkeys later.
	keyInfo = "gadget-auth client state v1"
)

var errShortCiphertext = errors.New("ciphertext too short")

// AEAD seals blobs with XChaCha20-Poly1305 under a key derived from a
// master secret. Output layout: [24-byte nonce][ciphertext+tag].
type AEAD struct {
	aead cipherAEAD
}

// cipherAEAD is the subset of cipher.AEAD used here.
type cipherAEAD interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewAEAD derives a 256-bit key from secret with HKDF-SHA256. The secret
// is normalized to NFKC first so visually identical secrets typed on
// different platforms derive the same key.
func NewAEAD(secret string) (*AEAD, error) {
	secret = norm.NFKC.String(secret)
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("secret must be at least %d characters", MinSecretLen)
	}

	key := make([]byte, chacha20poly1305.KeySize)

	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	c := &AEAD{aead: aead}
	zeroKey(key)

	return c, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *AEAD) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt.
func (c *AEAD) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+chacha20poly1305.Overhead {
		return nil, errShortCiphertext
	}

	pt, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("opening ciphertext: %w", err)
	}

	return pt, nil
}

func zeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
