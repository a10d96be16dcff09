package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "correct-horse-battery-staple"

func TestNewAEAD_ShortSecret(t *testing.T) {
	_, err := NewAEAD("short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}

func TestAEAD_RoundTrip(t *testing.T) {
	c, err := NewAEAD(testSecret)
	require.NoError(t, err)

	ct, err := c.Encrypt([]byte("o:alice:a:app1"))
	require.NoError(t, err)
	assert.NotContains(t, string(ct), "alice")

	pt, err := c.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "o:alice:a:app1", string(pt))
}

func TestAEAD_EmptyPlaintext(t *testing.T) {
	c, err := NewAEAD(testSecret)
	require.NoError(t, err)

	ct, err := c.Encrypt(nil)
	require.NoError(t, err)

	pt, err := c.Decrypt(ct)
	require.NoError(t, err)
	assert.Empty(t, pt)
}

func TestAEAD_FreshNoncePerCall(t *testing.T) {
	c, err := NewAEAD(testSecret)
	require.NoError(t, err)

	a, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestAEAD_TamperedCiphertext(t *testing.T) {
	c, err := NewAEAD(testSecret)
	require.NoError(t, err)

	ct, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0xff
	_, err = c.Decrypt(ct)
	assert.Error(t, err)
}

func TestAEAD_ShortCiphertext(t *testing.T) {
	c, err := NewAEAD(testSecret)
	require.NoError(t, err)

	_, err = c.Decrypt([]byte("tiny"))
	assert.ErrorIs(t, err, errShortCiphertext)
}

func TestAEAD_WrongKey(t *testing.T) {
	a, err := NewAEAD(testSecret)
	require.NoError(t, err)
	b, err := NewAEAD("a-completely-different-secret")
	require.NoError(t, err)

	ct, err := a.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = b.Decrypt(ct)
	assert.Error(t, err)
}

func TestNewAEAD_NormalizesSecret(t *testing.T) {
	// U+FB01 (ligature fi) normalizes to "fi" under NFKC.
	a, err := NewAEAD("passﬁxed-secret-value")
	require.NoError(t, err)
	b, err := NewAEAD("passfixed-secret-value")
	require.NoError(t, err)

	ct, err := a.Encrypt([]byte("x"))
	require.NoError(t, err)
	pt, err := b.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "x", string(pt))
}
