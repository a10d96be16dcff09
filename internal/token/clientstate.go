package token

import (
	"encoding/base64"
	"fmt"
	"strings"

	apperrors "github.com/alexjbarnes/gadget-auth/internal/errors"
)

const (
	fieldSep = ":"

	// fieldCount is the number of key/value pairs in a client state.
	fieldCount = 7
)

// fieldKeys is the fixed key order of the client-state plaintext.
var fieldKeys = [fieldCount]string{"o", "a", "v", "d", "u", "m", "c"}

func fieldValues(f Fields) [fieldCount]string {
	return [fieldCount]string{f.Owner, f.App, f.Viewer, f.Domain, f.AppURL, f.Module, f.Container}
}

// plaintext renders the colon-delimited key/value sequence.
func plaintext(f Fields) (string, error) {
	values := fieldValues(f)
	parts := make([]string, 0, 2*fieldCount)

	for i, v := range values {
		if strings.Contains(v, fieldSep) {
			return "", fmt.Errorf("%w: field %q contains %q", apperrors.ErrInvalidClientState, fieldKeys[i], fieldSep)
		}

		parts = append(parts, fieldKeys[i], v)
	}

	return strings.Join(parts, fieldSep), nil
}

func encode(c Crypter, f Fields) (string, error) {
	if c == nil {
		return "", fmt.Errorf("%w: no crypter configured", apperrors.ErrInvalidClientState)
	}

	pt, err := plaintext(f)
	if err != nil {
		return "", err
	}

	ct, err := c.Encrypt([]byte(pt))
	if err != nil {
		return "", fmt.Errorf("encrypting client state: %w", err)
	}

	if ct == nil {
		return "", fmt.Errorf("%w: crypter returned no ciphertext", apperrors.ErrInvalidClientState)
	}

	return base64.URLEncoding.EncodeToString(ct), nil
}

// Decode parses an encrypted client state. It fails when the value is not
// base64, does not decrypt, or does not hold exactly seven pairs in the
// expected key order. No partial result is ever returned.
func Decode(c Crypter, state string) (Fields, error) {
	if c == nil {
		return Fields{}, fmt.Errorf("%w: no crypter configured", apperrors.ErrInvalidClientState)
	}

	ct, err := decodeBase64(state)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: decoding base64: %v", apperrors.ErrInvalidClientState, err)
	}

	pt, err := decrypt(c, ct)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: decrypting: %v", apperrors.ErrInvalidClientState, err)
	}

	return parsePlaintext(string(pt))
}

// decrypt shields callers from a crypter that panics on malformed input.
func decrypt(c Crypter, ct []byte) (pt []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crypter panic: %v", r)
		}
	}()

	return c.Decrypt(ct)
}

func parsePlaintext(pt string) (Fields, error) {
	parts := strings.Split(pt, fieldSep)
	if len(parts) != 2*fieldCount {
		return Fields{}, fmt.Errorf("%w: expected %d pairs, got %d parts", apperrors.ErrInvalidClientState, fieldCount, len(parts))
	}

	var values [fieldCount]string

	for i := 0; i < fieldCount; i++ {
		if parts[2*i] != fieldKeys[i] {
			return Fields{}, fmt.Errorf("%w: unexpected key %q at pair %d", apperrors.ErrInvalidClientState, parts[2*i], i)
		}

		values[i] = parts[2*i+1]
	}

	return Fields{
		Owner:     values[0],
		App:       values[1],
		Viewer:    values[2],
		Domain:    values[3],
		AppURL:    values[4],
		Module:    values[5],
		Container: values[6],
	}, nil
}

// decodeBase64 accepts both the URL and standard alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	var firstErr error

	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawURLEncoding,
		base64.RawStdEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}

		if firstErr == nil {
			firstErr = err
		}
	}

	return nil, firstErr
}
