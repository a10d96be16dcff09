// Package token defines the security token bound to one proxied gadget
// call, its encrypted client-state encoding, and the OAuth-extended token
// carried through a delegated-authorization handshake.
package token

import (
	"fmt"
	"sync"
)

//go:generate mockgen -destination=mocks/mock_crypter.go -package=mocks -source=token.go

// Crypter encrypts and decrypts opaque blobs. Implementations must be safe
// for concurrent use.
type Crypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// SecurityToken is the identity bound to a single proxied call.
type SecurityToken interface {
	Owner() string
	Viewer() string
	AppID() string
	AppURL() string
	Domain() string
	Container() string
	ModuleID() string
	IsAnonymous() bool
	ToClientState() (string, error)
}

// Fields are the seven identity values of a token.
type Fields struct {
	Owner     string `json:"owner"`
	Viewer    string `json:"viewer"`
	App       string `json:"app"`
	AppURL    string `json:"app_url"`
	Domain    string `json:"domain"`
	Container string `json:"container"`
	Module    string `json:"module"`
}

// Token is an immutable SecurityToken. The client-state string is
// computed on first use and memoized.
type Token struct {
	fields    Fields
	anonymous bool
	crypter   Crypter

	once     sync.Once
	state    string
	stateErr error
}

// New builds a token from fields. The crypter is used by ToClientState and
// may be nil for tokens that are never serialized.
func New(c Crypter, f Fields) *Token {
	return &Token{fields: f, crypter: c}
}

// NewAnonymous builds a token where owner and viewer are the well-known
// anonymous identity.
func NewAnonymous(c Crypter, anonymousName, gadget string) *Token {
	return &Token{
		fields: Fields{
			Owner:  anonymousName,
			Viewer: anonymousName,
			App:    gadget,
		},
		anonymous: true,
		crypter:   c,
	}
}

func (t *Token) Owner() string     { return t.fields.Owner }
func (t *Token) Viewer() string    { return t.fields.Viewer }
func (t *Token) AppID() string     { return t.fields.App }
func (t *Token) AppURL() string    { return t.fields.AppURL }
func (t *Token) Domain() string    { return t.fields.Domain }
func (t *Token) Container() string { return t.fields.Container }
func (t *Token) ModuleID() string  { return t.fields.Module }

// Fields returns a copy of the token's identity values.
func (t *Token) Fields() Fields { return t.fields }

// IsAnonymous reports whether the token was built for the anonymous
// identity rather than an authenticated caller.
func (t *Token) IsAnonymous() bool { return t.anonymous }

// ToClientState returns the encrypted, base64-encoded form of the token.
// The crypter is invoked at most once per token; later calls return the
// memoized result, including a memoized error.
func (t *Token) ToClientState() (string, error) {
	t.once.Do(func() {
		t.state, t.stateErr = encode(t.crypter, t.fields)
	})

	return t.state, t.stateErr
}

// FromClientState decodes state with the token's crypter. On success it
// returns a new token holding the decoded fields; on any failure it
// returns the receiver unchanged.
func (t *Token) FromClientState(state string) *Token {
	f, err := Decode(t.crypter, state)
	if err != nil {
		return t
	}

	return New(t.crypter, f)
}

// String returns a short description suitable for logs.
func (t *Token) String() string {
	return fmt.Sprintf("Token{owner:%q viewer:%q app:%q}", t.fields.Owner, t.fields.Viewer, t.fields.App)
}
