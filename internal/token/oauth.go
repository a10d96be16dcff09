package token

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Scheme identifies a delegated-authorization protocol.
type Scheme string

const (
	SchemeOAuth1 Scheme = "OAUTH"
	SchemeOAuth2 Scheme = "OAUTH2"
)

// ExpiryMargin is subtracted from an access token's expiry when deciding
// whether it is still usable, to absorb clock skew and request latency.
const ExpiryMargin = 30 * time.Second

// ParseAuthz maps the inbound authz parameter onto a scheme. The second
// result is false for NONE, empty, and unrecognized values.
func ParseAuthz(authz string) (Scheme, bool) {
	switch strings.ToUpper(strings.TrimSpace(authz)) {
	case "OAUTH":
		return SchemeOAuth1, true
	case "OAUTH2", "SIGNED":
		return SchemeOAuth2, true
	default:
		return "", false
	}
}

// State is the position of an OAuthToken in the handshake.
type State int

const (
	StateNoToken State = iota
	StateRequestToken
	StateAccessToken
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no_token"
	case StateRequestToken:
		return "request_token"
	case StateAccessToken:
		return "access_token"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// OAuthToken is a security token extended with delegated-authorization
// state. It is mutated only by the handler that owns the in-flight
// handshake, and must be treated as read-only once returned for signing.
type OAuthToken struct {
	*Token

	Scheme  Scheme
	Service string

	AccessOrRequestToken string
	TokenSecret          string
	RefreshToken         string
	TokenType            string

	// CodeVerifier is the PKCE verifier of a pending OAuth2 authorization.
	CodeVerifier string

	// StateHandle is the oauthState cache handle of a pending handshake.
	StateHandle string

	Expiry        time.Time
	IsAccessToken bool
}

// NewOAuth builds an OAuthToken with empty token fields, signalling that
// the handshake has to start from scratch.
func NewOAuth(base *Token, scheme Scheme, service string) *OAuthToken {
	return &OAuthToken{
		Token:   base,
		Scheme:  scheme,
		Service: service,
	}
}

// HasToken reports whether a request or access token is present.
func (t *OAuthToken) HasToken() bool {
	return t.AccessOrRequestToken != ""
}

// Expired reports whether an expiring token is past its expiry, allowing
// for ExpiryMargin. Tokens with no expiry never expire.
func (t *OAuthToken) Expired(now time.Time) bool {
	if t.Expiry.IsZero() {
		return false
	}

	return now.Add(ExpiryMargin).After(t.Expiry)
}

// State classifies the token at time now. A pending OAuth2 authorization
// has no request token but carries its state handle, and counts as
// StateRequestToken.
func (t *OAuthToken) State(now time.Time) State {
	switch {
	case t.IsAccessToken && t.HasToken():
		if t.Expired(now) {
			return StateExpired
		}

		return StateAccessToken
	case t.HasToken() || t.StateHandle != "":
		return StateRequestToken
	default:
		return StateNoToken
	}
}

// Clone returns a shallow copy sharing the immutable base token.
func (t *OAuthToken) Clone() *OAuthToken {
	c := *t
	return &c
}

// String redacts secrets.
func (t *OAuthToken) String() string {
	return fmt.Sprintf("OAuthToken{scheme:%s service:%q owner:%q app:%q access:%t token:%s}",
		t.Scheme, t.Service, t.Owner(), t.AppID(), t.IsAccessToken, redact(t.AccessOrRequestToken))
}

func redact(s string) string {
	if s == "" {
		return `""`
	}

	return "REDACTED"
}

// oauthRecord is the serialized form stored in token caches.
type oauthRecord struct {
	Fields    Fields `json:"fields"`
	Anonymous bool   `json:"anonymous,omitempty"`

	Scheme               Scheme    `json:"scheme"`
	Service              string    `json:"service,omitempty"`
	AccessOrRequestToken string    `json:"token,omitempty"`
	TokenSecret          string    `json:"token_secret,omitempty"`
	RefreshToken         string    `json:"refresh_token,omitempty"`
	TokenType            string    `json:"token_type,omitempty"`
	CodeVerifier         string    `json:"code_verifier,omitempty"`
	StateHandle          string    `json:"state_handle,omitempty"`
	Expiry               time.Time `json:"expiry,omitzero"`
	IsAccessToken        bool      `json:"is_access_token"`
}

// Marshal serializes the token for a cache.
func (t *OAuthToken) Marshal() ([]byte, error) {
	var base Fields

	anonymous := false
	if t.Token != nil {
		base = t.Token.fields
		anonymous = t.Token.anonymous
	}

	return json.Marshal(oauthRecord{
		Fields:               base,
		Anonymous:            anonymous,
		Scheme:               t.Scheme,
		Service:              t.Service,
		AccessOrRequestToken: t.AccessOrRequestToken,
		TokenSecret:          t.TokenSecret,
		RefreshToken:         t.RefreshToken,
		TokenType:            t.TokenType,
		CodeVerifier:         t.CodeVerifier,
		StateHandle:          t.StateHandle,
		Expiry:               t.Expiry,
		IsAccessToken:        t.IsAccessToken,
	})
}

// UnmarshalOAuth restores a token serialized with Marshal, attaching c as
// the crypter of the rebuilt base token.
func UnmarshalOAuth(c Crypter, data []byte) (*OAuthToken, error) {
	var rec oauthRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding oauth token: %w", err)
	}

	base := New(c, rec.Fields)
	base.anonymous = rec.Anonymous

	return &OAuthToken{
		Token:                base,
		Scheme:               rec.Scheme,
		Service:              rec.Service,
		AccessOrRequestToken: rec.AccessOrRequestToken,
		TokenSecret:          rec.TokenSecret,
		RefreshToken:         rec.RefreshToken,
		TokenType:            rec.TokenType,
		CodeVerifier:         rec.CodeVerifier,
		StateHandle:          rec.StateHandle,
		Expiry:               rec.Expiry,
		IsAccessToken:        rec.IsAccessToken,
	}, nil
}
