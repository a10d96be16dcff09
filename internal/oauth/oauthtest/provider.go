// Package oauthtest provides fake OAuth 1.0a and OAuth2 providers for
// tests.
package oauthtest

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Provider is an httptest server playing both OAuth 1.0a and OAuth2
// provider roles.
//
// OAuth 1.0a: /oauth1/request_token, /oauth1/authorize, /oauth1/access_token.
// OAuth2: /oauth2/authorize, /oauth2/token.
type Provider struct {
	*httptest.Server

	RequestTokens atomic.Int32
	AccessTokens  atomic.Int32
	CodeExchanges atomic.Int32
	Refreshes     atomic.Int32

	// Verifier and Code are what the provider accepts.
	Verifier string
	Code     string

	// ExpiresIn is returned for OAuth2 tokens and, when non-zero, as
	// oauth_expires_in for OAuth 1.0a access tokens.
	ExpiresIn int

	// ConsumerSecret is the OAuth 1.0a consumer secret /api/ verifies
	// signatures with. Access tokens issued here carry AccessSecret.
	ConsumerSecret string

	// FailTokens makes every token endpoint answer 500.
	FailTokens atomic.Bool

	// Gate, when set, is waited on before a request token is issued.
	Gate chan struct{}

	mu           sync.Mutex
	lastCallback string
	lastVerifier string
}

// AccessSecret is the token secret of OAuth 1.0a access tokens.
const AccessSecret = "access-secret"

// NewProvider starts a provider. Close it when done.
func NewProvider() *Provider {
	p := &Provider{Verifier: "verifier-1", Code: "code-1", ExpiresIn: 3600, ConsumerSecret: "cs"}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth1/request_token", p.requestToken)
	mux.HandleFunc("/oauth1/access_token", p.accessToken)
	mux.HandleFunc("/oauth2/token", p.token)
	mux.HandleFunc("/api/", p.api)

	p.Server = httptest.NewServer(mux)

	return p
}

// LastCallback returns the oauth_callback sent with the last request token
// call.
func (p *Provider) LastCallback() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastCallback
}

// LastCodeVerifier returns the PKCE verifier sent with the last code
// exchange.
func (p *Provider) LastCodeVerifier() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastVerifier
}

func oauthParam(r *http.Request, name string) string {
	if v := r.Form.Get(name); v != "" {
		return v
	}

	for _, part := range strings.Split(strings.TrimPrefix(r.Header.Get("Authorization"), "OAuth "), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == name {
			unq, err := url.QueryUnescape(strings.Trim(v, `"`))
			if err == nil {
				return unq
			}
		}
	}

	return ""
}

func (p *Provider) requestToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	if p.Gate != nil {
		<-p.Gate
	}

	p.RequestTokens.Add(1)

	if p.FailTokens.Load() || oauthParam(r, "oauth_signature") == "" {
		http.Error(w, "bad request", http.StatusInternalServerError)
		return
	}

	p.mu.Lock()
	p.lastCallback = oauthParam(r, "oauth_callback")
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
	_, _ = w.Write([]byte(url.Values{
		"oauth_token":              {"request-token"},
		"oauth_token_secret":       {"request-secret"},
		"oauth_callback_confirmed": {"true"},
	}.Encode()))
}

func (p *Provider) accessToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.AccessTokens.Add(1)

	if p.FailTokens.Load() || oauthParam(r, "oauth_token") != "request-token" || oauthParam(r, "oauth_verifier") != p.Verifier {
		http.Error(w, "bad request", http.StatusUnauthorized)
		return
	}

	vals := url.Values{
		"oauth_token":        {"access-token"},
		"oauth_token_secret": {AccessSecret},
	}
	if p.ExpiresIn > 0 {
		vals.Set("oauth_expires_in", strconv.Itoa(p.ExpiresIn))
	}

	w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
	_, _ = w.Write([]byte(vals.Encode()))
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	if p.FailTokens.Load() {
		http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"token_type": "bearer",
		"expires_in": p.ExpiresIn,
	}

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		p.CodeExchanges.Add(1)

		if r.Form.Get("code") != p.Code || r.Form.Get("code_verifier") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))

			return
		}

		p.mu.Lock()
		p.lastVerifier = r.Form.Get("code_verifier")
		p.mu.Unlock()

		resp["access_token"] = "access-2"
		resp["refresh_token"] = "refresh-2"
	case "refresh_token":
		p.Refreshes.Add(1)

		if r.Form.Get("refresh_token") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))

			return
		}

		resp["access_token"] = "access-refreshed"
	default:
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// api echoes the authorization material it received. For OAuth 1.0a
// signed calls it also reports whether the signature verifies.
func (p *Provider) api(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)

	var body url.Values
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/x-www-form-urlencoded" {
		body, _ = url.ParseQuery(string(data))
	}

	echo := map[string]string{
		"method":        r.Method,
		"path":          r.URL.Path,
		"query":         r.URL.RawQuery,
		"body":          string(data),
		"authorization": r.Header.Get("Authorization"),
	}

	if strings.HasPrefix(echo["authorization"], "OAuth ") || r.URL.Query().Has("oauth_signature") {
		echo["signature_valid"] = strconv.FormatBool(VerifyHMACSHA1(r, body, p.ConsumerSecret, AccessSecret))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(echo)
}
