package oauth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/gadget-auth/internal/cache"
	"github.com/alexjbarnes/gadget-auth/internal/consumer"
	apperrors "github.com/alexjbarnes/gadget-auth/internal/errors"
	"github.com/alexjbarnes/gadget-auth/internal/oauth/oauthtest"
	"github.com/alexjbarnes/gadget-auth/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testApp      = "http://gadgets.example.com/photos.xml"
	testCallback = "https://container.example.com/gadgets/oauthcallback"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	provider *oauthtest.Provider
	cache    *cache.Memory
	opts     Options
}

func newFixture(t *testing.T, location consumer.ParamLocation) *fixture {
	t.Helper()

	p := oauthtest.NewProvider()
	t.Cleanup(p.Close)

	reg, err := consumer.New(
		[]consumer.OAuth1Consumer{{
			App:             testApp,
			Service:         "photos",
			ConsumerKey:     "ck",
			ConsumerSecret:  "cs",
			RequestTokenURL: p.URL + "/oauth1/request_token",
			AuthorizeURL:    p.URL + "/oauth1/authorize",
			AccessTokenURL:  p.URL + "/oauth1/access_token",
			ParamLocation:   location,
		}},
		[]consumer.OAuth2Consumer{{
			App:           testApp,
			Service:       "calendar",
			ClientID:      "client-1",
			ClientSecret:  "client-secret",
			AuthURL:       p.URL + "/oauth2/authorize",
			TokenURL:      p.URL + "/oauth2/token",
			Scopes:        []string{"read"},
			ParamLocation: location,
		}},
	)
	require.NoError(t, err)

	mem := cache.NewMemory()
	t.Cleanup(mem.Stop)

	return &fixture{
		provider: p,
		cache:    mem,
		opts: Options{
			Consumers:   reg,
			Cache:       mem,
			CallbackURL: testCallback,
			StateTTL:    time.Minute,
			HTTPClient:  p.Client(),
			Logger:      testLogger(),
		},
	}
}

func freshToken(scheme token.Scheme, service string) *token.OAuthToken {
	base := token.New(nil, token.Fields{Owner: "alice", Viewer: "alice", App: testApp})
	return token.NewOAuth(base, scheme, service)
}

func accessToken(scheme token.Scheme, service string) *token.OAuthToken {
	tok := freshToken(scheme, service)
	tok.AccessOrRequestToken = "access-token"
	tok.TokenSecret = "access-secret"
	tok.TokenType = "Bearer"
	tok.IsAccessToken = true
	return tok
}

// --- Selection ---

func TestCanHandle_Partition(t *testing.T) {
	h1 := NewOAuth1Handler(Options{})
	h2 := NewOAuth2Handler(Options{})

	tests := []struct {
		name  string
		authz string
		tok   *token.OAuthToken
		want1 bool
		want2 bool
	}{
		{"oauth1 token", "", freshToken(token.SchemeOAuth1, ""), true, false},
		{"oauth2 token", "", freshToken(token.SchemeOAuth2, ""), false, true},
		{"token scheme beats authz", "OAUTH", freshToken(token.SchemeOAuth2, ""), false, true},
		{"unknown scheme", "OAUTH", freshToken("SAML", ""), false, false},
		{"nil token oauth", "oauth", nil, true, false},
		{"nil token signed", "SIGNED", nil, false, true},
		{"nil token none", "NONE", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want1, h1.CanHandle(tt.authz, tt.tok))
			assert.Equal(t, tt.want2, h2.CanHandle(tt.authz, tt.tok))
		})
	}
}

func TestNewHandlers_RejectsDuplicateScheme(t *testing.T) {
	_, err := NewHandlers(NewOAuth1Handler(Options{}), NewOAuth1Handler(Options{}))
	assert.ErrorIs(t, err, apperrors.ErrAmbiguousHandler)
}

func TestSelect(t *testing.T) {
	h1 := NewOAuth1Handler(Options{})
	h2 := NewOAuth2Handler(Options{})
	hs, err := NewHandlers(h1, h2)
	require.NoError(t, err)

	got, err := hs.Select("", freshToken(token.SchemeOAuth1, ""))
	require.NoError(t, err)
	assert.Same(t, h1, got)

	got, err = hs.Select("OAUTH2", nil)
	require.NoError(t, err)
	assert.Same(t, h2, got)

	_, err = hs.Select("", freshToken("SAML", ""))
	assert.ErrorIs(t, err, apperrors.ErrNoHandler)
}

type greedyHandler struct{ *OAuth2Handler }

func (greedyHandler) Scheme() token.Scheme { return "GREEDY" }

func (greedyHandler) CanHandle(string, *token.OAuthToken) bool { return true }

func TestSelect_Ambiguous(t *testing.T) {
	hs, err := NewHandlers(NewOAuth1Handler(Options{}), greedyHandler{NewOAuth2Handler(Options{})})
	require.NoError(t, err)

	_, err = hs.Select("OAUTH", nil)
	assert.ErrorIs(t, err, apperrors.ErrAmbiguousHandler)
}

// --- OAuth 1.0a ---

func TestOAuth1_Handshake(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth1Handler(f.opts)
	ctx := context.Background()

	cont, err := h.ProcessRequestToken(ctx, freshToken(token.SchemeOAuth1, "photos"))
	require.NoError(t, err)
	require.NotEmpty(t, cont.State)
	assert.True(t, strings.HasPrefix(cont.ApprovalURL, f.provider.URL+"/oauth1/authorize?"))
	assert.Contains(t, cont.ApprovalURL, "oauth_token=request-token")
	assert.Equal(t, testCallback+"?oauthState="+cont.State, f.provider.LastCallback())

	pending, err := f.cache.Get(cache.StateKey(cont.State))
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, token.StateRequestToken, pending.State(time.Now()))
	assert.Equal(t, "request-secret", pending.TokenSecret)

	access, err := h.ProcessCallback(ctx, pending, url.Values{
		"oauthState":     {cont.State},
		"oauth_token":    {"request-token"},
		"oauth_verifier": {"verifier-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "access-token", access.AccessOrRequestToken)
	assert.Equal(t, "access-secret", access.TokenSecret)
	assert.True(t, access.IsAccessToken)
	assert.Empty(t, access.StateHandle)
	assert.WithinDuration(t, time.Now().Add(time.Hour), access.Expiry, time.Minute)

	cached, err := f.cache.Get(cache.TokenKey(testApp, "alice", "photos"))
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "access-token", cached.AccessOrRequestToken)

	gone, err := f.cache.Get(cache.StateKey(cont.State))
	require.NoError(t, err)
	assert.Nil(t, gone, "state handle is single use")
}

func TestOAuth1_UnknownConsumer(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth1Handler(f.opts)

	_, err := h.ProcessRequestToken(context.Background(), freshToken(token.SchemeOAuth1, "unknown"))
	assert.ErrorIs(t, err, apperrors.ErrConsumerNotFound)
}

func TestOAuth1_RequestTokenEndpointFailure(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	f.provider.FailTokens.Store(true)
	h := NewOAuth1Handler(f.opts)

	_, err := h.ProcessRequestToken(context.Background(), freshToken(token.SchemeOAuth1, "photos"))
	assert.ErrorIs(t, err, apperrors.ErrTokenEndpoint)
}

func TestOAuth1_CallbackWrongVerifier(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth1Handler(f.opts)

	cont, err := h.ProcessRequestToken(context.Background(), freshToken(token.SchemeOAuth1, "photos"))
	require.NoError(t, err)
	pending, err := f.cache.Get(cache.StateKey(cont.State))
	require.NoError(t, err)

	_, err = h.ProcessCallback(context.Background(), pending, url.Values{"oauth_verifier": {"wrong"}})
	assert.ErrorIs(t, err, apperrors.ErrTokenEndpoint)

	cached, err := f.cache.Get(cache.TokenKey(testApp, "alice", "photos"))
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestOAuth1_CallbackDenied(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth1Handler(f.opts)

	pending := freshToken(token.SchemeOAuth1, "photos")
	pending.AccessOrRequestToken = "request-token"
	pending.StateHandle = "h"

	_, err := h.ProcessCallback(context.Background(), pending, url.Values{"oauth_problem": {"user_refused"}})
	assert.ErrorIs(t, err, apperrors.ErrAuthorizationDenied)

	_, err = h.ProcessCallback(context.Background(), pending, url.Values{"denied": {"request-token"}})
	assert.ErrorIs(t, err, apperrors.ErrAuthorizationDenied)
}

func TestOAuth1_CallbackTokenMismatch(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth1Handler(f.opts)

	pending := freshToken(token.SchemeOAuth1, "photos")
	pending.AccessOrRequestToken = "request-token"
	pending.StateHandle = "h"

	_, err := h.ProcessCallback(context.Background(), pending, url.Values{"oauth_token": {"someone-else"}})
	assert.ErrorIs(t, err, apperrors.ErrUnknownState)
}

func TestOAuth1_CallbackRequiresPendingToken(t *testing.T) {
	h := NewOAuth1Handler(Options{})

	_, err := h.ProcessCallback(context.Background(), accessToken(token.SchemeOAuth1, "photos"), nil)
	assert.ErrorIs(t, err, apperrors.ErrUnknownState)
}

func TestOAuth1_RefreshUnsupported(t *testing.T) {
	h := NewOAuth1Handler(Options{})
	_, err := h.Refresh(context.Background(), accessToken(token.SchemeOAuth1, ""))
	assert.ErrorIs(t, err, apperrors.ErrRefreshUnsupported)
}

func TestOAuth1_AuthHeaders(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth1Handler(f.opts)
	u, _ := url.Parse("https://api.example.com/photos?size=large")

	header, err := h.AuthHeaders(context.Background(), accessToken(token.SchemeOAuth1, "photos"), u, http.MethodGet, nil)
	require.NoError(t, err)

	auth := header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "OAuth "))
	assert.Contains(t, auth, `oauth_token="access-token"`)
	assert.Contains(t, auth, `oauth_consumer_key="ck"`)
	assert.Contains(t, auth, "oauth_signature=")

	qs, err := h.AuthQueryString(context.Background(), accessToken(token.SchemeOAuth1, "photos"), u, http.MethodGet, nil)
	require.NoError(t, err)
	assert.Empty(t, qs, "header placement adds nothing to the query")
}

func TestOAuth1_AuthQueryString(t *testing.T) {
	f := newFixture(t, consumer.LocationQuery)
	h := NewOAuth1Handler(f.opts)
	u, _ := url.Parse("https://api.example.com/photos?size=large")

	qs, err := h.AuthQueryString(context.Background(), accessToken(token.SchemeOAuth1, "photos"), u, http.MethodGet, nil)
	require.NoError(t, err)

	q, err := url.ParseQuery(qs)
	require.NoError(t, err)
	assert.Equal(t, "large", q.Get("size"))
	assert.Equal(t, "access-token", q.Get("oauth_token"))
	assert.Equal(t, "ck", q.Get("oauth_consumer_key"))
	assert.NotEmpty(t, q.Get("oauth_signature"))

	header, err := h.AuthHeaders(context.Background(), accessToken(token.SchemeOAuth1, "photos"), u, http.MethodGet, nil)
	require.NoError(t, err)
	assert.Empty(t, header.Get("Authorization"))
}

func TestOAuth1_SigningRequiresAccessToken(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth1Handler(f.opts)
	u, _ := url.Parse("https://api.example.com/")

	_, err := h.AuthHeaders(context.Background(), freshToken(token.SchemeOAuth1, "photos"), u, http.MethodGet, nil)
	assert.Error(t, err)
}

func TestOAuth1_ConcurrentInitiationsShareHandshake(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	f.provider.Gate = make(chan struct{})
	h := NewOAuth1Handler(f.opts)

	const n = 5

	var wg sync.WaitGroup

	states := make([]string, n)
	errs := make([]error, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cont, err := h.ProcessRequestToken(context.Background(), freshToken(token.SchemeOAuth1, "photos"))
			errs[i] = err
			if cont != nil {
				states[i] = cont.State
			}
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(f.provider.Gate)
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, states[0], states[i])
	}
	assert.Equal(t, int32(1), f.provider.RequestTokens.Load())
}

func TestOAuth1_CancelledWaiter(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	f.provider.Gate = make(chan struct{})
	defer close(f.provider.Gate)
	h := NewOAuth1Handler(f.opts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.ProcessRequestToken(ctx, freshToken(token.SchemeOAuth1, "photos"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// --- OAuth 1.0a signatures ---

// signedRequest builds the outbound request the proxy would send for a call
// to rawURL with the given form body, signed by h.
func signedRequest(t *testing.T, h *OAuth1Handler, method, rawURL string, form url.Values) *http.Request {
	t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	tok := accessToken(token.SchemeOAuth1, "photos")

	header, err := h.AuthHeaders(context.Background(), tok, u, method, form)
	require.NoError(t, err)

	qs, err := h.AuthQueryString(context.Background(), tok, u, method, form)
	require.NoError(t, err)

	if qs != "" {
		u.RawQuery = qs
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	r := httptest.NewRequest(method, u.String(), body)
	for k, vs := range header {
		r.Header[k] = vs
	}

	return r
}

func TestOAuth1_SignatureVerifies(t *testing.T) {
	const target = "https://api.example.com/photos?size=large&tag=a+b"

	form := url.Values{"title": {"hello world"}, "album": {"1"}}

	tests := []struct {
		name     string
		location consumer.ParamLocation
		method   string
		form     url.Values
	}{
		{"header get", consumer.LocationHeader, http.MethodGet, nil},
		{"header post form", consumer.LocationHeader, http.MethodPost, form},
		{"query get", consumer.LocationQuery, http.MethodGet, nil},
		{"query post form", consumer.LocationQuery, http.MethodPost, form},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.location)
			h := NewOAuth1Handler(f.opts)

			r := signedRequest(t, h, tt.method, target, tt.form)
			assert.True(t, oauthtest.VerifyHMACSHA1(r, tt.form, "cs", oauthtest.AccessSecret))
			assert.Empty(t, r.URL.Query().Get("title"), "body parameters stay in the body")
		})
	}
}

func TestOAuth1_SignatureMustCoverFormBody(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth1Handler(f.opts)

	form := url.Values{"title": {"hello"}}
	r := signedRequest(t, h, http.MethodPost, "https://api.example.com/photos", nil)

	assert.False(t, oauthtest.VerifyHMACSHA1(r, form, "cs", oauthtest.AccessSecret))
}

type failingDeleteCache struct{ cache.Cache }

func (failingDeleteCache) Delete(cache.Key) error { return errors.New("disk full") }

func TestCallbackDenied_LogsStateCleanupFailure(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)

	var logs bytes.Buffer
	f.opts.Cache = failingDeleteCache{f.cache}
	f.opts.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	pending1 := freshToken(token.SchemeOAuth1, "photos")
	pending1.AccessOrRequestToken = "request-token"
	pending1.StateHandle = "h1"

	_, err := NewOAuth1Handler(f.opts).ProcessCallback(context.Background(), pending1, url.Values{"denied": {"x"}})
	assert.ErrorIs(t, err, apperrors.ErrAuthorizationDenied)

	pending2 := freshToken(token.SchemeOAuth2, "calendar")
	pending2.StateHandle = "h2"
	pending2.CodeVerifier = "v"

	_, err = NewOAuth2Handler(f.opts).ProcessCallback(context.Background(), pending2, url.Values{"error": {"access_denied"}})
	assert.ErrorIs(t, err, apperrors.ErrAuthorizationDenied)

	assert.Equal(t, 2, strings.Count(logs.String(), "clearing declined state failed"))
	assert.Contains(t, logs.String(), "disk full")
}

// --- OAuth2 ---

func TestOAuth2_Handshake(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth2Handler(f.opts)
	ctx := context.Background()

	cont, err := h.ProcessRequestToken(ctx, freshToken(token.SchemeOAuth2, "calendar"))
	require.NoError(t, err)

	approval, err := url.Parse(cont.ApprovalURL)
	require.NoError(t, err)
	q := approval.Query()
	assert.Equal(t, "/oauth2/authorize", approval.Path)
	assert.Equal(t, cont.State, q.Get("state"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, testCallback, q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	pending, err := f.cache.Get(cache.StateKey(cont.State))
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, token.StateRequestToken, pending.State(time.Now()))
	assert.NotEmpty(t, pending.CodeVerifier)

	access, err := h.ProcessCallback(ctx, pending, url.Values{"code": {"code-1"}, "state": {cont.State}})
	require.NoError(t, err)
	assert.Equal(t, "access-2", access.AccessOrRequestToken)
	assert.Equal(t, "refresh-2", access.RefreshToken)
	assert.Equal(t, "Bearer", access.TokenType)
	assert.Equal(t, token.StateAccessToken, access.State(time.Now()))
	assert.Empty(t, access.CodeVerifier)
	assert.Equal(t, pending.CodeVerifier, f.provider.LastCodeVerifier())

	cached, err := f.cache.Get(cache.TokenKey(testApp, "alice", "calendar"))
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "access-2", cached.AccessOrRequestToken)

	gone, err := f.cache.Get(cache.StateKey(cont.State))
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestOAuth2_CallbackErrors(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth2Handler(f.opts)

	pending := freshToken(token.SchemeOAuth2, "calendar")
	pending.StateHandle = "h"
	pending.CodeVerifier = "v"

	_, err := h.ProcessCallback(context.Background(), pending, url.Values{"error": {"access_denied"}})
	assert.ErrorIs(t, err, apperrors.ErrAuthorizationDenied)

	_, err = h.ProcessCallback(context.Background(), pending, url.Values{})
	assert.ErrorIs(t, err, apperrors.ErrAuthorizationDenied)

	_, err = h.ProcessCallback(context.Background(), pending, url.Values{"code": {"wrong"}})
	assert.ErrorIs(t, err, apperrors.ErrTokenEndpoint)
}

func TestOAuth2_Refresh(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth2Handler(f.opts)

	expired := accessToken(token.SchemeOAuth2, "calendar")
	expired.RefreshToken = "refresh-1"
	expired.Expiry = time.Now().Add(-time.Minute)

	got, err := h.Refresh(context.Background(), expired)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", got.AccessOrRequestToken)
	assert.Equal(t, "refresh-1", got.RefreshToken, "refresh token kept when none is returned")
	assert.Equal(t, token.StateAccessToken, got.State(time.Now()))
	assert.Equal(t, int32(1), f.provider.Refreshes.Load())

	cached, err := f.cache.Get(cache.TokenKey(testApp, "alice", "calendar"))
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", cached.AccessOrRequestToken)
}

func TestOAuth2_RefreshWithoutRefreshToken(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth2Handler(f.opts)

	_, err := h.Refresh(context.Background(), accessToken(token.SchemeOAuth2, "calendar"))
	assert.ErrorIs(t, err, apperrors.ErrRefreshUnsupported)
}

func TestOAuth2_RefreshEndpointFailure(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	f.provider.FailTokens.Store(true)
	h := NewOAuth2Handler(f.opts)

	tok := accessToken(token.SchemeOAuth2, "calendar")
	tok.RefreshToken = "refresh-1"

	_, err := h.Refresh(context.Background(), tok)
	assert.ErrorIs(t, err, apperrors.ErrTokenEndpoint)
}

func TestOAuth2_AuthHeaders(t *testing.T) {
	f := newFixture(t, consumer.LocationHeader)
	h := NewOAuth2Handler(f.opts)
	u, _ := url.Parse("https://api.example.com/events")

	header, err := h.AuthHeaders(context.Background(), accessToken(token.SchemeOAuth2, "calendar"), u, http.MethodGet, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer access-token", header.Get("Authorization"))

	qs, err := h.AuthQueryString(context.Background(), accessToken(token.SchemeOAuth2, "calendar"), u, http.MethodGet, nil)
	require.NoError(t, err)
	assert.Empty(t, qs)
}

func TestOAuth2_AuthQueryString(t *testing.T) {
	f := newFixture(t, consumer.LocationQuery)
	h := NewOAuth2Handler(f.opts)
	u, _ := url.Parse("https://api.example.com/events?day=mon")

	qs, err := h.AuthQueryString(context.Background(), accessToken(token.SchemeOAuth2, "calendar"), u, http.MethodGet, nil)
	require.NoError(t, err)

	q, err := url.ParseQuery(qs)
	require.NoError(t, err)
	assert.Equal(t, "mon", q.Get("day"))
	assert.Equal(t, "access-token", q.Get("access_token"))
}
