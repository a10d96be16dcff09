package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alexjbarnes/gadget-auth/internal/cache"
	"github.com/alexjbarnes/gadget-auth/internal/consumer"
	apperrors "github.com/alexjbarnes/gadget-auth/internal/errors"
	"github.com/alexjbarnes/gadget-auth/internal/token"
	"github.com/garyburd/go-oauth/oauth"
)

// OAuth1Handler runs the OAuth 1.0a three-legged handshake.
type OAuth1Handler struct {
	opts       Options
	handshakes handshakes
	now        func() time.Time
}

// NewOAuth1Handler creates a handler.
func NewOAuth1Handler(opts Options) *OAuth1Handler {
	return &OAuth1Handler{opts: opts, now: time.Now}
}

func (h *OAuth1Handler) Scheme() token.Scheme { return token.SchemeOAuth1 }

func (h *OAuth1Handler) CanHandle(authz string, tok *token.OAuthToken) bool {
	return canHandle(token.SchemeOAuth1, authz, tok)
}

func (h *OAuth1Handler) consumer(tok *token.OAuthToken) (*consumer.OAuth1Consumer, *oauth.Client, error) {
	c, err := lookupConsumer[consumer.OAuth1Consumer](h.opts.Consumers, tok, token.SchemeOAuth1)
	if err != nil {
		return nil, nil, err
	}

	client := &oauth.Client{
		Credentials: oauth.Credentials{
			Token:  c.ConsumerKey,
			Secret: c.ConsumerSecret,
		},
		TemporaryCredentialRequestURI: c.RequestTokenURL,
		ResourceOwnerAuthorizationURI: c.AuthorizeURL,
		TokenRequestURI:               c.AccessTokenURL,
		PrivateKey:                    c.PrivateKey,
	}

	switch c.SignatureMethod {
	case consumer.SignatureRSASHA1:
		client.SignatureMethod = oauth.RSASHA1
	case consumer.SignaturePlaintext:
		client.SignatureMethod = oauth.PLAINTEXT
	default:
		client.SignatureMethod = oauth.HMACSHA1
	}

	return c, client, nil
}

func (h *OAuth1Handler) endpointContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth.HTTPClient, h.opts.httpClient())
}

// ProcessRequestToken obtains temporary credentials and parks them under a
// fresh oauthState handle until the user approves access.
func (h *OAuth1Handler) ProcessRequestToken(ctx context.Context, tok *token.OAuthToken) (*Continuation, error) {
	_, client, err := h.consumer(tok)
	if err != nil {
		return nil, err
	}

	return h.handshakes.do(ctx, handshakeKey(tok), func() (*Continuation, error) {
		handle := newStateHandle()
		callback := h.opts.CallbackURL + "?" + url.Values{"oauthState": {handle}}.Encode()

		creds, err := client.RequestTemporaryCredentialsContext(h.endpointContext(ctx), callback, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: request token: %v", apperrors.ErrTokenEndpoint, err)
		}

		pending := tok.Clone()
		pending.AccessOrRequestToken = creds.Token
		pending.TokenSecret = creds.Secret
		pending.IsAccessToken = false
		pending.StateHandle = handle
		pending.Expiry = time.Time{}

		if err := h.opts.Cache.Put(cache.StateKey(handle), pending, h.opts.stateTTL()); err != nil {
			return nil, fmt.Errorf("caching request token: %w", err)
		}

		h.opts.Logger.Info("oauth1: request token issued",
			slog.String("app", tok.AppID()),
			slog.String("service", tok.Service),
			slog.String("owner", tok.Owner()),
		)

		return &Continuation{
			ApprovalURL: client.AuthorizationURL(creds, nil),
			State:       handle,
		}, nil
	})
}

// ProcessCallback exchanges the approved request token and verifier for an
// access token.
func (h *OAuth1Handler) ProcessCallback(ctx context.Context, tok *token.OAuthToken, params url.Values) (*token.OAuthToken, error) {
	if err := requirePending(tok); err != nil {
		return nil, err
	}

	if problem := params.Get("oauth_problem"); problem != "" || params.Has("denied") {
		forgetState(h.opts.Cache, h.opts.Logger, tok.StateHandle)
		return nil, fmt.Errorf("%w: %s", apperrors.ErrAuthorizationDenied, problemOrDenied(problem))
	}

	if rt := params.Get("oauth_token"); rt != "" && rt != tok.AccessOrRequestToken {
		return nil, fmt.Errorf("callback token does not match pending request token: %w", apperrors.ErrUnknownState)
	}

	_, client, err := h.consumer(tok)
	if err != nil {
		return nil, err
	}

	temp := &oauth.Credentials{Token: tok.AccessOrRequestToken, Secret: tok.TokenSecret}

	creds, vals, err := client.RequestTokenContext(h.endpointContext(ctx), temp, params.Get("oauth_verifier"))
	if err != nil {
		return nil, fmt.Errorf("%w: access token: %v", apperrors.ErrTokenEndpoint, err)
	}

	access := tok.Clone()
	access.AccessOrRequestToken = creds.Token
	access.TokenSecret = creds.Secret
	access.IsAccessToken = true
	access.StateHandle = ""
	access.Expiry = time.Time{}

	if secs, err := strconv.Atoi(vals.Get("oauth_expires_in")); err == nil && secs > 0 {
		access.Expiry = h.now().Add(time.Duration(secs) * time.Second)
	}

	if err := storeAccess(h.opts.Cache, access, tok.StateHandle); err != nil {
		return nil, err
	}

	h.opts.Logger.Info("oauth1: access token obtained",
		slog.String("app", access.AppID()),
		slog.String("service", access.Service),
		slog.String("owner", access.Owner()),
	)

	return access, nil
}

// Refresh is not part of OAuth 1.0a. Expired tokens re-enter the handshake.
func (h *OAuth1Handler) Refresh(_ context.Context, _ *token.OAuthToken) (*token.OAuthToken, error) {
	return nil, apperrors.ErrRefreshUnsupported
}

// AuthHeaders signs method, u and the body parameters in form into an
// Authorization header for consumers configured with header placement.
func (h *OAuth1Handler) AuthHeaders(_ context.Context, tok *token.OAuthToken, u *url.URL, method string, form url.Values) (http.Header, error) {
	if err := requireAccess(tok); err != nil {
		return nil, err
	}

	c, client, err := h.consumer(tok)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.ParamLocation != consumer.LocationHeader {
		return header, nil
	}

	creds := &oauth.Credentials{Token: tok.AccessOrRequestToken, Secret: tok.TokenSecret}
	if err := client.SetAuthorizationHeader(header, creds, method, u, form); err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}

	return header, nil
}

// AuthQueryString returns the query of u with OAuth parameters and
// signature added, for consumers configured with query placement. The
// signature covers the body parameters in form, which stay in the body.
func (h *OAuth1Handler) AuthQueryString(_ context.Context, tok *token.OAuthToken, u *url.URL, method string, form url.Values) (string, error) {
	if err := requireAccess(tok); err != nil {
		return "", err
	}

	c, client, err := h.consumer(tok)
	if err != nil {
		return "", err
	}

	if c.ParamLocation != consumer.LocationQuery {
		return "", nil
	}

	query := u.Query()

	signed := url.Values{}
	for k, vs := range query {
		signed[k] = append(signed[k], vs...)
	}

	for k, vs := range form {
		signed[k] = append(signed[k], vs...)
	}

	bare := *u
	bare.RawQuery = ""
	bare.Fragment = ""

	creds := &oauth.Credentials{Token: tok.AccessOrRequestToken, Secret: tok.TokenSecret}
	if err := client.SignForm(creds, method, bare.String(), signed); err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}

	for k, vs := range signed {
		if strings.HasPrefix(k, "oauth_") {
			query[k] = vs
		}
	}

	return query.Encode(), nil
}

func problemOrDenied(problem string) string {
	if problem == "" {
		return "user denied access"
	}

	return problem
}
