package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/alexjbarnes/gadget-auth/internal/cache"
	"github.com/alexjbarnes/gadget-auth/internal/consumer"
	apperrors "github.com/alexjbarnes/gadget-auth/internal/errors"
	"github.com/alexjbarnes/gadget-auth/internal/token"
	"golang.org/x/oauth2"
)

// OAuth2Handler runs the authorization-code flow with PKCE (S256). The
// oauthState handle doubles as the OAuth2 state parameter.
type OAuth2Handler struct {
	opts       Options
	handshakes handshakes
}

// NewOAuth2Handler creates a handler.
func NewOAuth2Handler(opts Options) *OAuth2Handler {
	return &OAuth2Handler{opts: opts}
}

func (h *OAuth2Handler) Scheme() token.Scheme { return token.SchemeOAuth2 }

func (h *OAuth2Handler) CanHandle(authz string, tok *token.OAuthToken) bool {
	return canHandle(token.SchemeOAuth2, authz, tok)
}

func (h *OAuth2Handler) config(tok *token.OAuthToken) (*consumer.OAuth2Consumer, *oauth2.Config, error) {
	c, err := lookupConsumer[consumer.OAuth2Consumer](h.opts.Consumers, tok, token.SchemeOAuth2)
	if err != nil {
		return nil, nil, err
	}

	cfg := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: authStyle(c.AuthStyle),
		},
		RedirectURL: h.opts.CallbackURL,
		Scopes:      c.Scopes,
	}

	return c, cfg, nil
}

func authStyle(s string) oauth2.AuthStyle {
	switch s {
	case "header":
		return oauth2.AuthStyleInHeader
	case "params":
		return oauth2.AuthStyleInParams
	default:
		return oauth2.AuthStyleAutoDetect
	}
}

func (h *OAuth2Handler) endpointContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, h.opts.httpClient())
}

// ProcessRequestToken parks a PKCE verifier under a fresh handle and
// returns the provider's authorization URL.
func (h *OAuth2Handler) ProcessRequestToken(ctx context.Context, tok *token.OAuthToken) (*Continuation, error) {
	_, cfg, err := h.config(tok)
	if err != nil {
		return nil, err
	}

	return h.handshakes.do(ctx, handshakeKey(tok), func() (*Continuation, error) {
		handle := newStateHandle()
		verifier := oauth2.GenerateVerifier()

		pending := tok.Clone()
		pending.AccessOrRequestToken = ""
		pending.TokenSecret = ""
		pending.RefreshToken = ""
		pending.IsAccessToken = false
		pending.CodeVerifier = verifier
		pending.StateHandle = handle
		pending.Expiry = time.Time{}

		if err := h.opts.Cache.Put(cache.StateKey(handle), pending, h.opts.stateTTL()); err != nil {
			return nil, fmt.Errorf("caching pending authorization: %w", err)
		}

		h.opts.Logger.Info("oauth2: authorization started",
			slog.String("app", tok.AppID()),
			slog.String("service", tok.Service),
			slog.String("owner", tok.Owner()),
		)

		return &Continuation{
			ApprovalURL: cfg.AuthCodeURL(handle, oauth2.S256ChallengeOption(verifier)),
			State:       handle,
		}, nil
	})
}

// ProcessCallback exchanges the authorization code for tokens.
func (h *OAuth2Handler) ProcessCallback(ctx context.Context, tok *token.OAuthToken, params url.Values) (*token.OAuthToken, error) {
	if err := requirePending(tok); err != nil {
		return nil, err
	}

	if e := params.Get("error"); e != "" {
		forgetState(h.opts.Cache, h.opts.Logger, tok.StateHandle)

		if desc := params.Get("error_description"); desc != "" {
			e += ": " + desc
		}

		return nil, fmt.Errorf("%w: %s", apperrors.ErrAuthorizationDenied, e)
	}

	code := params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: callback carries no authorization code", apperrors.ErrAuthorizationDenied)
	}

	_, cfg, err := h.config(tok)
	if err != nil {
		return nil, err
	}

	t, err := cfg.Exchange(h.endpointContext(ctx), code, oauth2.VerifierOption(tok.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %v", apperrors.ErrTokenEndpoint, err)
	}

	access := tok.Clone()
	applyToken(access, t)
	access.CodeVerifier = ""
	access.StateHandle = ""

	if err := storeAccess(h.opts.Cache, access, tok.StateHandle); err != nil {
		return nil, err
	}

	h.opts.Logger.Info("oauth2: access token obtained",
		slog.String("app", access.AppID()),
		slog.String("service", access.Service),
		slog.String("owner", access.Owner()),
		slog.Bool("refreshable", access.RefreshToken != ""),
	)

	return access, nil
}

// Refresh renews an access token with its refresh token and caches the
// result. Tokens without a refresh token return ErrRefreshUnsupported.
func (h *OAuth2Handler) Refresh(ctx context.Context, tok *token.OAuthToken) (*token.OAuthToken, error) {
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token: %w", apperrors.ErrRefreshUnsupported)
	}

	_, cfg, err := h.config(tok)
	if err != nil {
		return nil, err
	}

	// An empty access token forces the source to hit the token endpoint.
	src := cfg.TokenSource(h.endpointContext(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken})

	t, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh: %v", apperrors.ErrTokenEndpoint, err)
	}

	refreshed := tok.Clone()
	applyToken(refreshed, t)

	if err := storeAccess(h.opts.Cache, refreshed, ""); err != nil {
		return nil, err
	}

	h.opts.Logger.Debug("oauth2: access token refreshed",
		slog.String("app", refreshed.AppID()),
		slog.String("service", refreshed.Service),
	)

	return refreshed, nil
}

func applyToken(dst *token.OAuthToken, t *oauth2.Token) {
	dst.AccessOrRequestToken = t.AccessToken
	dst.TokenType = t.Type()
	dst.Expiry = t.Expiry
	dst.IsAccessToken = true

	if t.RefreshToken != "" {
		dst.RefreshToken = t.RefreshToken
	}
}

// AuthHeaders returns "Authorization: <type> <token>" for consumers
// configured with header placement.
func (h *OAuth2Handler) AuthHeaders(_ context.Context, tok *token.OAuthToken, _ *url.URL, _ string, _ url.Values) (http.Header, error) {
	if err := requireAccess(tok); err != nil {
		return nil, err
	}

	c, _, err := h.config(tok)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.ParamLocation != consumer.LocationHeader {
		return header, nil
	}

	t := &oauth2.Token{AccessToken: tok.AccessOrRequestToken, TokenType: tok.TokenType}
	header.Set("Authorization", t.Type()+" "+t.AccessToken)

	return header, nil
}

// AuthQueryString returns the query of u with access_token added, for
// consumers configured with query placement.
func (h *OAuth2Handler) AuthQueryString(_ context.Context, tok *token.OAuthToken, u *url.URL, _ string, _ url.Values) (string, error) {
	if err := requireAccess(tok); err != nil {
		return "", err
	}

	c, _, err := h.config(tok)
	if err != nil {
		return "", err
	}

	if c.ParamLocation != consumer.LocationQuery {
		return "", nil
	}

	q := u.Query()
	q.Set("access_token", tok.AccessOrRequestToken)

	return q.Encode(), nil
}
