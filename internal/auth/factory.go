package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/alexjbarnes/gadget-auth/internal/cache"
	apperrors "github.com/alexjbarnes/gadget-auth/internal/errors"
	"github.com/alexjbarnes/gadget-auth/internal/token"
)

// AnonymousPolicy decides whether requests without an identity resolve to
// the anonymous token or are refused.
type AnonymousPolicy int

const (
	PolicyAllow AnonymousPolicy = iota
	PolicyDeny
)

func (p AnonymousPolicy) String() string {
	if p == PolicyDeny {
		return "deny"
	}

	return "allow"
}

// Factory turns inbound requests into security tokens.
type Factory struct {
	Crypter       token.Crypter
	Cache         cache.Cache
	AnonymousName string
	Policy        AnonymousPolicy
	Logger        *slog.Logger
}

// Create resolves r into a security token. Resolution order:
//
//  1. a token already carried by ctx;
//  2. for signed requests (authz OAUTH, OAUTH2 or SIGNED), the pending
//     handshake named by oauthState, then the cached token for
//     (gadget, owner, serviceName), then a fresh OAuth token;
//  3. the st parameter merged with the authenticated principal;
//  4. the anonymous identity.
//
// Malformed st values are logged and ignored. The only error outcomes are
// unreadable parameters, cache failures, and ErrUnauthorized when the
// anonymous policy is Deny or a signed request has no identified owner.
func (f *Factory) Create(ctx context.Context, r *http.Request) (token.SecurityToken, error) {
	if tok := token.FromContext(ctx); tok != nil {
		return tok, nil
	}

	params, err := RequestParams(r)
	if err != nil {
		return nil, err
	}

	scheme, signed := token.ParseAuthz(params.Get(ParamAuthz))
	if !signed {
		base, err := f.resolveBase(ctx, params)
		if err != nil {
			return nil, err
		}

		return base, nil
	}

	return f.resolveOAuth(ctx, params, scheme)
}

func (f *Factory) resolveOAuth(ctx context.Context, params url.Values, scheme token.Scheme) (token.SecurityToken, error) {
	if handle := params.Get(ParamOAuthState); handle != "" {
		pending, err := f.Pending(handle)
		if err == nil {
			return pending, nil
		}

		if !errors.Is(err, apperrors.ErrUnknownState) {
			return nil, err
		}

		f.Logger.Debug("factory: oauthState not found, resolving by identity",
			slog.String("gadget", params.Get(ParamGadget)),
		)
	}

	base, err := f.resolveBase(ctx, params)
	if err != nil {
		return nil, err
	}

	// Delegated credentials are keyed by owner. Anonymous callers all share
	// one owner, so they never get a signed path.
	if base.IsAnonymous() || base.Owner() == f.AnonymousName {
		return nil, fmt.Errorf("signed request for %q needs an identified owner: %w",
			base.AppID(), apperrors.ErrUnauthorized)
	}

	service := params.Get(ParamServiceName)

	cached, err := f.Cache.Get(cache.TokenKey(base.AppID(), base.Owner(), service))
	if err != nil {
		return nil, fmt.Errorf("reading token cache: %w", err)
	}

	if cached != nil && cached.Scheme == scheme {
		return cached, nil
	}

	return token.NewOAuth(base, scheme, service), nil
}

// Pending returns the in-flight handshake addressed by an oauthState
// handle. Unknown or expired handles yield ErrUnknownState.
func (f *Factory) Pending(handle string) (*token.OAuthToken, error) {
	tok, err := f.Cache.Get(cache.StateKey(handle))
	if err != nil {
		return nil, fmt.Errorf("reading state cache: %w", err)
	}

	if tok == nil {
		return nil, apperrors.ErrUnknownState
	}

	return tok, nil
}

// resolveBase binds the non-OAuth identity: the principal set by
// Middleware and any decodable st fields, else the anonymous identity.
func (f *Factory) resolveBase(ctx context.Context, params url.Values) (*token.Token, error) {
	gadget := params.Get(ParamGadget)

	fields, decoded := f.decodeST(params)

	if principal := RequestUserID(ctx); principal != "" {
		if !decoded {
			fields = token.Fields{}
		}

		fields.Owner = principal
		fields.Viewer = principal

		if fields.App == "" {
			fields.App = gadget
		}

		return token.New(f.Crypter, fields), nil
	}

	if decoded {
		if fields.App == "" {
			fields.App = gadget
		}

		return token.New(f.Crypter, fields), nil
	}

	return f.CreateAnonymous(gadget)
}

func (f *Factory) decodeST(params url.Values) (token.Fields, bool) {
	st := params.Get(ParamSecurityToken)
	if st == "" || params.Get(ParamGadget) == "" {
		return token.Fields{}, false
	}

	fields, err := token.Decode(f.Crypter, st)
	if err != nil {
		f.Logger.Warn("factory: ignoring malformed security token",
			slog.String("gadget", params.Get(ParamGadget)),
			slog.String("error", err.Error()),
		)

		return token.Fields{}, false
	}

	return fields, true
}

// CreateAnonymous returns the anonymous token for gadget, or
// ErrUnauthorized when the policy denies anonymous access.
func (f *Factory) CreateAnonymous(gadget string) (*token.Token, error) {
	if f.Policy == PolicyDeny {
		return nil, fmt.Errorf("anonymous access to %q: %w", gadget, apperrors.ErrUnauthorized)
	}

	return token.NewAnonymous(f.Crypter, f.AnonymousName, gadget), nil
}
