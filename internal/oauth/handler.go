// Package oauth drives the delegated-authorization handshakes. Each
// Handler owns one scheme: it obtains request and access tokens from the
// service's endpoints, persists in-flight and completed tokens in the
// cache, and computes the signing material for proxied calls.
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
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DefaultStateTTL bounds how long a user has to approve access.
const DefaultStateTTL = 10 * time.Minute

// Continuation tells the caller how to finish a handshake out of band:
// send the user to ApprovalURL, then call back with State as oauthState.
type Continuation struct {
	ApprovalURL string `json:"oauthApprovalUrl"`
	State       string `json:"oauthState"`
}

// Handler implements the handshake and signing for one scheme.
type Handler interface {
	Scheme() token.Scheme

	// CanHandle reports whether the handler owns tok. When tok carries no
	// scheme the authz parameter decides.
	CanHandle(authz string, tok *token.OAuthToken) bool

	ProcessRequestToken(ctx context.Context, tok *token.OAuthToken) (*Continuation, error)
	ProcessCallback(ctx context.Context, tok *token.OAuthToken, params url.Values) (*token.OAuthToken, error)
	Refresh(ctx context.Context, tok *token.OAuthToken) (*token.OAuthToken, error)

	// AuthHeaders and AuthQueryString compute the signing material for a
	// call to u. form holds the url-encoded body parameters of the call, if
	// any; OAuth 1.0a signatures cover them.
	AuthHeaders(ctx context.Context, tok *token.OAuthToken, u *url.URL, method string, form url.Values) (http.Header, error)
	AuthQueryString(ctx context.Context, tok *token.OAuthToken, u *url.URL, method string, form url.Values) (string, error)
}

// Consumers looks up consumer configuration. *consumer.Registry and
// *consumer.Source both satisfy it.
type Consumers interface {
	GetConsumer(app, service string, scheme token.Scheme) (any, error)
}

// lookupConsumer returns the consumer of type T registered for tok.
func lookupConsumer[T consumer.OAuth1Consumer | consumer.OAuth2Consumer](cs Consumers, tok *token.OAuthToken, scheme token.Scheme) (*T, error) {
	v, err := cs.GetConsumer(tok.AppID(), tok.Service, scheme)
	if err != nil {
		return nil, err
	}

	c, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: %s consumer for app %q service %q has type %T",
			apperrors.ErrConsumerNotFound, scheme, tok.AppID(), tok.Service, v)
	}

	return c, nil
}

// Options are shared by both handlers.
type Options struct {
	Consumers Consumers
	Cache     cache.Cache

	// CallbackURL is the absolute URL of the oauthcallback endpoint.
	CallbackURL string

	// StateTTL is the lifetime of a pending handshake. Zero selects
	// DefaultStateTTL.
	StateTTL time.Duration

	// HTTPClient performs token endpoint calls. Nil selects
	// http.DefaultClient.
	HTTPClient *http.Client

	Logger *slog.Logger
}

func (o *Options) stateTTL() time.Duration {
	if o.StateTTL <= 0 {
		return DefaultStateTTL
	}

	return o.StateTTL
}

func (o *Options) httpClient() *http.Client {
	if o.HTTPClient == nil {
		return http.DefaultClient
	}

	return o.HTTPClient
}

func canHandle(scheme token.Scheme, authz string, tok *token.OAuthToken) bool {
	if tok != nil && tok.Scheme != "" {
		return tok.Scheme == scheme
	}

	s, ok := token.ParseAuthz(authz)

	return ok && s == scheme
}

func handshakeKey(tok *token.OAuthToken) string {
	return string(cache.TokenKey(tok.AppID(), tok.Owner(), tok.Service))
}

func newStateHandle() string {
	return uuid.NewString()
}

// handshakes collapses concurrent handshake initiations for the same
// (gadget, owner, service) into one token endpoint round trip.
type handshakes struct {
	group singleflight.Group
}

func (hs *handshakes) do(ctx context.Context, key string, fn func() (*Continuation, error)) (*Continuation, error) {
	ch := hs.group.DoChan(key, func() (any, error) {
		return fn()
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		cont := *res.Val.(*Continuation)

		return &cont, nil
	}
}

// storeAccess persists a completed access token under its identity key and
// forgets the pending state.
func storeAccess(c cache.Cache, access *token.OAuthToken, handle string) error {
	key := cache.TokenKey(access.AppID(), access.Owner(), access.Service)
	if err := c.Put(key, access, 0); err != nil {
		return fmt.Errorf("caching access token: %w", err)
	}

	if handle != "" {
		if err := c.Delete(cache.StateKey(handle)); err != nil {
			return fmt.Errorf("clearing oauth state: %w", err)
		}
	}

	return nil
}

// forgetState drops the pending entry of a handshake the user declined.
// The entry expires on its own, so a failure is only logged.
func forgetState(c cache.Cache, logger *slog.Logger, handle string) {
	if err := c.Delete(cache.StateKey(handle)); err != nil {
		logger.Warn("oauth: clearing declined state failed",
			slog.String("error", err.Error()),
		)
	}
}

func requireAccess(tok *token.OAuthToken) error {
	if tok == nil || !tok.IsAccessToken || !tok.HasToken() {
		return fmt.Errorf("signing requires an access token")
	}

	return nil
}

func requirePending(tok *token.OAuthToken) error {
	if tok == nil || tok.IsAccessToken || tok.StateHandle == "" {
		return fmt.Errorf("no pending handshake: %w", apperrors.ErrUnknownState)
	}

	return nil
}

// Handlers is a validated set with at most one handler per scheme.
type Handlers struct {
	list []Handler
}

// NewHandlers rejects two handlers claiming the same scheme.
func NewHandlers(hs ...Handler) (*Handlers, error) {
	seen := make(map[token.Scheme]struct{}, len(hs))
	for _, h := range hs {
		if _, dup := seen[h.Scheme()]; dup {
			return nil, fmt.Errorf("%w: two handlers for scheme %s", apperrors.ErrAmbiguousHandler, h.Scheme())
		}

		seen[h.Scheme()] = struct{}{}
	}

	return &Handlers{list: hs}, nil
}

// Select returns the single handler whose CanHandle accepts the pair.
func (hs *Handlers) Select(authz string, tok *token.OAuthToken) (Handler, error) {
	var match Handler

	n := 0
	for _, h := range hs.list {
		if h.CanHandle(authz, tok) {
			match = h
			n++
		}
	}

	switch n {
	case 0:
		return nil, fmt.Errorf("%w for authz %q", apperrors.ErrNoHandler, authz)
	case 1:
		return match, nil
	default:
		return nil, fmt.Errorf("%w: %d handlers accept authz %q", apperrors.ErrAmbiguousHandler, n, authz)
	}
}
