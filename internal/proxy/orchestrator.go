// Package proxy is the entry point of the gadget proxy: it decides, per
// call, whether to intercept for an OAuth handshake or to forward the call
// with authorization material attached.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/gadget-auth/internal/errors"
	"github.com/alexjbarnes/gadget-auth/internal/oauth"
	"github.com/alexjbarnes/gadget-auth/internal/token"
)

const formContentType = "application/x-www-form-urlencoded"

// Context describes one proxied call.
type Context struct {
	Request *http.Request
	Token   token.SecurityToken
	Params  url.Values
}

// Gadget returns the gadget id of the call.
func (pc *Context) Gadget() string {
	if g := pc.Params.Get("gadget"); g != "" {
		return g
	}

	if pc.Token != nil {
		return pc.Token.AppID()
	}

	return ""
}

// Authz returns the raw authz parameter.
func (pc *Context) Authz() string {
	return pc.Params.Get("authz")
}

// Target returns the parsed url parameter. Only absolute http and https
// URLs are accepted.
func (pc *Context) Target() (*url.URL, error) {
	raw := pc.Params.Get("url")
	if raw == "" {
		return nil, apperrors.ErrMissingTarget
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) url", apperrors.ErrMissingTarget, raw)
	}

	return u, nil
}

// Method returns the httpMethod parameter, defaulting to GET.
func (pc *Context) Method() string {
	m := strings.ToUpper(pc.Params.Get("httpMethod"))
	if m == "" {
		return http.MethodGet
	}

	return m
}

// ContentType returns the content type of the outbound body: the
// contentType parameter, or form encoding when only postData is given.
// It is empty when the call has no body.
func (pc *Context) ContentType() string {
	if pc.Params.Get("postData") == "" {
		return ""
	}

	if ct := pc.Params.Get("contentType"); ct != "" {
		return ct
	}

	return formContentType
}

// Form returns the body parameters of a form-encoded call, or nil when the
// call has no body or a body of another type.
func (pc *Context) Form() (url.Values, error) {
	ct := pc.ContentType()
	if ct == "" {
		return nil, nil
	}

	if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != formContentType {
		return nil, nil
	}

	form, err := url.ParseQuery(pc.Params.Get("postData"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidPostData, err)
	}

	return form, nil
}

// OriginalHandler performs the proxied call with the given authorization
// header and, when non-empty, a replacement query string.
type OriginalHandler func(ctx context.Context, pc *Context, header http.Header, query string) error

// Orchestrator selects the OAuth handler for a call and drives it.
type Orchestrator struct {
	handlers *oauth.Handlers
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator over a validated handler set.
func NewOrchestrator(handlers *oauth.Handlers, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{handlers: handlers, logger: logger, now: time.Now}
}

// ProcessRequest either intercepts the call, returning the continuation of
// a handshake the user has to complete, or invokes next exactly once with
// the authorization material. Calls without an OAuth token go straight to
// next with no material.
func (o *Orchestrator) ProcessRequest(ctx context.Context, pc *Context, next OriginalHandler) (*oauth.Continuation, error) {
	tok, ok := pc.Token.(*token.OAuthToken)
	if !ok || tok == nil {
		return nil, next(ctx, pc, nil, "")
	}

	h, err := o.handlers.Select(pc.Authz(), tok)
	if err != nil {
		return nil, err
	}

	switch tok.State(o.now()) {
	case token.StateNoToken:
		o.logger.Debug("proxy: starting handshake",
			slog.String("scheme", string(tok.Scheme)),
			slog.String("gadget", tok.AppID()),
			slog.String("service", tok.Service),
		)

		return h.ProcessRequestToken(ctx, tok)

	case token.StateRequestToken:
		access, err := h.ProcessCallback(ctx, tok, pc.Params)
		if err != nil {
			return nil, err
		}

		tok = access

	case token.StateExpired:
		refreshed, err := h.Refresh(ctx, tok)
		if err != nil {
			o.logger.Info("proxy: access token expired, restarting handshake",
				slog.String("scheme", string(tok.Scheme)),
				slog.String("gadget", tok.AppID()),
				slog.String("service", tok.Service),
				slog.String("reason", err.Error()),
			)

			return h.ProcessRequestToken(ctx, restart(tok))
		}

		tok = refreshed
	}

	return nil, o.forward(ctx, pc, h, tok, next)
}

func (o *Orchestrator) forward(ctx context.Context, pc *Context, h oauth.Handler, tok *token.OAuthToken, next OriginalHandler) error {
	target, err := pc.Target()
	if err != nil {
		return err
	}

	method := pc.Method()

	form, err := pc.Form()
	if err != nil {
		return err
	}

	header, err := h.AuthHeaders(ctx, tok, target, method, form)
	if err != nil {
		return fmt.Errorf("computing auth headers: %w", err)
	}

	query, err := h.AuthQueryString(ctx, tok, target, method, form)
	if err != nil {
		return fmt.Errorf("computing auth query: %w", err)
	}

	pc.Token = tok

	return next(ctx, pc, header, query)
}

// ProcessCallback completes the handshake of the pending token carried by
// pc, using the callback parameters.
func (o *Orchestrator) ProcessCallback(ctx context.Context, pc *Context) (*token.OAuthToken, error) {
	tok, ok := pc.Token.(*token.OAuthToken)
	if !ok || tok == nil || tok.State(o.now()) != token.StateRequestToken {
		return nil, fmt.Errorf("callback without a pending handshake: %w", apperrors.ErrUnknownState)
	}

	h, err := o.handlers.Select("", tok)
	if err != nil {
		return nil, err
	}

	access, err := h.ProcessCallback(ctx, tok, pc.Params)
	if err != nil {
		if !errors.Is(err, apperrors.ErrAuthorizationDenied) {
			o.logger.Warn("proxy: oauth callback failed",
				slog.String("scheme", string(tok.Scheme)),
				slog.String("gadget", tok.AppID()),
				slog.String("error", err.Error()),
			)
		}

		return nil, err
	}

	return access, nil
}

// restart strips token material so the handshake begins from scratch.
func restart(tok *token.OAuthToken) *token.OAuthToken {
	return token.NewOAuth(tok.Token, tok.Scheme, tok.Service)
}
