package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/gadget-auth/internal/auth"
	apperrors "github.com/alexjbarnes/gadget-auth/internal/errors"
	"github.com/alexjbarnes/gadget-auth/internal/token"
)

// callbackPage is shown in the popup the provider redirects back to. It
// notifies the opener and closes itself.
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>gadget-auth</title>
<style>
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    background: #f5f5f5;
    color: #1a1a1a;
    display: flex;
    align-items: center;
    justify-content: center;
    min-height: 100vh;
    margin: 0;
  }
  .card {
    background: #fff;
    border: 1px solid #e0e0e0;
    border-radius: 8px;
    padding: 2rem;
    max-width: 380px;
  }
  .error { color: #991b1b; }
</style>
</head>
<body>
<div class="card">
{{if .Error}}
  <p class="error">Authorization failed: {{.Error}}</p>
{{else}}
  <p>Authorization complete. You can close this window.</p>
{{end}}
</div>
<script>
  if (window.opener) {
    {{if .Origin}}try { window.opener.postMessage({oauthState: {{.State}}, ok: {{not .Error}}}, {{.Origin}}); } catch (e) {}{{end}}
    {{if not .Error}}window.close();{{end}}
  }
</script>
</body>
</html>
`))

type callbackData struct {
	State  string
	Error  string
	Origin string
}

// Handlers serves the gadget proxy endpoints.
type Handlers struct {
	Factory      *auth.Factory
	Orchestrator *Orchestrator
	Forwarder    *Forwarder
	Logger       *slog.Logger

	// Origin is the container origin the callback page reports to. When
	// empty the page closes without notifying its opener.
	Origin string
}

// HandleMakeRequest returns the /gadgets/makeRequest handler. The response
// is either the upstream response or, when a handshake is needed, a JSON
// object with oauthApprovalUrl and oauthState.
func (h *Handlers) HandleMakeRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		params, err := auth.RequestParams(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		tok, err := h.Factory.Create(r.Context(), r)
		if err != nil {
			h.fail(w, r, err)
			return
		}

		ctx := token.WithContext(r.Context(), tok)
		pc := &Context{Request: r, Token: tok, Params: params}

		var upstream *Response

		next := func(ctx context.Context, pc *Context, header http.Header, query string) error {
			resp, err := h.Forwarder.Do(ctx, pc, header, query)
			if err != nil {
				return err
			}

			upstream = resp

			return nil
		}

		cont, err := h.Orchestrator.ProcessRequest(ctx, pc, next)
		if err != nil {
			h.fail(w, r, err)
			return
		}

		if cont != nil {
			writeJSON(w, http.StatusOK, cont)
			return
		}

		upstream.Send(w)
	}
}

// HandleCallback returns the /gadgets/oauthcallback handler. OAuth 1.0a
// providers return oauthState on the callback URL; OAuth2 providers return
// it as state.
func (h *Handlers) HandleCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		params := r.URL.Query()

		handle := params.Get(auth.ParamOAuthState)
		if handle == "" {
			handle = params.Get("state")
		}

		if handle == "" {
			h.renderCallback(w, http.StatusBadRequest, callbackData{Error: "missing oauthState"})
			return
		}

		pending, err := h.Factory.Pending(handle)
		if err != nil {
			h.renderCallback(w, statusFor(err), callbackData{State: handle, Error: "unknown or expired authorization request"})
			return
		}

		if _, err := h.Orchestrator.ProcessCallback(r.Context(), &Context{Request: r, Token: pending, Params: params}); err != nil {
			h.renderCallback(w, statusFor(err), callbackData{State: handle, Error: publicMessage(err)})
			return
		}

		h.renderCallback(w, http.StatusOK, callbackData{State: handle})
	}
}

// HandleSecurityToken returns the /gadgets/st handler. It mints an st for
// the authenticated principal so gadget client code can identify itself on
// later calls.
func (h *Handlers) HandleSecurityToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		principal := auth.RequestUserID(r.Context())
		if principal == "" {
			h.fail(w, r, apperrors.ErrUnauthorized)
			return
		}

		params, err := auth.RequestParams(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		gadget := params.Get(auth.ParamGadget)
		if gadget == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "gadget is required")
			return
		}

		container := params.Get("container")
		if container == "" {
			container = "default"
		}

		st, err := token.New(h.Factory.Crypter, token.Fields{
			Owner:     principal,
			Viewer:    principal,
			App:       gadget,
			AppURL:    params.Get("appUrl"),
			Domain:    params.Get("domain"),
			Container: container,
			Module:    params.Get("mid"),
		}).ToClientState()
		if err != nil {
			h.fail(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"st": st, "gadget": gadget})
	}
}

func (h *Handlers) renderCallback(w http.ResponseWriter, status int, data callbackData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	data.Origin = h.Origin

	if err := callbackPage.Execute(w, data); err != nil {
		h.Logger.Error("rendering callback page", slog.String("error", err.Error()))
	}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}

	h.Logger.Log(r.Context(), level, "proxy: request failed",
		slog.String("path", r.URL.Path),
		slog.String("remote_ip", auth.RequestRemoteIP(r.Context())),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer`)
	}

	writeJSONError(w, status, errorCode(status), publicMessage(err))
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrBlockedTarget):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrMissingTarget),
		errors.Is(err, apperrors.ErrInvalidPostData),
		errors.Is(err, apperrors.ErrUnknownState),
		errors.Is(err, apperrors.ErrAuthorizationDenied),
		errors.Is(err, apperrors.ErrInvalidClientState):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrTokenEndpoint):
		return http.StatusBadGateway
	case errors.Is(err, apperrors.ErrNoHandler),
		errors.Is(err, apperrors.ErrAmbiguousHandler),
		errors.Is(err, apperrors.ErrConsumerNotFound):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusInternalServerError:
		return "server_error"
	default:
		return "upstream_error"
	}
}

// publicMessage hides internal detail of configuration errors.
func publicMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "oauth is not configured for this gadget"
	}

	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	writeJSON(w, status, map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}
