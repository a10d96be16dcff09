// Package server provides HTTP server construction for gadget-auth.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/gadget-auth/internal/auth"
	"github.com/alexjbarnes/gadget-auth/internal/proxy"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Handlers *proxy.Handlers
	APIKeys  *auth.APIKeys
	Logger   *slog.Logger
}

// NewMux builds the HTTP handler serving the gadget proxy, the OAuth
// callback, and st minting. Every endpoint sits behind the API key
// middleware, which resolves the caller's principal when one is presented.
func NewMux(cfg MuxConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gadgets/makeRequest", cfg.Handlers.HandleMakeRequest())
	mux.HandleFunc("/gadgets/oauthcallback", cfg.Handlers.HandleCallback())
	mux.HandleFunc("/gadgets/st", cfg.Handlers.HandleSecurityToken())

	return auth.Middleware(cfg.APIKeys, cfg.Logger)(mux)
}
