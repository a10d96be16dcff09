package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxRemoteIP
)

// RequestUserID returns the authenticated principal from the context, or "".
func RequestUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// WithUserID returns a context carrying userID as the authenticated
// principal.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

// Middleware resolves the caller's principal from an API key bearer
// token. Requests without an Authorization header pass through
// unauthenticated so the token factory can fall back to the st parameter
// or the anonymous identity. A presented but unknown key is rejected.
func Middleware(keys *APIKeys, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			ctx := context.WithValue(r.Context(), ctxRemoteIP, ip)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			key, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || !strings.HasPrefix(key, APIKeyPrefix) {
				logger.Debug("middleware: unsupported authorization scheme",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			userID, ok := keys.Validate(key)
			if !ok {
				logger.Debug("middleware: invalid API key",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			logger.Debug("middleware: authenticated via API key",
				slog.String("user_id", userID),
				slog.String("ip", ip),
			)

			next.ServeHTTP(w, r.WithContext(WithUserID(ctx, userID)))
		})
	}
}
