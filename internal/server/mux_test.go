package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexjbarnes/gadget-auth/internal/auth"
	"github.com/alexjbarnes/gadget-auth/internal/cache"
	"github.com/alexjbarnes/gadget-auth/internal/crypto"
	"github.com/alexjbarnes/gadget-auth/internal/oauth"
	"github.com/alexjbarnes/gadget-auth/internal/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMux(t *testing.T, keys *auth.APIKeys) http.Handler {
	t.Helper()

	c, err := crypto.NewAEAD("server-test-secret-0123")
	require.NoError(t, err)

	mem := cache.NewMemory()
	t.Cleanup(mem.Stop)

	handlers, err := oauth.NewHandlers()
	require.NoError(t, err)

	return NewMux(MuxConfig{
		Handlers: &proxy.Handlers{
			Factory:      &auth.Factory{Crypter: c, Cache: mem, AnonymousName: "anonymous", Logger: testLogger()},
			Orchestrator: proxy.NewOrchestrator(handlers, testLogger()),
			Forwarder:    &proxy.Forwarder{},
			Logger:       testLogger(),
		},
		APIKeys: keys,
		Logger:  testLogger(),
	})
}

func TestNewMux_Routes(t *testing.T) {
	mux := testMux(t, auth.NewAPIKeys(nil))

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/gadgets/makeRequest?gadget=g", http.StatusBadRequest},
		{http.MethodDelete, "/gadgets/makeRequest", http.StatusMethodNotAllowed},
		{http.MethodGet, "/gadgets/oauthcallback", http.StatusBadRequest},
		{http.MethodGet, "/gadgets/st", http.StatusMethodNotAllowed},
		{http.MethodPost, "/gadgets/st", http.StatusUnauthorized},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestNewMux_RejectsUnknownAPIKey(t *testing.T) {
	mux := testMux(t, auth.NewAPIKeys([]auth.APIKey{{UserID: "alice", Key: auth.GenerateAPIKey()}}))

	req := httptest.NewRequest(http.MethodGet, "/gadgets/makeRequest?gadget=g", nil)
	req.Header.Set("Authorization", "Bearer "+auth.GenerateAPIKey())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
