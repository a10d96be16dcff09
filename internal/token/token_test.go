package token

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/alexjbarnes/gadget-auth/internal/crypto"
	apperrors "github.com/alexjbarnes/gadget-auth/internal/errors"
	"github.com/alexjbarnes/gadget-auth/internal/token/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testCrypter(t *testing.T) Crypter {
	t.Helper()
	c, err := crypto.NewAEAD("token-test-secret-0123456789")
	require.NoError(t, err)
	return c
}

func sealPlaintext(t *testing.T, c Crypter, pt string) string {
	t.Helper()
	ct, err := c.Encrypt([]byte(pt))
	require.NoError(t, err)
	return base64.URLEncoding.EncodeToString(ct)
}

var aliceFields = Fields{
	Owner:     "alice",
	Viewer:    "alice",
	App:       "app1",
	Domain:    "example.com",
	Module:    "mod1",
	Container: "default",
}

// --- ToClientState / FromClientState ---

func TestClientState_RoundTrip(t *testing.T) {
	c := testCrypter(t)

	tuples := []Fields{
		aliceFields,
		{Owner: "o", Viewer: "v", App: "a", AppURL: "u", Domain: "d", Container: "c", Module: "m"},
		{},
		{Owner: "bob", Viewer: "carol", App: "https%3A%2F%2Fgadgets.example.com%2Fg.xml"},
	}

	for _, f := range tuples {
		state, err := New(c, f).ToClientState()
		require.NoError(t, err)

		got, err := Decode(c, state)
		require.NoError(t, err)
		assert.Equal(t, f, got)

		decoded := New(c, Fields{}).FromClientState(state)
		assert.Equal(t, f, decoded.Fields())
	}
}

func TestClientState_ScenarioB(t *testing.T) {
	c := testCrypter(t)
	st := sealPlaintext(t, c, "o:alice:a:app1:v:alice:d:example.com:u::m:mod1:c:default")

	f, err := Decode(c, st)
	require.NoError(t, err)
	assert.Equal(t, "alice", f.Owner)
	assert.Equal(t, "alice", f.Viewer)
	assert.Equal(t, "app1", f.App)
	assert.Equal(t, "example.com", f.Domain)
	assert.Equal(t, "mod1", f.Module)
	assert.Equal(t, "default", f.Container)
	assert.Empty(t, f.AppURL)
}

func TestClientState_AcceptsStandardBase64(t *testing.T) {
	c := testCrypter(t)
	ct, err := c.Encrypt([]byte("o:alice:a:app1:v:alice:d:example.com:u::m:mod1:c:default"))
	require.NoError(t, err)

	f, err := Decode(c, base64.StdEncoding.EncodeToString(ct))
	require.NoError(t, err)
	assert.Equal(t, aliceFields, f)
}

func TestFromClientState_WrongPairCount_LeavesTokenUnchanged(t *testing.T) {
	c := testCrypter(t)
	original := New(c, aliceFields)

	for _, pt := range []string{
		"o:alice:a:app1:v:alice",
		"o:alice:a:app1:v:alice:d:example.com:u::m:mod1:c:default:x:extra",
		"o:alice:a:app1:v:alice:d:example.com:u::m:mod1:c",
		"",
	} {
		st := sealPlaintext(t, c, pt)

		got := original.FromClientState(st)
		assert.Same(t, original, got, "plaintext %q", pt)
		assert.Equal(t, aliceFields, got.Fields())

		_, err := Decode(c, st)
		assert.ErrorIs(t, err, apperrors.ErrInvalidClientState)
	}
}

func TestFromClientState_KeysOutOfOrder(t *testing.T) {
	c := testCrypter(t)
	st := sealPlaintext(t, c, "a:app1:o:alice:v:alice:d:example.com:u::m:mod1:c:default")

	_, err := Decode(c, st)
	assert.ErrorIs(t, err, apperrors.ErrInvalidClientState)
}

func TestFromClientState_BadBase64(t *testing.T) {
	c := testCrypter(t)
	original := New(c, aliceFields)

	assert.Same(t, original, original.FromClientState("!!not base64!!"))
}

func TestFromClientState_DecryptFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mc := mocks.NewMockCrypter(ctrl)
	mc.EXPECT().Decrypt(gomock.Any()).Return(nil, errors.New("bad tag"))

	original := New(mc, aliceFields)
	st := base64.URLEncoding.EncodeToString([]byte("garbage"))

	assert.Same(t, original, original.FromClientState(st))
}

func TestFromClientState_DecryptPanicIsRecovered(t *testing.T) {
	ctrl := gomock.NewController(t)
	mc := mocks.NewMockCrypter(ctrl)
	mc.EXPECT().Decrypt(gomock.Any()).DoAndReturn(func([]byte) ([]byte, error) {
		panic("index out of range")
	})

	_, err := Decode(mc, base64.URLEncoding.EncodeToString([]byte("x")))
	assert.ErrorIs(t, err, apperrors.ErrInvalidClientState)
}

func TestToClientState_RejectsSeparatorInField(t *testing.T) {
	c := testCrypter(t)
	f := aliceFields
	f.AppURL = "https://gadgets.example.com/g.xml"

	_, err := New(c, f).ToClientState()
	assert.ErrorIs(t, err, apperrors.ErrInvalidClientState)
}

func TestToClientState_NoCrypter(t *testing.T) {
	_, err := New(nil, aliceFields).ToClientState()
	assert.ErrorIs(t, err, apperrors.ErrInvalidClientState)
}

// --- Memoization ---

func TestToClientState_EncryptsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	mc := mocks.NewMockCrypter(ctrl)
	mc.EXPECT().
		Encrypt([]byte("o:alice:a:app1:v:alice:d:example.com:u::m:mod1:c:default")).
		Return([]byte("sealed"), nil).
		Times(1)

	tok := New(mc, aliceFields)

	first, err := tok.ToClientState()
	require.NoError(t, err)
	second, err := tok.ToClientState()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, base64.URLEncoding.EncodeToString([]byte("sealed")), first)
}

func TestToClientState_MemoizesError(t *testing.T) {
	ctrl := gomock.NewController(t)
	mc := mocks.NewMockCrypter(ctrl)
	mc.EXPECT().Encrypt(gomock.Any()).Return(nil, errors.New("hsm offline")).Times(1)

	tok := New(mc, aliceFields)

	_, err1 := tok.ToClientState()
	_, err2 := tok.ToClientState()
	assert.Error(t, err1)
	assert.Equal(t, err1, err2)
}

func TestToClientState_NilCiphertext(t *testing.T) {
	ctrl := gomock.NewController(t)
	mc := mocks.NewMockCrypter(ctrl)
	mc.EXPECT().Encrypt(gomock.Any()).Return(nil, nil)

	_, err := New(mc, aliceFields).ToClientState()
	assert.ErrorIs(t, err, apperrors.ErrInvalidClientState)
}

// --- Anonymous ---

func TestNewAnonymous(t *testing.T) {
	tok := NewAnonymous(nil, "anonymous", "gadget-42")

	assert.True(t, tok.IsAnonymous())
	assert.Equal(t, "anonymous", tok.Owner())
	assert.Equal(t, "anonymous", tok.Viewer())
	assert.Equal(t, "gadget-42", tok.AppID())
	assert.Empty(t, tok.AppURL())
	assert.Empty(t, tok.Domain())
	assert.Empty(t, tok.Container())
	assert.Empty(t, tok.ModuleID())
	assert.False(t, New(nil, aliceFields).IsAnonymous())
}

// --- OAuthToken ---

func TestParseAuthz(t *testing.T) {
	tests := []struct {
		in     string
		want   Scheme
		signed bool
	}{
		{"OAUTH", SchemeOAuth1, true},
		{"oauth", SchemeOAuth1, true},
		{"OAUTH2", SchemeOAuth2, true},
		{"oAuth2", SchemeOAuth2, true},
		{"SIGNED", SchemeOAuth2, true},
		{"NONE", "", false},
		{"", "", false},
		{"kerberos", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseAuthz(tt.in)
		assert.Equal(t, tt.signed, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestOAuthToken_State(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	base := New(nil, aliceFields)

	tok := NewOAuth(base, SchemeOAuth2, "calendar")
	assert.Equal(t, StateNoToken, tok.State(now))

	tok.StateHandle = "pending"
	assert.Equal(t, StateRequestToken, tok.State(now), "pending oauth2 authorization")

	tok.AccessOrRequestToken = "req"
	assert.Equal(t, StateRequestToken, tok.State(now))

	tok.IsAccessToken = true
	assert.Equal(t, StateAccessToken, tok.State(now), "no expiry never expires")

	tok.Expiry = now.Add(time.Hour)
	assert.Equal(t, StateAccessToken, tok.State(now))

	tok.Expiry = now.Add(ExpiryMargin / 2)
	assert.Equal(t, StateExpired, tok.State(now), "inside the margin counts as expired")

	tok.Expiry = now.Add(-time.Minute)
	assert.Equal(t, StateExpired, tok.State(now))
}

func TestOAuthToken_MarshalRoundTrip(t *testing.T) {
	c := testCrypter(t)
	tok := NewOAuth(New(c, aliceFields), SchemeOAuth1, "photos")
	tok.AccessOrRequestToken = "at"
	tok.TokenSecret = "ts"
	tok.StateHandle = "handle"
	tok.Expiry = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tok.IsAccessToken = true

	data, err := tok.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalOAuth(c, data)
	require.NoError(t, err)
	assert.Equal(t, aliceFields, got.Fields())
	assert.Equal(t, SchemeOAuth1, got.Scheme)
	assert.Equal(t, "photos", got.Service)
	assert.Equal(t, "at", got.AccessOrRequestToken)
	assert.Equal(t, "ts", got.TokenSecret)
	assert.Equal(t, "handle", got.StateHandle)
	assert.True(t, got.Expiry.Equal(tok.Expiry))
	assert.True(t, got.IsAccessToken)

	state, err := got.ToClientState()
	require.NoError(t, err)
	assert.NotEmpty(t, state, "unmarshalled token carries the crypter")
}

func TestOAuthToken_StringRedactsSecrets(t *testing.T) {
	tok := NewOAuth(New(nil, aliceFields), SchemeOAuth2, "calendar")
	tok.AccessOrRequestToken = "super-secret-access-token"
	tok.TokenSecret = "super-secret"

	s := tok.String()
	assert.NotContains(t, s, "super-secret")
	assert.Contains(t, s, "REDACTED")
}
