package fxa

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func tokenWithExtra(extra map[string]any) *oauth2.Token {
	return (&oauth2.Token{AccessToken: "at"}).WithExtra(extra)
}

func TestBeginOAuthFlowURL(t *testing.T) {
	acct, err := NewAccount(testConfig("https://accounts.example.com"))
	require.NoError(t, err)

	authURL, err := acct.BeginOAuthFlow("https://app.example.com/redirect",
		[]string{"profile", ScopeSync}, true)
	require.NoError(t, err, "BeginOAuthFlow failed")

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL, "https://accounts.example.com/authorization?"),
		"authorization URL must target the content server, got %s", authURL)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client123", q.Get("client_id"))
	assert.Equal(t, "https://app.example.com/redirect", q.Get("redirect_uri"))
	assert.Equal(t, "profile "+ScopeSync, q.Get("scope"), "scopes keep their given order")
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))

	state := q.Get("state")
	require.NotEmpty(t, state)
	flow, ok := acct.pending[state]
	require.True(t, ok, "state must identify a pending flow")
	assert.True(t, flow.wantsKeys)
	require.NotNil(t, flow.flowKey)

	// The challenge is the S256 digest of the stored verifier.
	h := sha256.Sum256([]byte(flow.verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(h[:]), q.Get("code_challenge"))

	// keys_jwk advertises the flow's public key.
	jwkParam := q.Get("keys_jwk")
	require.NotEmpty(t, jwkParam)
	raw, err := base64.RawURLEncoding.DecodeString(jwkParam)
	require.NoError(t, err)
	var jwk map[string]any
	require.NoError(t, json.Unmarshal(raw, &jwk))
	assert.Equal(t, "EC", jwk["kty"])
}

func TestBeginOAuthFlowWithoutKeys(t *testing.T) {
	acct, err := NewAccount(testConfig("https://accounts.example.com"))
	require.NoError(t, err)

	authURL, err := acct.BeginOAuthFlow("https://app.example.com/redirect", []string{"profile"}, false)
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Empty(t, q.Get("keys_jwk"))

	flow := acct.pending[q.Get("state")]
	require.NotNil(t, flow)
	assert.False(t, flow.wantsKeys)
	assert.Nil(t, flow.flowKey)
}

func TestBeginOAuthFlowValidation(t *testing.T) {
	acct, err := NewAccount(testConfig("https://accounts.example.com"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		redirect string
		scopes   []string
		wantCode ErrorCode
	}{
		{"empty redirect", "", []string{"profile"}, CodeInvalidConfig},
		{"no scopes", "https://app.example.com/r", nil, CodeInvalidScope},
		{"empty scope list", "https://app.example.com/r", []string{}, CodeInvalidScope},
		{"blank scope element", "https://app.example.com/r", []string{"profile", "  "}, CodeInvalidScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := acct.BeginOAuthFlow(tt.redirect, tt.scopes, false)
			require.Error(t, err)
			assert.True(t, IsCode(err, tt.wantCode), "got %v", err)
		})
	}
	assert.Empty(t, acct.pending, "failed begins must not leave pending flows behind")
}

func TestBeginOAuthFlowStateUniqueness(t *testing.T) {
	acct, err := NewAccount(testConfig("https://accounts.example.com"))
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		authURL, err := acct.BeginOAuthFlow("https://app.example.com/r", []string{"profile"}, false)
		require.NoError(t, err)
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		state := u.Query().Get("state")

		raw, err := base64.RawURLEncoding.DecodeString(state)
		require.NoError(t, err)
		assert.Len(t, raw, 16)
		assert.False(t, seen[state], "state %q repeated", state)
		seen[state] = true
	}
	assert.Len(t, acct.pending, 10, "independent flows stay pending side by side")
}

func TestCompleteOAuthFlow(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm

		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client123", user)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-123",
			"token_type":    "bearer",
			"expires_in":    3600,
			"refresh_token": "rt-456",
			"scope":         "profile",
		})
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.sessionToken = "c0ffee" // flow completion must displace it

	authURL, err := acct.BeginOAuthFlow("https://app.example.com/redirect", []string{"profile"}, false)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	verifier := acct.pending[state].verifier

	info, err := acct.CompleteOAuthFlow(context.Background(), "code-abc", state)
	require.NoError(t, err, "CompleteOAuthFlow failed")

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "code-abc", gotForm.Get("code"))
	assert.Equal(t, "https://app.example.com/redirect", gotForm.Get("redirect_uri"))
	assert.Equal(t, verifier, gotForm.Get("code_verifier"))

	assert.Equal(t, "at-123", info.AccessToken)
	assert.Equal(t, []string{"profile"}, info.Scope)
	assert.Empty(t, info.KeysJWE)

	require.NotNil(t, acct.accessToken)
	assert.Equal(t, "at-123", acct.accessToken.token)
	assert.Equal(t, []string{"profile"}, acct.accessToken.scope)
	assert.False(t, acct.accessToken.expiresAt.IsZero())
	assert.Equal(t, "rt-456", acct.refreshToken)
	assert.Empty(t, acct.sessionToken, "OAuth tokens and a session credential never coexist")
	assert.Empty(t, acct.pending, "completion consumes the flow")
}

func TestCompleteOAuthFlowSingleUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-123",
			"token_type":   "bearer",
		})
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)

	authURL, err := acct.BeginOAuthFlow("https://app.example.com/r", []string{"profile"}, false)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")

	_, err = acct.CompleteOAuthFlow(context.Background(), "code-abc", state)
	require.NoError(t, err)

	_, err = acct.CompleteOAuthFlow(context.Background(), "code-abc", state)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnknownOAuthState))
}

func TestCompleteOAuthFlowUnknownState(t *testing.T) {
	acct, err := NewAccount(testConfig("https://accounts.example.com"))
	require.NoError(t, err)

	_, err = acct.CompleteOAuthFlow(context.Background(), "code-abc", "never-begun")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnknownOAuthState))
}

func TestCompleteOAuthFlowExpiredState(t *testing.T) {
	current := time.Unix(1700000000, 0).UTC()
	acct, err := NewAccount(testConfig("https://accounts.example.com"),
		WithClock(func() time.Time { return current }))
	require.NoError(t, err)

	authURL, err := acct.BeginOAuthFlow("https://app.example.com/r", []string{"profile"}, false)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")

	current = current.Add(16 * time.Minute)

	_, err = acct.CompleteOAuthFlow(context.Background(), "code-abc", state)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeExpiredOAuthState))

	// Expiry consumed the flow too.
	_, err = acct.CompleteOAuthFlow(context.Background(), "code-abc", state)
	assert.True(t, IsCode(err, CodeUnknownOAuthState))
}

func TestBeginOAuthFlowSweepsExpired(t *testing.T) {
	current := time.Unix(1700000000, 0).UTC()
	acct, err := NewAccount(testConfig("https://accounts.example.com"),
		WithClock(func() time.Time { return current }))
	require.NoError(t, err)

	_, err = acct.BeginOAuthFlow("https://app.example.com/r", []string{"profile"}, false)
	require.NoError(t, err)
	require.Len(t, acct.pending, 1)

	current = current.Add(16 * time.Minute)

	_, err = acct.BeginOAuthFlow("https://app.example.com/r", []string{"profile"}, false)
	require.NoError(t, err)
	assert.Len(t, acct.pending, 1, "the stale flow is swept when a new one begins")
}

func TestCompleteOAuthFlowServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)

	authURL, err := acct.BeginOAuthFlow("https://app.example.com/r", []string{"profile"}, false)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)

	_, err = acct.CompleteOAuthFlow(context.Background(), "bad-code", u.Query().Get("state"))
	require.Error(t, err)
	require.True(t, IsCode(err, CodeTokenExchangeFailed), "got %v", err)

	var fxaErr *Error
	require.ErrorAs(t, err, &fxaErr)
	assert.Equal(t, http.StatusBadRequest, fxaErr.RemoteStatus)
	assert.Contains(t, fxaErr.RemoteDetail, "invalid_grant")
	assert.Nil(t, acct.accessToken, "a failed exchange leaves no token behind")
}

func TestCompleteOAuthFlowTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)

	authURL, err := acct.BeginOAuthFlow("https://app.example.com/r", []string{"profile"}, false)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = acct.CompleteOAuthFlow(ctx, "code-abc", u.Query().Get("state"))
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeTimeout), "got %v", err)
}

func TestRefreshAccessTokenReplacesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "rt-old", r.FormValue("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-new",
			"token_type":    "bearer",
			"expires_in":    3600,
			"refresh_token": "rt-new",
			"scope":         "profile " + ScopeSync,
		})
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.refreshToken = "rt-old"

	require.NoError(t, acct.RefreshAccessToken(context.Background()))

	assert.Equal(t, "rt-new", acct.refreshToken)
	require.NotNil(t, acct.accessToken)
	assert.Equal(t, "at-new", acct.accessToken.token)
	assert.Equal(t, []string{"profile", ScopeSync}, acct.accessToken.scope)
}

func TestRefreshAccessTokenWithoutCredential(t *testing.T) {
	acct, err := NewAccount(testConfig("https://accounts.example.com"))
	require.NoError(t, err)

	err = acct.RefreshAccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnauthenticated))
}

func TestDestroyAccessToken(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/destroy", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.accessToken = &accessToken{token: "at-123"}

	require.NoError(t, acct.DestroyAccessToken(context.Background()))
	assert.Equal(t, "at-123", gotBody["token"])
	assert.Equal(t, "client123", gotBody["client_id"])
	assert.Nil(t, acct.accessToken)
}

func TestDestroyAccessTokenWithoutToken(t *testing.T) {
	acct, err := NewAccount(testConfig("https://accounts.example.com"))
	require.NoError(t, err)

	err = acct.DestroyAccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnauthenticated))
}

func TestDestroyAccessTokenServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":400,"errno":108,"error":"Bad Request","message":"Invalid token"}`))
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.accessToken = &accessToken{token: "at-123"}

	err = acct.DestroyAccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeTokenExchangeFailed))
	assert.NotNil(t, acct.accessToken, "the local token survives a failed revocation")
}

func TestGrantedScopes(t *testing.T) {
	withScope := tokenWithExtra(map[string]any{"scope": "profile  https://identity.mozilla.com/apps/oldsync"})
	assert.Equal(t, []string{"profile", ScopeSync}, grantedScopes(withScope, []string{"ignored"}))

	without := tokenWithExtra(map[string]any{})
	requested := []string{"profile"}
	got := grantedScopes(without, requested)
	assert.Equal(t, requested, got)
	got[0] = "mutated"
	assert.Equal(t, "profile", requested[0], "fallback must copy, not alias")
}
