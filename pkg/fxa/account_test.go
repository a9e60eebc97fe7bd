package fxa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testConfig points every endpoint group at one test server base.
func testConfig(base string) Config {
	return Config{
		ClientID:               "client123",
		ContentURL:             base,
		AuthURL:                base + "/v1",
		OAuthURL:               base + "/v1",
		ProfileURL:             base + "/v1",
		TokenServerEndpointURL: base + "/1.0/sync/1.5",
	}
}

func TestNewAccountRejectsInvalidConfig(t *testing.T) {
	_, err := NewAccount(Config{})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInvalidConfig))
}

func TestNewAccountDefaults(t *testing.T) {
	acct, err := NewAccount(testConfig("https://example.com"))
	require.NoError(t, err)

	require.NotNil(t, acct.client)
	assert.Equal(t, 30*time.Second, acct.client.Timeout)
	assert.NotNil(t, acct.log)
	assert.NotNil(t, acct.pending)
	assert.NotNil(t, acct.assertions)
	assert.Empty(t, acct.UID())
	assert.Empty(t, acct.Email())
}

func TestAccountOptions(t *testing.T) {
	hc := &http.Client{Timeout: 5 * time.Second}
	logger := zap.NewNop()
	fixed := time.Unix(1700000000, 0).UTC()

	acct, err := NewAccount(testConfig("https://example.com"),
		WithHTTPClient(hc),
		WithLogger(logger),
		WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	assert.Same(t, hc, acct.client)
	assert.Same(t, logger, acct.log)
	assert.Equal(t, fixed, acct.now())
}

func TestAccountOptionsIgnoreNil(t *testing.T) {
	acct, err := NewAccount(testConfig("https://example.com"),
		WithHTTPClient(nil),
		WithLogger(nil),
		WithClock(nil))
	require.NoError(t, err)

	assert.NotNil(t, acct.client)
	assert.NotNil(t, acct.log)
	assert.NotNil(t, acct.now)
}

func TestTokenServerEndpointURL(t *testing.T) {
	acct, err := NewAccount(testConfig("https://example.com"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/1.0/sync/1.5", acct.TokenServerEndpointURL())
}

func TestTokenUsable(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	tests := []struct {
		name  string
		token *accessToken
		want  bool
	}{
		{"no token", nil, false},
		{"empty token", &accessToken{}, false},
		{"non-expiring", &accessToken{token: "at"}, true},
		{"fresh", &accessToken{token: "at", expiresAt: now.Add(2 * time.Minute)}, true},
		{"inside expiry buffer", &accessToken{token: "at", expiresAt: now.Add(30 * time.Second)}, false},
		{"expired", &accessToken{token: "at", expiresAt: now.Add(-time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct, err := NewAccount(testConfig("https://example.com"),
				WithClock(func() time.Time { return now }))
			require.NoError(t, err)
			acct.accessToken = tt.token
			assert.Equal(t, tt.want, acct.tokenUsableLocked())
		})
	}
}

func TestStatus(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	acct, err := NewAccount(testConfig("https://example.com"))
	require.NoError(t, err)

	st := acct.Status()
	assert.Equal(t, AuthModeNone, st.Mode)
	assert.False(t, st.HasKeys)
	assert.False(t, st.HasAccessToken)

	acct.uid = "uid1"
	acct.email = "me@example.com"
	acct.verified = true
	acct.refreshToken = "rt"
	acct.keyB = make([]byte, 32)
	acct.accessToken = &accessToken{
		token:     "at",
		scope:     []string{"profile"},
		expiresAt: now.Add(time.Hour),
	}

	st = acct.Status()
	assert.Equal(t, "uid1", st.UID)
	assert.Equal(t, "me@example.com", st.Email)
	assert.True(t, st.Verified)
	assert.Equal(t, AuthModeOAuth, st.Mode)
	assert.True(t, st.HasKeys)
	assert.True(t, st.HasAccessToken)
	assert.Equal(t, []string{"profile"}, st.AccessTokenScope)
	assert.Equal(t, now.Add(time.Hour), st.AccessTokenExpiresAt)

	// The scope slice is a copy, not a window into account state.
	st.AccessTokenScope[0] = "mutated"
	assert.Equal(t, []string{"profile"}, acct.accessToken.scope)

	acct.refreshToken = ""
	acct.sessionToken = "00ff"
	assert.Equal(t, AuthModeSession, acct.Status().Mode)
}

func TestAccessTokenPublicAccessor(t *testing.T) {
	acct, err := NewAccount(testConfig("https://unreachable.invalid"))
	require.NoError(t, err)

	_, err = acct.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnauthenticated))

	acct.accessToken = &accessToken{token: "at-pub"}
	tok, err := acct.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-pub", tok)
}

func TestEnsureAccessTokenReturnsCached(t *testing.T) {
	// No server behind the config: a network call would fail loudly.
	acct, err := NewAccount(testConfig("https://unreachable.invalid"))
	require.NoError(t, err)
	acct.accessToken = &accessToken{token: "cached-token"}

	tok, err := acct.ensureAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached-token", tok)
}

func TestEnsureAccessTokenRenewsStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "rt-1", r.FormValue("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-new",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.refreshToken = "rt-1"
	acct.accessToken = &accessToken{token: "at-old", expiresAt: time.Now().Add(-time.Hour)}

	tok, err := acct.ensureAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok)
	assert.Equal(t, "rt-1", acct.refreshToken, "absent refresh token in the response keeps the old one")
	assert.False(t, acct.lastRefreshedAt.IsZero())
}
