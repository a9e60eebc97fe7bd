package fxa

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsFreshAccount(t *testing.T) {
	acct, err := NewAccount(Release("client123"))
	require.NoError(t, err)

	serialized, err := acct.Credentials()
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(serialized), &fields))
	assert.Len(t, fields, 1, "a fresh account serializes the schema version and nothing else")
	assert.Equal(t, "1", string(fields["schema_version"]))
}

func TestCredentialsRoundTripSessionMode(t *testing.T) {
	acct, err := NewAccount(Release("client123"))
	require.NoError(t, err)

	acct.uid = "abad1dea"
	acct.email = "test@example.com"
	acct.verified = true
	acct.sessionToken = "c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00"
	acct.keyFetchToken = "deadbeef"
	acct.keyB = bytes.Repeat([]byte{0xab}, 32)
	acct.accessToken = &accessToken{
		token:     "bearer-token",
		expiresAt: time.Unix(1700003600, 0).UTC(),
		scope:     []string{"profile", "https://identity.mozilla.com/apps/oldsync"},
	}
	acct.profileCache = &profileCache{
		profile:   Profile{UID: "abad1dea", Email: "test@example.com", DisplayName: "Tester"},
		etag:      `W/"3f-xyz"`,
		fetchedAt: time.Unix(1700000100, 0).UTC(),
	}
	acct.lastRefreshedAt = time.Unix(1700000000, 0).UTC()

	serialized, err := acct.Credentials()
	require.NoError(t, err, "Credentials failed")

	restored, err := FromCredentials(Release("client123"), serialized)
	require.NoError(t, err, "FromCredentials failed")

	assert.Equal(t, acct.uid, restored.uid)
	assert.Equal(t, acct.email, restored.email)
	assert.Equal(t, acct.verified, restored.verified)
	assert.Equal(t, acct.sessionToken, restored.sessionToken)
	assert.Equal(t, acct.keyFetchToken, restored.keyFetchToken)
	assert.Equal(t, acct.keyB, restored.keyB)
	require.NotNil(t, restored.accessToken)
	assert.Equal(t, acct.accessToken.token, restored.accessToken.token)
	assert.Equal(t, acct.accessToken.expiresAt, restored.accessToken.expiresAt)
	assert.Equal(t, acct.accessToken.scope, restored.accessToken.scope)
	require.NotNil(t, restored.profileCache)
	assert.Equal(t, acct.profileCache.profile, restored.profileCache.profile)
	assert.Equal(t, acct.profileCache.etag, restored.profileCache.etag)
	assert.Equal(t, acct.profileCache.fetchedAt, restored.profileCache.fetchedAt)
	assert.Equal(t, acct.lastRefreshedAt, restored.lastRefreshedAt)

	// Serializing the restored handle reproduces the blob exactly.
	again, err := restored.Credentials()
	require.NoError(t, err)
	assert.Equal(t, serialized, again)
}

func TestCredentialsRoundTripOAuthMode(t *testing.T) {
	acct, err := NewAccount(Release("client123"))
	require.NoError(t, err)

	acct.refreshToken = "refresh-abc"
	acct.scopedKeys = map[string]json.RawMessage{
		ScopeSync: json.RawMessage(`{"kty":"oct","k":"b64key","kid":"1-x"}`),
	}

	serialized, err := acct.Credentials()
	require.NoError(t, err)

	restored, err := FromCredentials(Release("client123"), serialized)
	require.NoError(t, err)

	assert.Equal(t, "refresh-abc", restored.refreshToken)
	assert.Empty(t, restored.sessionToken)
	require.Contains(t, restored.scopedKeys, ScopeSync)
	assert.JSONEq(t, string(acct.scopedKeys[ScopeSync]), string(restored.scopedKeys[ScopeSync]))
}

func TestFromCredentialsMalformed(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"not json", "{{{"},
		{"empty", ""},
		{"schema version zero", `{}`},
		{"unsupported schema version", `{"schema_version":99}`},
		{"both token kinds", `{"schema_version":1,"session_token":"c0ffee","refresh_token":"rt"}`},
		{"session token not hex", `{"schema_version":1,"session_token":"zznothex"}`},
		{"key_b not hex", `{"schema_version":1,"key_b":"xx"}`},
		{"key_b wrong length", `{"schema_version":1,"key_b":"abab"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromCredentials(Release("client123"), tt.blob)
			require.Error(t, err)
			assert.True(t, IsCode(err, CodeMalformedCredentials), "got %v", err)
		})
	}
}

func TestFromCredentialsIgnoresUnknownFields(t *testing.T) {
	blob := `{"schema_version":1,"email":"a@b.c","some_future_field":{"x":1}}`

	acct, err := FromCredentials(Release("client123"), blob)
	require.NoError(t, err, "unknown fields must not break restore")
	assert.Equal(t, "a@b.c", acct.email)
}

func TestFromCredentialsNonExpiringToken(t *testing.T) {
	blob := `{"schema_version":1,"refresh_token":"rt","access_token":{"token":"at","scope":["profile"]}}`

	acct, err := FromCredentials(Release("client123"), blob)
	require.NoError(t, err)
	require.NotNil(t, acct.accessToken)
	assert.True(t, acct.accessToken.expiresAt.IsZero())
	assert.True(t, acct.tokenUsableLocked(), "a token without expiry never goes stale")
}
