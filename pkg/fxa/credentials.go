package fxa

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// credentialsSchemaVersion is bumped when the persisted layout changes
// incompatibly. Version 1 is the initial layout.
const credentialsSchemaVersion = 1

// storedAccessToken is the persisted form of a cached OAuth access token.
type storedAccessToken struct {
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expires_at,omitempty"` // unix seconds
	Scope     []string `json:"scope,omitempty"`
}

// storedProfile is the persisted form of the profile cache entry.
type storedProfile struct {
	Profile   Profile `json:"profile"`
	ETag      string  `json:"etag,omitempty"`
	FetchedAt int64   `json:"fetched_at,omitempty"` // unix seconds
}

// storedCredentials is the serialized account state. Unknown fields in a
// persisted blob are ignored so newer writers stay readable as long as
// the schema version matches.
type storedCredentials struct {
	SchemaVersion   int                        `json:"schema_version"`
	UID             string                     `json:"uid,omitempty"`
	Email           string                     `json:"email,omitempty"`
	Verified        bool                       `json:"verified,omitempty"`
	SessionToken    string                     `json:"session_token,omitempty"` // hex
	KeyFetchToken   string                     `json:"key_fetch_token,omitempty"`
	RefreshToken    string                     `json:"refresh_token,omitempty"`
	KeyB            string                     `json:"key_b,omitempty"` // hex, 32 bytes
	ScopedKeys      map[string]json.RawMessage `json:"scoped_keys,omitempty"`
	AccessToken     *storedAccessToken         `json:"access_token,omitempty"`
	Profile         *storedProfile             `json:"profile,omitempty"`
	LastRefreshedAt int64                      `json:"last_refreshed_at,omitempty"` // unix seconds
}

// Credentials serializes the account's current authentication state.
// The result round-trips through FromCredentials. Pending OAuth flows are
// process-local and never serialized.
func (a *Account) Credentials() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sc := storedCredentials{
		SchemaVersion: credentialsSchemaVersion,
		UID:           a.uid,
		Email:         a.email,
		Verified:      a.verified,
		SessionToken:  a.sessionToken,
		KeyFetchToken: a.keyFetchToken,
		RefreshToken:  a.refreshToken,
		ScopedKeys:    a.scopedKeys,
	}
	if len(a.keyB) > 0 {
		sc.KeyB = hex.EncodeToString(a.keyB)
	}
	if a.accessToken != nil {
		sc.AccessToken = &storedAccessToken{
			Token: a.accessToken.token,
			Scope: a.accessToken.scope,
		}
		if !a.accessToken.expiresAt.IsZero() {
			sc.AccessToken.ExpiresAt = a.accessToken.expiresAt.Unix()
		}
	}
	if a.profileCache != nil {
		sc.Profile = &storedProfile{
			Profile: a.profileCache.profile,
			ETag:    a.profileCache.etag,
		}
		if !a.profileCache.fetchedAt.IsZero() {
			sc.Profile.FetchedAt = a.profileCache.fetchedAt.Unix()
		}
	}
	if !a.lastRefreshedAt.IsZero() {
		sc.LastRefreshedAt = a.lastRefreshedAt.Unix()
	}

	buf, err := json.Marshal(sc)
	if err != nil {
		return "", ErrMalformedCredentials("cannot serialize credentials", err)
	}
	return string(buf), nil
}

// restoreCredentials parses a serialized blob and loads it into the
// account. Called during construction, before the handle is shared.
func (a *Account) restoreCredentials(serialized string) error {
	var sc storedCredentials
	if err := json.Unmarshal([]byte(serialized), &sc); err != nil {
		return ErrMalformedCredentials("credentials are not valid JSON", err)
	}
	if sc.SchemaVersion != credentialsSchemaVersion {
		return ErrMalformedCredentials(
			fmt.Sprintf("unsupported credentials schema version %d", sc.SchemaVersion), nil)
	}
	if sc.SessionToken != "" && sc.RefreshToken != "" {
		return ErrMalformedCredentials("credentials carry both a session token and a refresh token", nil)
	}
	if sc.SessionToken != "" {
		if _, err := hex.DecodeString(sc.SessionToken); err != nil {
			return ErrMalformedCredentials("session token is not hex", err)
		}
	}
	var keyB []byte
	if sc.KeyB != "" {
		b, err := hex.DecodeString(sc.KeyB)
		if err != nil {
			return ErrMalformedCredentials("key_b is not hex", err)
		}
		if len(b) != syncKeyLength {
			return ErrMalformedCredentials(
				fmt.Sprintf("key_b must be %d bytes, got %d", syncKeyLength, len(b)), nil)
		}
		keyB = b
	}

	a.uid = sc.UID
	a.email = sc.Email
	a.verified = sc.Verified
	a.sessionToken = sc.SessionToken
	a.keyFetchToken = sc.KeyFetchToken
	a.refreshToken = sc.RefreshToken
	a.keyB = keyB
	a.scopedKeys = sc.ScopedKeys
	a.accessToken = nil
	if sc.AccessToken != nil {
		at := &accessToken{
			token: sc.AccessToken.Token,
			scope: sc.AccessToken.Scope,
		}
		if sc.AccessToken.ExpiresAt != 0 {
			at.expiresAt = time.Unix(sc.AccessToken.ExpiresAt, 0).UTC()
		}
		a.accessToken = at
	}
	a.profileCache = nil
	if sc.Profile != nil {
		pc := &profileCache{
			profile: sc.Profile.Profile,
			etag:    sc.Profile.ETag,
		}
		if sc.Profile.FetchedAt != 0 {
			pc.fetchedAt = time.Unix(sc.Profile.FetchedAt, 0).UTC()
		}
		a.profileCache = pc
	}
	if sc.LastRefreshedAt != 0 {
		a.lastRefreshedAt = time.Unix(sc.LastRefreshedAt, 0).UTC()
	}
	return nil
}
