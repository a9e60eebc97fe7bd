package fxa

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// flowTTL bounds how long a begun flow stays completable. Expiry is
// checked lazily when the flow is looked up, never by a timer.
const flowTTL = 15 * time.Minute

// pendingFlow is the engine-local record for one begun, not yet
// completed authorization flow, keyed by its state token.
type pendingFlow struct {
	verifier    string
	redirectURI string
	scopes      []string
	wantsKeys   bool
	createdAt   time.Time
	flowKey     *ecdsa.PrivateKey // nil unless wantsKeys
}

// OAuthInfo is the outcome of a completed authorization flow. The value
// is the caller's; it never aliases account state.
type OAuthInfo struct {
	AccessToken string
	KeysJWE     string // empty when the flow did not request keys
	Scope       []string
}

func (a *Account) oauth2Config(redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    a.cfg.ClientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  a.cfg.AuthorizationEndpointURL(),
			TokenURL: a.cfg.TokenEndpointURL(),
		},
	}
}

// BeginOAuthFlow starts an authorization-code + PKCE flow and returns
// the URL to send the user agent to. Scopes appear in the URL in the
// order given. When wantsKeys is true the URL additionally carries a
// keys_jwk parameter so the server can return encrypted key material at
// completion.
func (a *Account) BeginOAuthFlow(redirectURI string, scopes []string, wantsKeys bool) (string, error) {
	if redirectURI == "" {
		return "", ErrInvalidConfig("redirect URI must not be empty")
	}
	if len(scopes) == 0 {
		return "", ErrInvalidScope("at least one scope is required")
	}
	for _, s := range scopes {
		if strings.TrimSpace(s) == "" {
			return "", ErrInvalidScope("scope elements must not be empty")
		}
	}

	state := generateState()
	flow := &pendingFlow{
		verifier:    oauth2.GenerateVerifier(),
		redirectURI: redirectURI,
		scopes:      append([]string(nil), scopes...),
		wantsKeys:   wantsKeys,
		createdAt:   a.now(),
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(flow.verifier),
	}
	if wantsKeys {
		key, jwkParam, err := newFlowKeys()
		if err != nil {
			return "", err
		}
		flow.flowKey = key
		opts = append(opts, oauth2.SetAuthURLParam("keys_jwk", jwkParam))
	}

	a.mu.Lock()
	a.sweepPendingLocked()
	a.pending[state] = flow
	a.mu.Unlock()

	a.log.Debug("oauth flow started",
		zap.String("state", state),
		zap.Strings("scopes", scopes),
		zap.Bool("wants_keys", wantsKeys))

	return a.oauth2Config(redirectURI, flow.scopes).AuthCodeURL(state, opts...), nil
}

// CompleteOAuthFlow exchanges the authorization code for tokens. The
// state must identify a flow begun on this handle; each state completes
// at most once. On success the account's token state is updated and,
// for a keys-requesting flow, the returned key material is unwrapped
// and stored.
func (a *Account) CompleteOAuthFlow(ctx context.Context, code, state string) (*OAuthInfo, error) {
	a.mu.Lock()
	flow, ok := a.pending[state]
	if ok {
		delete(a.pending, state)
	}
	a.mu.Unlock()
	if !ok {
		return nil, ErrUnknownOAuthState(state)
	}
	if a.now().Sub(flow.createdAt) > flowTTL {
		a.log.Debug("oauth flow expired", zap.String("state", state))
		return nil, ErrExpiredOAuthState(state)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	tok, err := a.oauth2Config(flow.redirectURI, flow.scopes).
		Exchange(ctx, code, oauth2.VerifierOption(flow.verifier))
	if err != nil {
		return nil, mapExchangeError(err)
	}

	info := &OAuthInfo{
		AccessToken: tok.AccessToken,
		Scope:       grantedScopes(tok, flow.scopes),
	}
	if jwe, ok := tok.Extra("keys_jwe").(string); ok {
		info.KeysJWE = jwe
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyOAuthTokenLocked(tok, info.Scope)
	if flow.wantsKeys && info.KeysJWE != "" {
		// Token state above stays applied even if unwrapping fails.
		if err := a.unwrapFlowKeysLocked(flow.flowKey, info.KeysJWE); err != nil {
			return nil, err
		}
	}

	a.log.Debug("oauth flow completed",
		zap.String("state", state),
		zap.Strings("granted_scopes", info.Scope),
		zap.Bool("keys_jwe_present", info.KeysJWE != ""))

	return info, nil
}

// RefreshAccessToken renews the cached access token. With a refresh
// token it runs the refresh grant; with a session credential it mints a
// token through the assertion grant. Fails with Unauthenticated when
// neither credential is present.
func (a *Account) RefreshAccessToken(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renewAccessTokenLocked(ctx)
}

func (a *Account) renewAccessTokenLocked(ctx context.Context) error {
	switch {
	case a.refreshToken != "":
		return a.refreshGrantLocked(ctx)
	case a.sessionToken != "":
		scopes := []string{ScopeProfile}
		if a.accessToken != nil && len(a.accessToken.scope) > 0 {
			scopes = a.accessToken.scope
		}
		return a.sessionGrantLocked(ctx, scopes)
	default:
		return ErrUnauthenticated("no refresh token or session credential to renew with")
	}
}

// refreshGrantLocked runs grant_type=refresh_token against the token
// endpoint. Caller holds a.mu.
func (a *Account) refreshGrantLocked(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	src := a.oauth2Config("", nil).TokenSource(ctx, &oauth2.Token{RefreshToken: a.refreshToken})
	tok, err := src.Token()
	if err != nil {
		return mapExchangeError(err)
	}

	var prior []string
	if a.accessToken != nil {
		prior = a.accessToken.scope
	}
	a.applyOAuthTokenLocked(tok, grantedScopes(tok, prior))
	a.log.Debug("access token refreshed", zap.Time("expires_at", tok.Expiry))
	return nil
}

// DestroyAccessToken revokes the cached access token upstream and drops
// it from account state.
func (a *Account) DestroyAccessToken(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accessToken == nil || a.accessToken.token == "" {
		return ErrUnauthenticated("no access token to destroy")
	}

	body := map[string]string{
		"token":     a.accessToken.token,
		"client_id": a.cfg.ClientID,
	}
	if err := a.doJSON(ctx, "POST", a.cfg.DestroyEndpointURL(), nil, body, nil, CodeTokenExchangeFailed); err != nil {
		return err
	}
	a.accessToken = nil
	return nil
}

// applyOAuthTokenLocked installs tokens from a browser flow or refresh
// grant. A new refresh token replaces the old one; an absent one leaves
// the still-valid one in place. OAuth tokens and a session credential
// never coexist. Caller holds a.mu.
func (a *Account) applyOAuthTokenLocked(tok *oauth2.Token, scope []string) {
	a.accessToken = &accessToken{token: tok.AccessToken, scope: scope}
	if !tok.Expiry.IsZero() {
		a.accessToken.expiresAt = tok.Expiry.UTC()
	}
	if tok.RefreshToken != "" {
		a.refreshToken = tok.RefreshToken
	}
	a.sessionToken = ""
	a.keyFetchToken = ""
	a.lastRefreshedAt = a.now().UTC()
}

// sweepPendingLocked drops expired pending flows. Caller holds a.mu.
func (a *Account) sweepPendingLocked() {
	cutoff := a.now().Add(-flowTTL)
	for state, flow := range a.pending {
		if flow.createdAt.Before(cutoff) {
			delete(a.pending, state)
		}
	}
}

// grantedScopes extracts the scope list granted by the server, falling
// back to the requested list when the response omits it.
func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if s, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(s) != "" {
		return strings.Fields(s)
	}
	return append([]string(nil), requested...)
}

// mapExchangeError converts token endpoint failures into typed errors.
func mapExchangeError(err error) error {
	if terr := ctxErr(err); terr != nil {
		return terr
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return ErrTokenExchangeFailed(status, strings.TrimSpace(string(re.Body)), err)
	}
	return ErrTokenExchangeFailed(0, err.Error(), err)
}

// generateState returns a fresh anti-forgery state token.
func generateState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
