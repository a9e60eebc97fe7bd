package fxa

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// tokenExpiryBuffer is how long before actual expiry a cached access
// token is treated as stale and renewed.
const tokenExpiryBuffer = 60 * time.Second

// assertionCacheTTL must stay inside the signed certificate's 24 h
// validity and the assertion's own 1 h window.
const assertionCacheTTL = 50 * time.Minute

// Account is the handle for one logged-in account. It owns the
// credential state exclusively; everything returned to callers is a
// copy. All methods are safe for concurrent use.
type Account struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
	now    func() time.Time

	mu              sync.Mutex
	uid             string
	email           string
	verified        bool
	sessionToken    string // hex
	keyFetchToken   string // hex, transient
	refreshToken    string
	keyB            []byte
	scopedKeys      map[string]json.RawMessage
	accessToken     *accessToken
	profileCache    *profileCache
	lastRefreshedAt time.Time
	pending         map[string]*pendingFlow
	keyPair         *rsa.PrivateKey

	profileGroup singleflight.Group
	assertions   *gocache.Cache
}

// accessToken is the in-memory form of a cached OAuth access token.
type accessToken struct {
	token     string
	expiresAt time.Time
	scope     []string
}

// Option customizes an account handle at construction.
type Option func(*Account)

// WithHTTPClient replaces the default HTTP client used for all server
// interaction.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Account) {
		if hc != nil {
			a.client = hc
		}
	}
}

// WithLogger attaches a logger. The library is silent without one.
func WithLogger(l *zap.Logger) Option {
	return func(a *Account) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock replaces the wall-clock read used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Account) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAccount creates a handle with no authentication state. The config
// is copied; the caller's value is not referenced afterwards.
func NewAccount(cfg Config, opts ...Option) (*Account, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Account{
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     zap.NewNop(),
		now:     time.Now,
		pending: make(map[string]*pendingFlow),
		// No janitor goroutine: expiry is checked lazily on read.
		assertions: gocache.New(assertionCacheTTL, 0),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// FromCredentials creates a handle from state previously produced by
// Credentials.
func FromCredentials(cfg Config, serialized string, opts ...Option) (*Account, error) {
	a, err := NewAccount(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.restoreCredentials(serialized); err != nil {
		return nil, err
	}
	return a, nil
}

// TokenServerEndpointURL returns the Sync token server endpoint this
// account is configured against.
func (a *Account) TokenServerEndpointURL() string {
	return a.cfg.TokenServerEndpointURL
}

// UID returns the account's user id, if known.
func (a *Account) UID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uid
}

// Email returns the account's primary email, if known.
func (a *Account) Email() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.email
}

// AuthMode identifies which long-lived credential the account holds.
type AuthMode string

const (
	AuthModeNone    AuthMode = "none"
	AuthModeOAuth   AuthMode = "oauth"
	AuthModeSession AuthMode = "session"
)

// Status is a point-in-time, secret-free view of the account state,
// suitable for display.
type Status struct {
	UID      string
	Email    string
	Verified bool
	Mode     AuthMode
	HasKeys  bool

	HasAccessToken       bool
	AccessTokenScope     []string
	AccessTokenExpiresAt time.Time // zero when no expiry is known
	LastRefreshedAt      time.Time
}

// Status reports the account's current authentication state. Nothing in
// the returned value is secret or aliases the handle's state.
func (a *Account) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		UID:             a.uid,
		Email:           a.email,
		Verified:        a.verified,
		Mode:            AuthModeNone,
		HasKeys:         len(a.keyB) == syncKeyLength,
		LastRefreshedAt: a.lastRefreshedAt,
	}
	switch {
	case a.refreshToken != "":
		st.Mode = AuthModeOAuth
	case a.sessionToken != "":
		st.Mode = AuthModeSession
	}
	if a.accessToken != nil && a.accessToken.token != "" {
		st.HasAccessToken = true
		st.AccessTokenScope = append([]string(nil), a.accessToken.scope...)
		st.AccessTokenExpiresAt = a.accessToken.expiresAt
	}
	return st
}

// AccessToken returns a bearer token for the account's granted scopes,
// renewing the cached one first when it is stale and a renewal path
// exists. Fails with Unauthenticated when no token can be produced.
func (a *Account) AccessToken(ctx context.Context) (string, error) {
	return a.ensureAccessToken(ctx)
}

// tokenUsableLocked reports whether the cached access token is fresh
// enough to send. Caller holds a.mu.
func (a *Account) tokenUsableLocked() bool {
	if a.accessToken == nil || a.accessToken.token == "" {
		return false
	}
	if a.accessToken.expiresAt.IsZero() {
		return true
	}
	return a.now().Add(tokenExpiryBuffer).Before(a.accessToken.expiresAt)
}

// ensureAccessToken returns a usable bearer token, renewing the cached
// one first when it is stale and a renewal path exists.
func (a *Account) ensureAccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tokenUsableLocked() {
		return a.accessToken.token, nil
	}
	if err := a.renewAccessTokenLocked(ctx); err != nil {
		return "", err
	}
	return a.accessToken.token, nil
}
