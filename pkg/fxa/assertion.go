package fxa

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	// signDurationMS is the certificate lifetime requested from the
	// auth server, in the milliseconds it expects.
	signDurationMS = int64(24 * 60 * 60 * 1000)

	// assertionValidity is the signed assertion's own window. The
	// assertion cache TTL must stay inside it.
	assertionValidity = time.Hour

	browserIDKeyBits = 2048

	assertionIssuer = "127.0.0.1"
)

// Assertion produces a BrowserID assertion for the given audience from
// the stored session credential: the server-signed certificate for this
// account's public key, joined with a locally signed time-bounded token.
// Assertions are cached per audience well inside their validity window.
func (a *Account) Assertion(ctx context.Context, audience string) (string, error) {
	if audience == "" {
		return "", ErrSigningFailed("audience must not be empty", nil)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assertionLocked(ctx, audience)
}

// assertionLocked implements Assertion. Caller holds a.mu.
func (a *Account) assertionLocked(ctx context.Context, audience string) (string, error) {
	if a.sessionToken == "" {
		return "", ErrNoSessionCredential()
	}
	if cached, ok := a.assertions.Get(audience); ok {
		return cached.(string), nil
	}

	if a.keyPair == nil {
		key, err := rsa.GenerateKey(rand.Reader, browserIDKeyBits)
		if err != nil {
			return "", ErrSigningFailed("cannot generate signing key", err)
		}
		a.keyPair = key
	}

	cert, err := a.certificateSignLocked(ctx, browserIDPublicKey(&a.keyPair.PublicKey))
	if err != nil {
		return "", err
	}

	now := a.now()
	claims := jwt.MapClaims{
		// BrowserID timestamps are milliseconds.
		"iss": assertionIssuer,
		"iat": now.UnixMilli(),
		"exp": now.Add(assertionValidity).UnixMilli(),
		"aud": audience,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.keyPair)
	if err != nil {
		return "", ErrSigningFailed("cannot sign assertion", err)
	}

	assertion := cert + "~" + signed
	a.assertions.Set(audience, assertion, gocache.DefaultExpiration)

	a.log.Debug("assertion created", zap.String("audience", audience))
	return assertion, nil
}

// browserIDPublicKey is the legacy public key document the certificate
// endpoint expects: RSA parameters as base-10 strings.
func browserIDPublicKey(pub *rsa.PublicKey) map[string]string {
	return map[string]string{
		"algorithm": "RS",
		"n":         pub.N.String(),
		"e":         strconv.Itoa(pub.E),
	}
}
