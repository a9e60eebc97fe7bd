package fxa

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/mozilla-services/fxa-go/internal/hawk"
	"github.com/mozilla-services/fxa-go/internal/version"
)

// quickStretchRounds is the client-side PBKDF2 iteration count of the
// onepw protocol.
const quickStretchRounds = 1000

// maxResponseBytes caps how much of any server response is read.
const maxResponseBytes = 1 << 20

// EmailStatus is the session's email verification state.
type EmailStatus struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// deriveAuthPW runs the onepw client stretch: a PBKDF2 quick-stretch of
// the password salted by the email, expanded with HKDF into the authPW
// value sent to the server. The cleartext password never goes on the
// wire.
func deriveAuthPW(email, password string) ([]byte, error) {
	quick := pbkdf2.Key([]byte(password), kwe("quickStretch", email), quickStretchRounds, 32, sha256.New)
	return deriveHKDF(quick, nil, kw("authPW"), 32)
}

// SignIn authenticates with email and password, storing the resulting
// session credential. Any OAuth token state from a previous login is
// discarded: a session credential and OAuth tokens never coexist.
func (a *Account) SignIn(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return ErrMalformedCredentials("email and password are required", nil)
	}
	authPW, err := deriveAuthPW(email, password)
	if err != nil {
		return ErrSigningFailed("cannot derive authPW", err)
	}

	body := map[string]string{
		"email":  email,
		"authPW": hex.EncodeToString(authPW),
	}
	var resp struct {
		UID           string `json:"uid"`
		SessionToken  string `json:"sessionToken"`
		KeyFetchToken string `json:"keyFetchToken"`
		Verified      bool   `json:"verified"`
	}
	if err := a.doJSON(ctx, http.MethodPost, a.authURL("account/login"), nil, body, &resp, CodeUnauthenticated); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.uid = resp.UID
	a.email = email
	a.verified = resp.Verified
	a.sessionToken = resp.SessionToken
	a.keyFetchToken = resp.KeyFetchToken
	a.refreshToken = ""
	a.accessToken = nil
	a.keyB = nil
	a.scopedKeys = nil
	a.profileCache = nil
	a.keyPair = nil
	a.assertions.Flush()

	a.log.Info("signed in", zap.String("uid", resp.UID), zap.Bool("verified", resp.Verified))
	return nil
}

// AccountStatus asks the auth server whether the account still exists.
func (a *Account) AccountStatus(ctx context.Context) (bool, error) {
	a.mu.Lock()
	uid := a.uid
	a.mu.Unlock()
	if uid == "" {
		return false, ErrUnauthenticated("account uid is not known yet")
	}

	var resp struct {
		Exists bool `json:"exists"`
	}
	u := a.authURL("account/status") + "?uid=" + url.QueryEscape(uid)
	if err := a.doJSON(ctx, http.MethodGet, u, nil, nil, &resp, CodeRemoteError); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// RecoveryEmailStatus fetches the verification state of the session's
// primary email. Requires a session credential; the request is HAWK
// signed with the session-derived key.
func (a *Account) RecoveryEmailStatus(ctx context.Context) (*EmailStatus, error) {
	a.mu.Lock()
	creds, err := a.hawkCredentialsLocked()
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var resp EmailStatus
	if err := a.doJSON(ctx, http.MethodGet, a.authURL("recovery_email/status"), &creds, nil, &resp, CodeRemoteError); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.email = resp.Email
	a.verified = resp.Verified
	a.mu.Unlock()
	return &resp, nil
}

// certificateSignLocked asks the auth server to certify a BrowserID
// public key for this session. Caller holds a.mu.
func (a *Account) certificateSignLocked(ctx context.Context, publicKey map[string]string) (string, error) {
	creds, err := a.hawkCredentialsLocked()
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"publicKey": publicKey,
		"duration":  signDurationMS,
	}
	var resp struct {
		Certificate string `json:"certificate"`
	}
	if err := a.doJSON(ctx, http.MethodPost, a.authURL("certificate/sign"), &creds, body, &resp, CodeSigningFailed); err != nil {
		return "", err
	}
	if resp.Certificate == "" {
		return "", ErrSigningFailed("server returned an empty certificate", nil)
	}
	return resp.Certificate, nil
}

// sessionGrantLocked mints an access token from the session credential:
// a BrowserID assertion for the OAuth audience, posted HAWK-signed to
// the authorization endpoint with response_type=token. Caller holds a.mu.
func (a *Account) sessionGrantLocked(ctx context.Context, scopes []string) error {
	audience, err := a.cfg.OAuthAudience()
	if err != nil {
		return err
	}
	assertion, err := a.assertionLocked(ctx, audience)
	if err != nil {
		return err
	}
	creds, err := a.hawkCredentialsLocked()
	if err != nil {
		return err
	}

	body := map[string]any{
		"assertion":     assertion,
		"client_id":     a.cfg.ClientID,
		"response_type": "token",
		"scope":         strings.Join(scopes, " "),
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := a.doJSON(ctx, http.MethodPost, a.cfg.AuthorizationGrantURL(), &creds, body, &resp, CodeTokenExchangeFailed); err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return ErrTokenExchangeFailed(0, "authorization grant returned no access token", nil)
	}

	at := &accessToken{token: resp.AccessToken, scope: scopes}
	if resp.Scope != "" {
		at.scope = strings.Fields(resp.Scope)
	}
	if resp.ExpiresIn > 0 {
		at.expiresAt = a.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC()
	}
	a.accessToken = at
	a.lastRefreshedAt = a.now().UTC()

	a.log.Debug("session grant issued access token", zap.Strings("scopes", at.scope))
	return nil
}

// hawkCredentialsLocked derives the HAWK token id and request HMAC key
// from the session token. Caller holds a.mu.
func (a *Account) hawkCredentialsLocked() (hawk.Credentials, error) {
	if a.sessionToken == "" {
		return hawk.Credentials{}, ErrNoSessionCredential()
	}
	raw, err := hex.DecodeString(a.sessionToken)
	if err != nil {
		return hawk.Credentials{}, ErrMalformedCredentials("session token is not hex", err)
	}
	key, err := deriveHKDF(raw, nil, kw("sessionToken"), 64)
	if err != nil {
		return hawk.Credentials{}, ErrSigningFailed("session key derivation failed", err)
	}
	return hawk.Credentials{ID: hex.EncodeToString(key[:32]), Key: key[32:]}, nil
}

func (a *Account) authURL(path string) string {
	return joinURL(a.cfg.AuthURL, path)
}

// doJSON runs one JSON request. creds nil sends it unsigned; non-2xx
// responses are decoded as the server's structured error body and
// surfaced under failCode with the remote details attached. No retries:
// transient failures are the caller's concern.
func (a *Account) doJSON(ctx context.Context, method, rawURL string, creds *hawk.Credentials, body, out any, failCode ErrorCode) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &Error{Code: failCode, Message: "cannot encode request body", Cause: err}
		}
	}

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return &Error{Code: failCode, Message: "cannot build request", Cause: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if creds != nil {
		hawk.Sign(*creds, req, payload, a.now())
	}

	a.log.Debug("account server request",
		zap.String("method", method),
		zap.String("url", rawURL),
		zap.Bool("hawk", creds != nil))

	resp, err := a.client.Do(req)
	if err != nil {
		if terr := ctxErr(err); terr != nil {
			return terr
		}
		return &Error{Code: failCode, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if terr := ctxErr(err); terr != nil {
			return terr
		}
		return &Error{Code: failCode, Message: "cannot read response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteFailure(failCode, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Code: failCode, Message: "cannot decode response", Cause: err}
		}
	}
	return nil
}

// remoteFailure shapes a non-success response into a typed error,
// preferring the structured {code, errno, error, message, info} body the
// account servers send.
func remoteFailure(code ErrorCode, status int, body []byte) *Error {
	e := &Error{Code: code, RemoteStatus: status}

	var re remoteError
	if err := json.Unmarshal(body, &re); err == nil && (re.Errno != 0 || re.Err != "" || re.Message != "") {
		e.RemoteErrno = re.Errno
		e.RemoteDetail = re.Message
		if e.RemoteDetail == "" {
			e.RemoteDetail = re.Err
		}
		e.Message = fmt.Sprintf("server rejected the request: %s", e.RemoteDetail)
		e.Hint = re.Info
		return e
	}

	e.RemoteDetail = strings.TrimSpace(string(body))
	e.Message = fmt.Sprintf("server returned status %d", status)
	return e
}
