package fxa

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mozilla-services/fxa-go/internal/version"
)

// Profile is the user's public account profile.
type Profile struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	Avatar      string `json:"avatar"`
	DisplayName string `json:"displayName,omitempty"`
}

// profileCache is the account's cached profile plus revalidation state.
type profileCache struct {
	profile   Profile
	etag      string
	fetchedAt time.Time
}

// Profile returns the user's profile, serving the cached copy when one
// exists. No TTL is applied; callers wanting fresh data use
// RefreshProfile.
func (a *Account) Profile(ctx context.Context) (*Profile, error) {
	a.mu.Lock()
	if a.profileCache != nil {
		p := a.profileCache.profile
		a.mu.Unlock()
		return &p, nil
	}
	a.mu.Unlock()
	return a.fetchProfile(ctx)
}

// RefreshProfile fetches the profile even when a cached copy exists,
// revalidating with the stored ETag. A 304 keeps the cached copy.
func (a *Account) RefreshProfile(ctx context.Context) (*Profile, error) {
	return a.fetchProfile(ctx)
}

// fetchProfile coalesces concurrent fetches into a single request.
func (a *Account) fetchProfile(ctx context.Context) (*Profile, error) {
	v, err, _ := a.profileGroup.Do("profile", func() (any, error) {
		return a.doFetchProfile(ctx)
	})
	if err != nil {
		return nil, err
	}
	p := v.(Profile)
	return &p, nil
}

func (a *Account) doFetchProfile(ctx context.Context) (Profile, error) {
	token, err := a.ensureAccessToken(ctx)
	if err != nil {
		return Profile{}, err
	}

	for attempt := 0; ; attempt++ {
		a.mu.Lock()
		etag := ""
		if a.profileCache != nil {
			etag = a.profileCache.etag
		}
		a.mu.Unlock()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.ProfileEndpointURL(), nil)
		if err != nil {
			return Profile{}, ErrProfileFetchFailed(0, err.Error())
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			if terr := ctxErr(err); terr != nil {
				return Profile{}, terr
			}
			return Profile{}, ErrProfileFetchFailed(0, err.Error())
		}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if readErr != nil {
			if terr := ctxErr(readErr); terr != nil {
				return Profile{}, terr
			}
			return Profile{}, ErrProfileFetchFailed(resp.StatusCode, readErr.Error())
		}

		switch {
		case resp.StatusCode == http.StatusNotModified:
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.profileCache == nil {
				return Profile{}, ErrProfileFetchFailed(resp.StatusCode, "server returned 304 with nothing cached")
			}
			a.profileCache.fetchedAt = a.now().UTC()
			return a.profileCache.profile, nil

		case resp.StatusCode == http.StatusUnauthorized:
			// One renewal attempt: the token may have been revoked
			// before its stated expiry.
			if attempt > 0 {
				return Profile{}, ErrUnauthenticated("profile server rejected the access token")
			}
			token, err = a.renewForRetry(ctx)
			if err != nil {
				return Profile{}, err
			}
			continue

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return Profile{}, ErrProfileFetchFailed(resp.StatusCode, strings.TrimSpace(string(data)))
		}

		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return Profile{}, ErrProfileFetchFailed(resp.StatusCode, "cannot parse profile body")
		}

		a.mu.Lock()
		a.profileCache = &profileCache{
			profile:   p,
			etag:      resp.Header.Get("ETag"),
			fetchedAt: a.now().UTC(),
		}
		if p.UID != "" {
			a.uid = p.UID
		}
		if p.Email != "" {
			a.email = p.Email
		}
		a.mu.Unlock()

		a.log.Debug("profile fetched", zap.String("uid", p.UID))
		return p, nil
	}
}

// renewForRetry forces a token renewal after an upstream 401.
func (a *Account) renewForRetry(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.renewAccessTokenLocked(ctx); err != nil {
		if IsCode(err, CodeUnauthenticated) {
			return "", ErrUnauthenticated("access token was rejected and cannot be renewed")
		}
		return "", err
	}
	return a.accessToken.token, nil
}
