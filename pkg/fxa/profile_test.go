package fxa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profileBody = `{"uid":"uid123","email":"me@example.com","avatar":"https://img.example.com/a.png","displayName":"Me"}`

func TestProfileFetchesAndCaches(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/profile", r.URL.Path)
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `W/"v1"`)
		_, _ = w.Write([]byte(profileBody))
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.accessToken = &accessToken{token: "at-1"}

	p, err := acct.Profile(context.Background())
	require.NoError(t, err, "Profile failed")
	assert.Equal(t, "uid123", p.UID)
	assert.Equal(t, "me@example.com", p.Email)
	assert.Equal(t, "https://img.example.com/a.png", p.Avatar)
	assert.Equal(t, "Me", p.DisplayName)

	assert.Equal(t, "uid123", acct.UID(), "a fetched profile fills in account identity")
	assert.Equal(t, "me@example.com", acct.Email())
	require.NotNil(t, acct.profileCache)
	assert.Equal(t, `W/"v1"`, acct.profileCache.etag)

	again, err := acct.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p, again)
	assert.Equal(t, int32(1), requests.Load(), "the second read is served from cache")
}

func TestRefreshProfileRevalidates(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.Header().Set("ETag", `W/"v1"`)
			_, _ = w.Write([]byte(profileBody))
			return
		}
		assert.Equal(t, `W/"v1"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.accessToken = &accessToken{token: "at-1"}

	first, err := acct.Profile(context.Background())
	require.NoError(t, err)

	refreshed, err := acct.RefreshProfile(context.Background())
	require.NoError(t, err, "a 304 must serve the cached copy")
	assert.Equal(t, first, refreshed)
	assert.Equal(t, int32(2), requests.Load(), "RefreshProfile always revalidates upstream")
}

func TestProfileRenewsRejectedToken(t *testing.T) {
	var profileRequests, tokenRequests atomic.Int32
	mux := http.NewServeMux()
	// Method-qualified patterns need go1.22; guard by hand for go1.21.
	mux.HandleFunc("/v1/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		profileRequests.Add(1)
		if r.Header.Get("Authorization") != "Bearer at-new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(profileBody))
	})
	mux.HandleFunc("/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		tokenRequests.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-new",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.refreshToken = "rt-1"
	acct.accessToken = &accessToken{token: "at-revoked"}

	p, err := acct.Profile(context.Background())
	require.NoError(t, err, "a revoked token must be renewed once and the fetch retried")
	assert.Equal(t, "uid123", p.UID)
	assert.Equal(t, int32(2), profileRequests.Load())
	assert.Equal(t, int32(1), tokenRequests.Load())
	assert.Equal(t, "at-new", acct.accessToken.token)
}

func TestProfileGivesUpAfterSecondRejection(t *testing.T) {
	var profileRequests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/profile", func(w http.ResponseWriter, r *http.Request) {
		profileRequests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("POST /v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-still-bad",
			"token_type":   "bearer",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.refreshToken = "rt-1"
	acct.accessToken = &accessToken{token: "at-bad"}

	_, err = acct.Profile(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnauthenticated), "got %v", err)
	assert.Equal(t, int32(2), profileRequests.Load(), "exactly one renewal, never a retry loop")
}

func TestProfileWithoutCredentials(t *testing.T) {
	acct, err := NewAccount(testConfig("https://accounts.example.com"))
	require.NoError(t, err)

	_, err = acct.Profile(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnauthenticated))
}

func TestProfileServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.accessToken = &accessToken{token: "at-1"}

	_, err = acct.Profile(context.Background())
	require.Error(t, err)
	require.True(t, IsCode(err, CodeProfileFetchFailed), "got %v", err)

	var fxaErr *Error
	require.ErrorAs(t, err, &fxaErr)
	assert.Equal(t, http.StatusInternalServerError, fxaErr.RemoteStatus)
	assert.Equal(t, "boom", fxaErr.RemoteDetail)
}

func TestProfileUnexpected304(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.accessToken = &accessToken{token: "at-1"}

	_, err = acct.Profile(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeProfileFetchFailed))
}

func TestProfileCoalescesConcurrentFetches(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(profileBody))
	}))
	defer srv.Close()

	acct, err := NewAccount(testConfig(srv.URL))
	require.NoError(t, err)
	acct.accessToken = &accessToken{token: "at-1"}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := acct.Profile(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "uid123", p.UID)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), requests.Load(), "overlapping fetches share one request")
}
