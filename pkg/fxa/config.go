package fxa

import (
	"fmt"
	"net/url"
	"strings"
)

// Config describes one identity-provider deployment: the endpoint group
// plus the OAuth client id this application was registered under. A Config
// is copied into the account handle at construction; mutating the caller's
// copy afterwards has no effect.
type Config struct {
	// ClientID is the OAuth client id issued for this application.
	ClientID string

	// ContentURL is the user-facing content server, which hosts the
	// authorization pages (e.g. https://accounts.firefox.com).
	ContentURL string

	// AuthURL is the account auth server API base, including the
	// version prefix (e.g. https://api.accounts.firefox.com/v1).
	AuthURL string

	// OAuthURL is the OAuth server API base, including the version
	// prefix (e.g. https://oauth.accounts.firefox.com/v1).
	OAuthURL string

	// ProfileURL is the profile server API base, including the version
	// prefix (e.g. https://profile.accounts.firefox.com/v1).
	ProfileURL string

	// TokenServerEndpointURL is the Sync 1.5 token server endpoint.
	TokenServerEndpointURL string
}

// Release returns the configuration for the production Firefox Accounts
// deployment.
func Release(clientID string) Config {
	return Config{
		ClientID:               clientID,
		ContentURL:             "https://accounts.firefox.com",
		AuthURL:                "https://api.accounts.firefox.com/v1",
		OAuthURL:               "https://oauth.accounts.firefox.com/v1",
		ProfileURL:             "https://profile.accounts.firefox.com/v1",
		TokenServerEndpointURL: "https://token.services.mozilla.com/1.0/sync/1.5",
	}
}

// StableDev returns the configuration for the stable development
// deployment.
func StableDev(clientID string) Config {
	return Config{
		ClientID:               clientID,
		ContentURL:             "https://stable.dev.lcip.org",
		AuthURL:                "https://api-accounts.stable.dev.lcip.org/v1",
		OAuthURL:               "https://oauth.stable.dev.lcip.org/v1",
		ProfileURL:             "https://profile.stable.dev.lcip.org/v1",
		TokenServerEndpointURL: "https://token.stable.dev.lcip.org/1.0/sync/1.5",
	}
}

// DefaultConfig returns the configuration for a named deployment.
// Known environments are "release" and "stable-dev".
func DefaultConfig(environment, clientID string) (Config, error) {
	switch environment {
	case "release":
		return Release(clientID), nil
	case "stable-dev":
		return StableDev(clientID), nil
	default:
		return Config{}, ErrInvalidConfig(fmt.Sprintf("unknown environment %q", environment))
	}
}

// AuthorizationEndpointURL is where the user agent is sent to begin an
// OAuth flow.
func (c Config) AuthorizationEndpointURL() string {
	return joinURL(c.ContentURL, "authorization")
}

// TokenEndpointURL is the OAuth code/token exchange endpoint.
func (c Config) TokenEndpointURL() string {
	return joinURL(c.OAuthURL, "token")
}

// DestroyEndpointURL is the OAuth token revocation endpoint.
func (c Config) DestroyEndpointURL() string {
	return joinURL(c.OAuthURL, "destroy")
}

// AuthorizationGrantURL is the OAuth server's assertion-grant endpoint,
// used to mint access tokens from a session credential.
func (c Config) AuthorizationGrantURL() string {
	return joinURL(c.OAuthURL, "authorization")
}

// ProfileEndpointURL is the profile resource endpoint.
func (c Config) ProfileEndpointURL() string {
	return joinURL(c.ProfileURL, "profile")
}

// OAuthAudience is the audience value assertions for the OAuth server
// must carry: the scheme://host[:port] of the OAuth base URL.
func (c Config) OAuthAudience() (string, error) {
	return audienceOf(c.OAuthURL)
}

func audienceOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ErrInvalidConfig(fmt.Sprintf("cannot parse URL %q", rawURL))
	}
	if u.Scheme == "" || u.Host == "" {
		return "", ErrInvalidConfig(fmt.Sprintf("URL %q has no scheme or host", rawURL))
	}
	return u.Scheme + "://" + u.Host, nil
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// validate checks the config at account construction time.
func (c Config) validate() error {
	if c.ClientID == "" {
		return ErrInvalidConfig("client id must not be empty")
	}
	fields := []struct {
		name, value string
	}{
		{"content_url", c.ContentURL},
		{"auth_url", c.AuthURL},
		{"oauth_url", c.OAuthURL},
		{"profile_url", c.ProfileURL},
		{"token_server_endpoint_url", c.TokenServerEndpointURL},
	}
	for _, f := range fields {
		if f.value == "" {
			return ErrInvalidConfig(f.name + " must not be empty")
		}
		u, err := url.Parse(f.value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ErrInvalidConfig(fmt.Sprintf("%s: %q is not an absolute URL", f.name, f.value))
		}
	}
	return nil
}
