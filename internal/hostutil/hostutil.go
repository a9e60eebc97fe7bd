// Package hostutil provides shared utilities for server URL handling.
package hostutil

import (
	"fmt"
	"strings"
)

// Normalize converts a host string to a full URL.
// - Empty string returns empty
// - localhost/127.0.0.1 defaults to http://
// - Other bare hostnames default to https://
// - Full URLs are used as-is
func Normalize(host string) string {
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if IsLocalhost(host) {
		return "http://" + host
	}
	return "https://" + host
}

// RequireSecureURL rejects plain-http URLs unless they point at
// localhost. Account servers hand out session secrets and key
// material, so cleartext transport is only acceptable against a
// local dev stack.
func RequireSecureURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "http://") {
		return nil
	}
	host := strings.TrimPrefix(rawURL, "http://")
	if idx := strings.IndexAny(host, "/?#"); idx != -1 {
		host = host[:idx]
	}
	if IsLocalhost(host) {
		return nil
	}
	return fmt.Errorf("insecure http:// URL %q: only localhost may use plain http", rawURL)
}

// IsLocalhost returns true if host is localhost, a .localhost subdomain,
// 127.0.0.1, or [::1] (with optional port).
func IsLocalhost(host string) bool {
	// Strip port if present for easier matching
	hostWithoutPort := host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		// Check if this is IPv6 bracketed address
		if !strings.HasPrefix(host, "[") || strings.HasPrefix(host, "[::1]:") {
			hostWithoutPort = host[:idx]
		}
	}

	// Check for localhost or .localhost subdomain
	if hostWithoutPort == "localhost" || strings.HasSuffix(hostWithoutPort, ".localhost") {
		return true
	}
	if hostWithoutPort == "127.0.0.1" {
		return true
	}
	// IPv6 loopback (must be bracketed for valid URL)
	if hostWithoutPort == "[::1]" {
		return true
	}
	return false
}
