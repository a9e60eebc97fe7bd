// Package config provides layered configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mozilla-services/fxa-go/internal/hostutil"
	"github.com/mozilla-services/fxa-go/pkg/fxa"
)

// DefaultTimeout bounds each command's network work when the config
// doesn't say otherwise.
const DefaultTimeout = 30 * time.Second

// Config holds the resolved configuration.
type Config struct {
	// Account server selection
	Environment string `yaml:"environment,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`

	// OAuth flow settings
	RedirectURI string   `yaml:"redirect_uri,omitempty"`
	Scopes      []string `yaml:"scopes,omitempty"`

	// Endpoint overrides for self-hosted stacks. With environment
	// "custom" they are the whole endpoint set; otherwise each one
	// replaces the preset value.
	ContentURL     string `yaml:"content_url,omitempty"`
	AuthServerURL  string `yaml:"auth_server_url,omitempty"`
	OAuthServerURL string `yaml:"oauth_server_url,omitempty"`
	ProfileURL     string `yaml:"profile_server_url,omitempty"`
	TokenServerURL string `yaml:"token_server_url,omitempty"`

	// Behavior
	Timeout string `yaml:"timeout,omitempty"` // Go duration string
	Format  string `yaml:"format,omitempty"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `yaml:"-"`

	// dir is the directory holding the global config file.
	dir string
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	ConfigDir   string
	Environment string
	Format      string
	Timeout     time.Duration
}

// Default returns the default configuration: the production deployment
// with the reference client id and an out-of-band redirect, so the tool
// works before anything is configured.
func Default() *Config {
	return &Config{
		Environment: "release",
		ClientID:    "1b1a3e44c54fbb58",
		RedirectURI: "urn:ietf:wg:oauth:2.0:oob",
		Scopes:      []string{fxa.ScopeProfile, fxa.ScopeSync},
		Timeout:     "30s",
		Format:      "auto",
		Sources:     make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	cfg.dir = overrides.ConfigDir
	if cfg.dir == "" {
		cfg.dir = GlobalConfigDir()
	}

	loadFromFile(cfg, systemConfigPath(), SourceSystem)
	loadFromFile(cfg, cfg.Path(), SourceGlobal)

	// A .env in the working directory feeds the env layer
	_ = godotenv.Load(".env")
	LoadFromEnv(cfg)

	ApplyOverrides(cfg, overrides)

	return cfg, nil
}

// fileConfig mirrors Config's persisted fields for YAML decoding.
type fileConfig struct {
	Environment    string   `yaml:"environment"`
	ClientID       string   `yaml:"client_id"`
	RedirectURI    string   `yaml:"redirect_uri"`
	Scopes         []string `yaml:"scopes"`
	ContentURL     string   `yaml:"content_url"`
	AuthServerURL  string   `yaml:"auth_server_url"`
	OAuthServerURL string   `yaml:"oauth_server_url"`
	ProfileURL     string   `yaml:"profile_server_url"`
	TokenServerURL string   `yaml:"token_server_url"`
	Timeout        string   `yaml:"timeout"`
	Format         string   `yaml:"format"`
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	set := func(dst *string, v, key string) {
		if v != "" {
			*dst = v
			cfg.Sources[key] = string(source)
		}
	}
	set(&cfg.Environment, fc.Environment, "environment")
	set(&cfg.ClientID, fc.ClientID, "client_id")
	set(&cfg.RedirectURI, fc.RedirectURI, "redirect_uri")
	set(&cfg.ContentURL, fc.ContentURL, "content_url")
	set(&cfg.AuthServerURL, fc.AuthServerURL, "auth_server_url")
	set(&cfg.OAuthServerURL, fc.OAuthServerURL, "oauth_server_url")
	set(&cfg.ProfileURL, fc.ProfileURL, "profile_server_url")
	set(&cfg.TokenServerURL, fc.TokenServerURL, "token_server_url")
	set(&cfg.Timeout, fc.Timeout, "timeout")
	set(&cfg.Format, fc.Format, "format")
	if len(fc.Scopes) > 0 {
		cfg.Scopes = fc.Scopes
		cfg.Sources["scopes"] = string(source)
	}
}

// LoadFromEnv loads configuration from FXA_* environment variables.
func LoadFromEnv(cfg *Config) {
	set := func(dst *string, envKey, key string) {
		if v := os.Getenv(envKey); v != "" {
			*dst = v
			cfg.Sources[key] = string(SourceEnv)
		}
	}
	set(&cfg.Environment, "FXA_ENVIRONMENT", "environment")
	set(&cfg.ClientID, "FXA_CLIENT_ID", "client_id")
	set(&cfg.RedirectURI, "FXA_REDIRECT_URI", "redirect_uri")
	set(&cfg.ContentURL, "FXA_CONTENT_URL", "content_url")
	set(&cfg.AuthServerURL, "FXA_AUTH_SERVER_URL", "auth_server_url")
	set(&cfg.OAuthServerURL, "FXA_OAUTH_SERVER_URL", "oauth_server_url")
	set(&cfg.ProfileURL, "FXA_PROFILE_SERVER_URL", "profile_server_url")
	set(&cfg.TokenServerURL, "FXA_TOKEN_SERVER_URL", "token_server_url")
	set(&cfg.Timeout, "FXA_TIMEOUT", "timeout")
	set(&cfg.Format, "FXA_FORMAT", "format")
	if v := os.Getenv("FXA_SCOPES"); v != "" {
		cfg.Scopes = SplitScopes(v)
		cfg.Sources["scopes"] = string(SourceEnv)
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.Environment != "" {
		cfg.Environment = o.Environment
		cfg.Sources["environment"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
	if o.Timeout > 0 {
		cfg.Timeout = o.Timeout.String()
		cfg.Sources["timeout"] = string(SourceFlag)
	}
}

// SplitScopes splits a scope list on commas and whitespace.
func SplitScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// TimeoutDuration parses the configured timeout.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return DefaultTimeout, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid timeout %q: must be positive", c.Timeout)
	}
	return d, nil
}

// AccountConfig resolves the selected environment into the account
// library's endpoint set, applying any per-endpoint overrides.
func (c *Config) AccountConfig() (fxa.Config, error) {
	var fc fxa.Config
	switch c.Environment {
	case "release", "stable-dev":
		var err error
		fc, err = fxa.DefaultConfig(c.Environment, c.ClientID)
		if err != nil {
			return fxa.Config{}, err
		}
	case "custom":
		fc = fxa.Config{ClientID: c.ClientID}
	default:
		return fxa.Config{}, fmt.Errorf("unknown environment %q (expected release, stable-dev, or custom)", c.Environment)
	}

	overrides := []struct {
		value string
		dest  *string
	}{
		{c.ContentURL, &fc.ContentURL},
		{c.AuthServerURL, &fc.AuthURL},
		{c.OAuthServerURL, &fc.OAuthURL},
		{c.ProfileURL, &fc.ProfileURL},
		{c.TokenServerURL, &fc.TokenServerEndpointURL},
	}
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		u := hostutil.Normalize(o.value)
		if err := hostutil.RequireSecureURL(u); err != nil {
			return fxa.Config{}, err
		}
		*o.dest = u
	}
	return fc, nil
}

// Dir returns the directory holding the global config file.
func (c *Config) Dir() string {
	return c.dir
}

// Path returns the global config file path.
func (c *Config) Path() string {
	return filepath.Join(c.dir, "config.yaml")
}

// Path helpers

func systemConfigPath() string {
	return "/etc/fxa/config.yaml"
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "fxa")
}
