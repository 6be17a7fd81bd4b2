// Package config provides configuration management for the AEM reporter.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full process configuration.
type Config struct {
	App      AppConfig
	Reporter ReporterConfig
	Storage  StorageConfig
	API      APIConfig
	Log      LogConfig
}

// AppConfig identifies the app towards the graph API.
type AppConfig struct {
	ID             string
	GraphURL       string
	RequestTimeout time.Duration
}

// ReporterConfig tunes attribution and aggregation.
type ReporterConfig struct {
	AggregationDelay    time.Duration
	RefreshInterval     time.Duration
	CacheClearInterval  time.Duration
	ConversionFiltering bool
	CatalogMatching     bool
	ServerRuleMatch     bool
	PriorityBoost       int
	CatalogModulus      int64
}

// StorageConfig selects the durable store (sqlite://, postgres://, redis://, memory://).
type StorageConfig struct {
	URL string
}

// APIConfig holds the local HTTP API listener settings.
type APIConfig struct {
	Host string
	Port int
}

// LogConfig selects log level and format (json or text).
type LogConfig struct {
	Level  string
	Format string
}

// Addr returns host:port.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			GraphURL:       "https://graph.facebook.com/v17.0",
			RequestTimeout: 30 * time.Second,
		},
		Reporter: ReporterConfig{
			AggregationDelay:   3 * time.Second,
			RefreshInterval:    24 * time.Hour,
			CacheClearInterval: time.Hour,
			PriorityBoost:      32,
			CatalogModulus:     8,
		},
		Storage: StorageConfig{URL: "sqlite://./data/aem.db"},
		API:     APIConfig{Host: "127.0.0.1", Port: 8080},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Environment variables holding secrets. They are never read from config files.
const (
	EnvClientToken = "AEM_CLIENT_TOKEN"
	EnvAPIToken    = "AEM_API_TOKEN"
)

// minAPITokenLength rejects guessable bearer tokens.
const minAPITokenLength = 16

// Secrets are credentials taken from the environment only.
type Secrets struct {
	// ClientToken authenticates graph API calls as "<app id>|<client token>".
	ClientToken string
	// APIToken protects the local HTTP API. Empty disables authentication.
	APIToken string
}

// LoadSecrets reads and validates AEM_CLIENT_TOKEN and AEM_API_TOKEN.
func LoadSecrets() (*Secrets, error) {
	clientToken, err := ParseClientToken(os.Getenv(EnvClientToken))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvClientToken, err)
	}
	apiToken, err := ParseAPIToken(os.Getenv(EnvAPIToken))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvAPIToken, err)
	}
	return &Secrets{ClientToken: clientToken, APIToken: apiToken}, nil
}

// ParseClientToken trims the token and rejects the "|" separator.
func ParseClientToken(envValue string) (string, error) {
	token := strings.TrimSpace(envValue)
	if strings.Contains(token, "|") {
		return "", fmt.Errorf("client token must not contain '|'")
	}
	return token, nil
}

// ParseAPIToken trims the token and enforces a minimum length when set.
func ParseAPIToken(envValue string) (string, error) {
	token := strings.TrimSpace(envValue)
	if token != "" && len(token) < minAPITokenLength {
		return "", fmt.Errorf("token must be at least %d characters, got %d", minAPITokenLength, len(token))
	}
	return token, nil
}
