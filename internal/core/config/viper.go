package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// Environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("app.id", d.App.ID)
	v.SetDefault("app.graph_url", d.App.GraphURL)
	v.SetDefault("app.request_timeout", d.App.RequestTimeout.String())
	v.SetDefault("reporter.aggregation_delay", d.Reporter.AggregationDelay.String())
	v.SetDefault("reporter.refresh_interval", d.Reporter.RefreshInterval.String())
	v.SetDefault("reporter.cache_clear_interval", d.Reporter.CacheClearInterval.String())
	v.SetDefault("reporter.conversion_filtering", d.Reporter.ConversionFiltering)
	v.SetDefault("reporter.catalog_matching", d.Reporter.CatalogMatching)
	v.SetDefault("reporter.server_rule_match", d.Reporter.ServerRuleMatch)
	v.SetDefault("reporter.priority_boost", d.Reporter.PriorityBoost)
	v.SetDefault("reporter.catalog_modulus", d.Reporter.CatalogModulus)
	v.SetDefault("storage.url", d.Storage.URL)
	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	// Bind environment variables with AEM_ prefix
	v.SetEnvPrefix("AEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			ID:             v.GetString("app.id"),
			GraphURL:       v.GetString("app.graph_url"),
			RequestTimeout: v.GetDuration("app.request_timeout"),
		},
		Reporter: ReporterConfig{
			AggregationDelay:    v.GetDuration("reporter.aggregation_delay"),
			RefreshInterval:     v.GetDuration("reporter.refresh_interval"),
			CacheClearInterval:  v.GetDuration("reporter.cache_clear_interval"),
			ConversionFiltering: v.GetBool("reporter.conversion_filtering"),
			CatalogMatching:     v.GetBool("reporter.catalog_matching"),
			ServerRuleMatch:     v.GetBool("reporter.server_rule_match"),
			PriorityBoost:       v.GetInt("reporter.priority_boost"),
			CatalogModulus:      v.GetInt64("reporter.catalog_modulus"),
		},
		Storage: StorageConfig{URL: v.GetString("storage.url")},
		API: APIConfig{
			Host: v.GetString("api.host"),
			Port: v.GetInt("api.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig checks ranges and required values.
func validateConfig(cfg *Config) error {
	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", cfg.API.Port)
	}
	if cfg.App.GraphURL == "" {
		return fmt.Errorf("app.graph_url must be set")
	}
	if cfg.App.RequestTimeout <= 0 {
		return fmt.Errorf("app.request_timeout must be positive, got %v", cfg.App.RequestTimeout)
	}
	if cfg.Reporter.AggregationDelay <= 0 {
		return fmt.Errorf("reporter.aggregation_delay must be positive, got %v", cfg.Reporter.AggregationDelay)
	}
	if cfg.Reporter.RefreshInterval <= 0 {
		return fmt.Errorf("reporter.refresh_interval must be positive, got %v", cfg.Reporter.RefreshInterval)
	}
	if cfg.Reporter.CacheClearInterval < 0 {
		return fmt.Errorf("reporter.cache_clear_interval must not be negative, got %v", cfg.Reporter.CacheClearInterval)
	}
	if cfg.Reporter.PriorityBoost < 0 {
		return fmt.Errorf("reporter.priority_boost must not be negative, got %d", cfg.Reporter.PriorityBoost)
	}
	if cfg.Reporter.CatalogModulus <= 0 {
		return fmt.Errorf("reporter.catalog_modulus must be positive, got %d", cfg.Reporter.CatalogModulus)
	}
	if cfg.Storage.URL == "" {
		return fmt.Errorf("storage.url must be set")
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("client_token") || v.InConfig("app.client_token") {
		return fmt.Errorf("client token not allowed in config files (use %s environment variable)", EnvClientToken)
	}
	if v.InConfig("api_token") || v.InConfig("api.token") {
		return fmt.Errorf("API token not allowed in config files (use %s environment variable)", EnvAPIToken)
	}
	return nil
}
