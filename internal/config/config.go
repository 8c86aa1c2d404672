package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	GeminiAPIKey          string
	GeminiModel           string
	GeminiBaseURL         string
	ModelTimeout          time.Duration
	ModelBreakerThreshold int
	ModelBreakerCooldown  time.Duration

	RedisURL     string
	LocalDataDir string

	AuthDomain     string
	AuthAudience   string
	AuthAlgorithms []string
	AuthIssuer     string
	AuthJWKSURL    string
	JWKSCacheTTL   time.Duration

	ExchangeRateAPIURL string
	RateCacheTTL       time.Duration
	UpstreamTimeout    time.Duration
	UpstreamRetries    int

	CSVWorkers         int
	CSVMaxBytes        int64
	RateLimitRequests  int
	CORSAllowedOrigins []string

	Host            string
	Port            string
	Debug           bool
	Environment     string
	ShutdownTimeout time.Duration
}

// RequiredKeys are the settings reported by the admin health check.
var RequiredKeys = []string{"GEMINI_API_KEY", "REDIS_URL", "AUTH0_DOMAIN", "AUTH0_AUDIENCE"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("gemini_base_url", "")
	v.SetDefault("model_timeout", "30s")
	v.SetDefault("model_breaker_threshold", 5)
	v.SetDefault("model_breaker_cooldown", "30s")

	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("local_data_dir", "local_data")

	v.SetDefault("auth0_domain", "")
	v.SetDefault("auth0_audience", "")
	v.SetDefault("auth0_algorithms", "RS256")
	v.SetDefault("auth0_issuer", "")
	v.SetDefault("auth0_jwks_url", "")
	v.SetDefault("jwks_cache_ttl", "10m")

	v.SetDefault("exchange_rate_api_url", "https://api.exchangerate-api.com/v4/latest")
	v.SetDefault("rate_cache_ttl", "1h")
	v.SetDefault("upstream_timeout", "10s")
	v.SetDefault("upstream_retries", 2)

	v.SetDefault("csv_workers", 4)
	v.SetDefault("csv_max_bytes", 10<<20)
	v.SetDefault("rate_limit_requests", 30)
	v.SetDefault("cors_allowed_origins", "*")

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", "8000")
	v.SetDefault("debug", false)
	v.SetDefault("environment", "development")
	v.SetDefault("shutdown_timeout", "15s")
}

// NewViper returns a viper instance with defaults and environment binding.
// envFile is read when it exists; a missing file is not an error.
func NewViper(envFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if envFile == "" {
		return v, nil
	}
	if _, err := os.Stat(envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("stat env file: %w", err)
	}
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read env file %s: %w", envFile, err)
	}
	return v, nil
}

// NewConfig resolves the service configuration from v.
func NewConfig(v *viper.Viper) *Config {
	domain := strings.TrimSuffix(strings.TrimPrefix(v.GetString("auth0_domain"), "https://"), "/")

	issuer := v.GetString("auth0_issuer")
	if issuer == "" && domain != "" {
		issuer = fmt.Sprintf("https://%s/", domain)
	}
	jwksURL := v.GetString("auth0_jwks_url")
	if jwksURL == "" && issuer != "" {
		jwksURL = strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
	}

	return &Config{
		GeminiAPIKey:          v.GetString("gemini_api_key"),
		GeminiModel:           v.GetString("gemini_model"),
		GeminiBaseURL:         v.GetString("gemini_base_url"),
		ModelTimeout:          v.GetDuration("model_timeout"),
		ModelBreakerThreshold: v.GetInt("model_breaker_threshold"),
		ModelBreakerCooldown:  v.GetDuration("model_breaker_cooldown"),

		RedisURL:     v.GetString("redis_url"),
		LocalDataDir: v.GetString("local_data_dir"),

		AuthDomain:     domain,
		AuthAudience:   v.GetString("auth0_audience"),
		AuthAlgorithms: splitList(v.GetString("auth0_algorithms")),
		AuthIssuer:     issuer,
		AuthJWKSURL:    jwksURL,
		JWKSCacheTTL:   v.GetDuration("jwks_cache_ttl"),

		ExchangeRateAPIURL: strings.TrimSuffix(v.GetString("exchange_rate_api_url"), "/"),
		RateCacheTTL:       v.GetDuration("rate_cache_ttl"),
		UpstreamTimeout:    v.GetDuration("upstream_timeout"),
		UpstreamRetries:    v.GetInt("upstream_retries"),

		CSVWorkers:         v.GetInt("csv_workers"),
		CSVMaxBytes:        v.GetInt64("csv_max_bytes"),
		RateLimitRequests:  v.GetInt("rate_limit_requests"),
		CORSAllowedOrigins: splitList(v.GetString("cors_allowed_origins")),

		Host:            v.GetString("host"),
		Port:            v.GetString("port"),
		Debug:           v.GetBool("debug"),
		Environment:     v.GetString("environment"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// KeyStatus reports "set" or "missing" for each of RequiredKeys.
func (c *Config) KeyStatus() map[string]string {
	values := map[string]string{
		"GEMINI_API_KEY": c.GeminiAPIKey,
		"REDIS_URL":      c.RedisURL,
		"AUTH0_DOMAIN":   c.AuthDomain,
		"AUTH0_AUDIENCE": c.AuthAudience,
	}
	status := make(map[string]string, len(RequiredKeys))
	for _, key := range RequiredKeys {
		if values[key] != "" {
			status[key] = "set"
		} else {
			status[key] = "missing"
		}
	}
	return status
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
