package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	v, err := NewViper("")
	require.NoError(t, err)

	cfg := NewConfig(v)
	assert.Equal(t, "gemini-1.5-flash", cfg.GeminiModel)
	assert.Equal(t, 30*time.Second, cfg.ModelTimeout)
	assert.Equal(t, time.Hour, cfg.RateCacheTTL)
	assert.Equal(t, []string{"RS256"}, cfg.AuthAlgorithms)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.Equal(t, int64(10<<20), cfg.CSVMaxBytes)
	assert.False(t, cfg.Debug)
}

func TestNewConfigDerivesIssuerAndJWKS(t *testing.T) {
	t.Setenv("AUTH0_DOMAIN", "tenant.example.com")
	t.Setenv("AUTH0_ALGORITHMS", "RS256, RS384")

	v, err := NewViper("")
	require.NoError(t, err)
	cfg := NewConfig(v)

	assert.Equal(t, "tenant.example.com", cfg.AuthDomain)
	assert.Equal(t, "https://tenant.example.com/", cfg.AuthIssuer)
	assert.Equal(t, "https://tenant.example.com/.well-known/jwks.json", cfg.AuthJWKSURL)
	assert.Equal(t, []string{"RS256", "RS384"}, cfg.AuthAlgorithms)
}

func TestNewConfigIssuerOverride(t *testing.T) {
	t.Setenv("AUTH0_ISSUER", "http://localhost:8085/")

	v, err := NewViper("")
	require.NoError(t, err)
	cfg := NewConfig(v)

	assert.Equal(t, "http://localhost:8085/", cfg.AuthIssuer)
	assert.Equal(t, "http://localhost:8085/.well-known/jwks.json", cfg.AuthJWKSURL)
}

func TestNewViperReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_API_KEY=from-file\nPORT=9001\n"), 0o600))
	t.Setenv("PORT", "9100")

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg := NewConfig(v)

	assert.Equal(t, "from-file", cfg.GeminiAPIKey)
	assert.Equal(t, "9100", cfg.Port, "environment wins over the env file")
}

func TestNewViperMissingEnvFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestKeyStatus(t *testing.T) {
	cfg := &Config{GeminiAPIKey: "k", RedisURL: "redis://x"}
	status := cfg.KeyStatus()

	assert.Equal(t, "set", status["GEMINI_API_KEY"])
	assert.Equal(t, "set", status["REDIS_URL"])
	assert.Equal(t, "missing", status["AUTH0_DOMAIN"])
	assert.Equal(t, "missing", status["AUTH0_AUDIENCE"])
}
